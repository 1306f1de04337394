package resource

import (
	"errors"
	"fmt"
)

// ErrCacheConfiguration rejects attempts to cache a disallowed response
// category. The set call fails; existing cache state is untouched.
var ErrCacheConfiguration = errors.New("response category is not cacheable")

// UpstreamError reports a non-2xx status or transport failure from the
// origin resource host. It is retryable by the caller.
type UpstreamError struct {
	Status int
	Ref    Ref
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream fetch %s: %v", e.Ref, e.Err)
	}
	return fmt.Sprintf("upstream fetch %s: status %d", e.Ref, e.Status)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IntegrityError reports a checksum mismatch on archive verification.
// It is surfaced immediately and never auto-retried.
type IntegrityError struct {
	Ref  Ref
	Want string
	Got  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("archive %s checksum mismatch: want %s, got %s", e.Ref, e.Want, e.Got)
}

// QueueProcessingError reports that a worker failed to parse or persist a
// message payload. The message is retried up to the queue's max attempts and
// then dead-lettered.
type QueueProcessingError struct {
	Key string
	Err error
}

func (e *QueueProcessingError) Error() string {
	return fmt.Sprintf("process %s: %v", e.Key, e.Err)
}

func (e *QueueProcessingError) Unwrap() error { return e.Err }
