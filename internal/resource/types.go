// Package resource defines core types shared across subsystems.
package resource

import (
	"fmt"
	"strings"
	"time"
)

// Ref identifies one published resource: an organization's release of a
// resource type in one language at one version, e.g. unfoldingWord/en/tn/v1.
type Ref struct {
	Organization string `json:"organization"`
	Language     string `json:"language"`
	Resource     string `json:"resource"`
	Version      string `json:"version"`
}

// String renders the canonical org/lang/resource/version form.
func (r Ref) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", r.Organization, r.Language, r.Resource, r.Version)
}

// Validate enforces that every component is present.
func (r Ref) Validate() error {
	if r.Organization == "" || r.Language == "" || r.Resource == "" || r.Version == "" {
		return fmt.Errorf("incomplete ref %q: all of organization, language, resource, version are required", r)
	}
	return nil
}

// ArchiveKey is the deterministic object-store key for the ref's ZIP bytes.
func (r Ref) ArchiveKey() string {
	return r.String() + ".zip"
}

// PrefixKey is the object-store prefix under which extracted files live.
func (r Ref) PrefixKey() string {
	return r.String() + "/"
}

// ParseRef parses the canonical org/lang/resource/version form.
func ParseRef(s string) (Ref, error) {
	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) != 4 {
		return Ref{}, fmt.Errorf("malformed ref %q: want org/lang/resource/version", s)
	}
	ref := Ref{
		Organization: parts[0],
		Language:     parts[1],
		Resource:     parts[2],
		Version:      parts[3],
	}
	if err := ref.Validate(); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

// Archive is one ZIP-packaged resource release.
type Archive struct {
	Ref      Ref
	Data     []byte
	Checksum string
	Manifest []string
}

// ExtractedFile is one file taken out of an archive and stored individually.
type ExtractedFile struct {
	ArchiveKey  string
	Path        string
	ContentType ContentType
	Data        []byte
}

// IndexDocument is the unit of searchable content derived from an extracted
// file. Identity is (ArchiveKey, FilePath, EntryID); upserts by that key are
// idempotent under reprocessing.
type IndexDocument struct {
	ArchiveKey string `json:"archive_key"`
	FilePath   string `json:"file_path"`
	EntryID    string `json:"entry_id"`
	Resource   string `json:"resource"`
	Language   string `json:"language"`
	Reference  string `json:"reference"`
	Text       string `json:"text"`
}

// Message is one queue delivery: an object key plus the delivery-attempt
// counter carried in message metadata. Attempts starts at 1 on the first
// delivery and increments on every redelivery.
type Message struct {
	ID         string    `json:"id"`
	Key        string    `json:"key"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
