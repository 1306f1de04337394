package pipeline_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openscripture/helpserver/internal/clock/system"
	"github.com/openscripture/helpserver/internal/id/uuid"
	"github.com/openscripture/helpserver/internal/pipeline"
	queuememory "github.com/openscripture/helpserver/internal/queue/memory"
	"github.com/openscripture/helpserver/internal/resource"
	searchmemory "github.com/openscripture/helpserver/internal/search/memory"
	"github.com/openscripture/helpserver/internal/storage"
	storagememory "github.com/openscripture/helpserver/internal/storage/memory"
)

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newRouter(unzipQ, indexQ *queuememory.Queue) *pipeline.Router {
	return pipeline.NewRouter(unzipQ, indexQ, uuid.New(), system.New(), zap.NewNop())
}

// TestRouterRoutesBySuffix sends archives to the unzip queue, indexable
// files to the index queue, and drops everything else.
func TestRouterRoutesBySuffix(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	unzipQ := queuememory.NewQueue("unzip")
	indexQ := queuememory.NewQueue("index")
	router := newRouter(unzipQ, indexQ)

	require.NoError(t, router.HandleCreate(ctx, "org/en/tn/v1.zip"))
	require.NoError(t, router.HandleCreate(ctx, "org/en/tn/v1/intro.md"))
	require.NoError(t, router.HandleCreate(ctx, "org/en/tn/v1/tn_GEN.tsv"))
	require.NoError(t, router.HandleCreate(ctx, "cache/v3/archive/org/en/tn/v1"))
	require.NoError(t, router.HandleCreate(ctx, "org/en/tn/v1/logo.png"))

	require.Equal(t, 1, unzipQ.Depth())
	require.Equal(t, 2, indexQ.Depth())

	batch, err := unzipQ.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Equal(t, "org/en/tn/v1.zip", batch[0].Key)
	require.NotEmpty(t, batch[0].ID)
	require.False(t, batch[0].EnqueuedAt.IsZero())
}

// TestUnzipWorkerExtractsUnderArchivePrefix writes every entry back under
// the archive's derived prefix with an inferred content type.
func TestUnzipWorkerExtractsUnderArchivePrefix(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storagememory.NewStore()
	data := zipArchive(t, map[string]string{
		"intro.md":       "# Intro\nwords",
		"notes/gen.tsv":  "Reference\tID\tNote\n1:1\tabc1\tnote\n",
		"manifest.json":  `{"title":"tn"}`,
		"inner.zip":      "not really a zip",
		"../escape.usfm": `\id GEN`,
	})
	require.NoError(t, store.Put(ctx, "org/en/tn/v1.zip", "application/zip", data))

	worker := pipeline.NewUnzipWorker(store, zap.NewNop())
	require.NoError(t, worker.Handle(ctx, resource.Message{Key: "org/en/tn/v1.zip"}))

	obj, err := store.Get(ctx, "org/en/tn/v1/intro.md")
	require.NoError(t, err)
	require.Equal(t, "# Intro\nwords", string(obj.Data))
	require.Equal(t, "text/markdown; charset=utf-8", obj.ContentType)

	_, err = store.Get(ctx, "org/en/tn/v1/notes/gen.tsv")
	require.NoError(t, err)
	_, err = store.Get(ctx, "org/en/tn/v1/manifest.json")
	require.NoError(t, err)

	// Nested archives and traversal entries never land in the store.
	_, err = store.Get(ctx, "org/en/tn/v1/inner.zip")
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.Get(ctx, "escape.usfm")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// TestUnzipWorkerRejectsNonArchiveKey fails the message instead of guessing.
func TestUnzipWorkerRejectsNonArchiveKey(t *testing.T) {
	t.Parallel()

	worker := pipeline.NewUnzipWorker(storagememory.NewStore(), zap.NewNop())
	err := worker.Handle(context.Background(), resource.Message{Key: "org/en/tn/v1/intro.md"})

	var qerr *resource.QueueProcessingError
	require.ErrorAs(t, err, &qerr)
}

// TestUnzipWorkerMissingArchive surfaces the read failure for redelivery.
func TestUnzipWorkerMissingArchive(t *testing.T) {
	t.Parallel()

	worker := pipeline.NewUnzipWorker(storagememory.NewStore(), zap.NewNop())
	err := worker.Handle(context.Background(), resource.Message{Key: "org/en/tn/v1.zip"})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// TestUnzipWorkerCorruptArchive fails on bytes that are not a ZIP.
func TestUnzipWorkerCorruptArchive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storagememory.NewStore()
	require.NoError(t, store.Put(ctx, "org/en/tn/v1.zip", "application/zip", []byte("garbage")))

	worker := pipeline.NewUnzipWorker(store, zap.NewNop())
	require.Error(t, worker.Handle(ctx, resource.Message{Key: "org/en/tn/v1.zip"}))
}

// TestIndexWorkerIndexesExtractedFile parses one file and upserts its
// documents with the owning ref's identity.
func TestIndexWorkerIndexesExtractedFile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storagememory.NewStore()
	index := searchmemory.NewStore()
	key := "org/en/tn/v1/intro.md"
	require.NoError(t, store.Put(ctx, key, "text/markdown", []byte("# Greeting\nhello world")))

	worker := pipeline.NewIndexWorker(store, index, zap.NewNop())
	require.NoError(t, worker.Handle(ctx, resource.Message{Key: key}))

	docs, err := index.Search(ctx, "hello", 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "org/en/tn/v1.zip", docs[0].ArchiveKey)
	require.Equal(t, "intro.md", docs[0].FilePath)
	require.Equal(t, "tn", docs[0].Resource)
	require.Equal(t, "en", docs[0].Language)
}

// TestIndexWorkerRedeliveryIsIdempotent leaves the document count unchanged
// when the same message is handled twice.
func TestIndexWorkerRedeliveryIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storagememory.NewStore()
	index := searchmemory.NewStore()
	key := "org/en/tn/v1/intro.md"
	require.NoError(t, store.Put(ctx, key, "text/markdown", []byte("# Greeting\nhello world")))

	worker := pipeline.NewIndexWorker(store, index, zap.NewNop())
	require.NoError(t, worker.Handle(ctx, resource.Message{Key: key}))
	require.NoError(t, worker.Handle(ctx, resource.Message{Key: key}))

	n, err := index.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

// TestIndexWorkerMalformedKey rejects keys that do not carry a full ref.
func TestIndexWorkerMalformedKey(t *testing.T) {
	t.Parallel()

	worker := pipeline.NewIndexWorker(storagememory.NewStore(), searchmemory.NewStore(), zap.NewNop())
	for _, key := range []string{"intro.md", "org/en/tn/intro.md", "org/en/tn/v1/"} {
		err := worker.Handle(context.Background(), resource.Message{Key: key})
		var qerr *resource.QueueProcessingError
		require.ErrorAs(t, err, &qerr, "key %q", key)
	}
}

type scriptedHandler struct {
	mu       sync.Mutex
	failures map[string]int
	handled  map[string]int
}

func newScriptedHandler(failures map[string]int) *scriptedHandler {
	return &scriptedHandler{failures: failures, handled: map[string]int{}}
}

func (h *scriptedHandler) Handle(_ context.Context, msg resource.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled[msg.Key]++
	if h.failures[msg.Key] > 0 {
		h.failures[msg.Key]--
		return errors.New("scripted failure")
	}
	return nil
}

func (h *scriptedHandler) count(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handled[key]
}

func runnerConfig() pipeline.RunnerConfig {
	return pipeline.RunnerConfig{
		BatchSize:   4,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
	}
}

// TestRunnerAcksSuccess drains the queue without touching the dead-letter
// queue.
func TestRunnerAcksSuccess(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queuememory.NewQueue("work")
	dlq := queuememory.NewQueue("work-dlq")
	handler := newScriptedHandler(nil)
	runner := pipeline.NewRunner(q, dlq, handler, runnerConfig(), zap.NewNop())

	require.NoError(t, q.Enqueue(ctx, resource.Message{Key: "a"}))
	require.NoError(t, q.Enqueue(ctx, resource.Message{Key: "b"}))
	go runner.Run(ctx)

	require.Eventually(t, func() bool {
		return q.Depth() == 0 && q.Inflight() == 0
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 1, handler.count("a"))
	require.Equal(t, 1, handler.count("b"))
	require.Equal(t, 0, dlq.Depth())
}

// TestRunnerRetriesThenSucceeds redelivers a failed message with backoff
// until the handler accepts it.
func TestRunnerRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queuememory.NewQueue("work")
	dlq := queuememory.NewQueue("work-dlq")
	handler := newScriptedHandler(map[string]int{"flaky": 2})
	runner := pipeline.NewRunner(q, dlq, handler, runnerConfig(), zap.NewNop())

	require.NoError(t, q.Enqueue(ctx, resource.Message{Key: "flaky"}))
	go runner.Run(ctx)

	require.Eventually(t, func() bool {
		return q.Depth() == 0 && q.Inflight() == 0
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 3, handler.count("flaky"))
	require.Equal(t, 0, dlq.Depth())
}

// TestRunnerDeadLettersExhaustedMessage moves a persistently failing message
// to the dead-letter queue while an unrelated message still completes.
func TestRunnerDeadLettersExhaustedMessage(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queuememory.NewQueue("work")
	dlq := queuememory.NewQueue("work-dlq")
	handler := newScriptedHandler(map[string]int{"poison": 100})
	runner := pipeline.NewRunner(q, dlq, handler, runnerConfig(), zap.NewNop())

	require.NoError(t, q.Enqueue(ctx, resource.Message{Key: "poison"}))
	require.NoError(t, q.Enqueue(ctx, resource.Message{Key: "healthy"}))
	go runner.Run(ctx)

	require.Eventually(t, func() bool {
		return dlq.Depth() == 1 && q.Depth() == 0 && q.Inflight() == 0
	}, 2*time.Second, 5*time.Millisecond)

	batch, err := dlq.Receive(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "poison", batch[0].Key)
	require.Equal(t, 3, handler.count("poison"))
	require.Equal(t, 1, handler.count("healthy"))
}

// flakyQueue fails the first few enqueues, simulating a transient outage on
// the target topic.
type flakyQueue struct {
	*queuememory.Queue

	mu       sync.Mutex
	failures int
}

func (q *flakyQueue) Enqueue(ctx context.Context, msg resource.Message) error {
	q.mu.Lock()
	if q.failures > 0 {
		q.failures--
		q.mu.Unlock()
		return errors.New("topic unavailable")
	}
	q.mu.Unlock()
	return q.Queue.Enqueue(ctx, msg)
}

// TestEventSourceRedeliversFailedRoutes nacks a create event whose target
// enqueue failed, so the route lands once the outage passes.
func TestEventSourceRedeliversFailedRoutes(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	unzipQ := &flakyQueue{Queue: queuememory.NewQueue("unzip"), failures: 2}
	indexQ := queuememory.NewQueue("index")
	eventsQ := queuememory.NewQueue("events")
	router := pipeline.NewRouter(unzipQ, indexQ, uuid.New(), system.New(), zap.NewNop())
	source := pipeline.NewEventSource(eventsQ, router, zap.NewNop())
	go source.Run(ctx)

	require.NoError(t, eventsQ.Enqueue(ctx, resource.Message{Key: "org/en/tn/v1.zip"}))

	require.Eventually(t, func() bool {
		return unzipQ.Depth() == 1 && eventsQ.Depth() == 0 && eventsQ.Inflight() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

// TestEventSourceAcksUndecodablePayloads drops malformed notifications
// instead of redelivering them forever.
func TestEventSourceAcksUndecodablePayloads(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	unzipQ := queuememory.NewQueue("unzip")
	indexQ := queuememory.NewQueue("index")
	eventsQ := queuememory.NewQueue("events")
	source := pipeline.NewEventSource(eventsQ, newRouter(unzipQ, indexQ), zap.NewNop())
	go source.Run(ctx)

	require.NoError(t, eventsQ.Enqueue(ctx, resource.Message{Key: `{broken`}))
	require.NoError(t, eventsQ.Enqueue(ctx, resource.Message{Key: `{"bucket":"helps"}`}))

	require.Eventually(t, func() bool {
		return eventsQ.Depth() == 0 && eventsQ.Inflight() == 0
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 0, unzipQ.Depth())
	require.Equal(t, 0, indexQ.Depth())
}

// TestRunnerRetryDelayDoesNotStallQueue keeps later unrelated messages
// flowing while a failed one waits out its backoff.
func TestRunnerRetryDelayDoesNotStallQueue(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queuememory.NewQueue("work")
	dlq := queuememory.NewQueue("work-dlq")
	handler := newScriptedHandler(map[string]int{"poison": 100})
	cfg := pipeline.RunnerConfig{
		BatchSize:   4,
		MaxAttempts: 5,
		BackoffBase: time.Minute,
		BackoffMax:  time.Minute,
	}
	go pipeline.NewRunner(q, dlq, handler, cfg, zap.NewNop()).Run(ctx)

	require.NoError(t, q.Enqueue(ctx, resource.Message{Key: "poison"}))
	require.Eventually(t, func() bool {
		return handler.count("poison") == 1
	}, 2*time.Second, 5*time.Millisecond)

	// The poison message now sits in its minute-long backoff. A message
	// enqueued behind it must still process promptly.
	require.NoError(t, q.Enqueue(ctx, resource.Message{Key: "healthy"}))
	require.Eventually(t, func() bool {
		return handler.count("healthy") == 1
	}, 2*time.Second, 5*time.Millisecond)
}

// TestEventSourceHandlePayloads accepts bare keys and notification JSON and
// rejects undecodable payloads.
func TestEventSourceHandlePayloads(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	unzipQ := queuememory.NewQueue("unzip")
	indexQ := queuememory.NewQueue("index")
	source := pipeline.NewEventSource(queuememory.NewQueue("events"), newRouter(unzipQ, indexQ), zap.NewNop())

	require.NoError(t, source.Handle(ctx, resource.Message{Key: "org/en/tn/v1.zip"}))
	require.NoError(t, source.Handle(ctx, resource.Message{Key: `{"name":"org/en/tn/v1/intro.md","bucket":"helps"}`}))
	require.Equal(t, 1, unzipQ.Depth())
	require.Equal(t, 1, indexQ.Depth())

	require.Error(t, source.Handle(ctx, resource.Message{Key: `{"bucket":"helps"}`}))
	require.Error(t, source.Handle(ctx, resource.Message{Key: `{broken`}))
}

// TestPipelineEndToEnd stores an archive through a hooked store and waits
// for the routed unzip and index workers to populate the search index.
// Re-storing the identical archive reprocesses without duplicating
// documents.
func TestPipelineEndToEnd(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := storage.WithHooks(storagememory.NewStore())
	index := searchmemory.NewStore()
	unzipQ := queuememory.NewQueue("unzip")
	indexQ := queuememory.NewQueue("index")
	unzipDLQ := queuememory.NewQueue("unzip-dlq")
	indexDLQ := queuememory.NewQueue("index-dlq")

	router := newRouter(unzipQ, indexQ)
	store.Subscribe(func(key string) {
		_ = router.HandleCreate(ctx, key)
	})

	go pipeline.NewRunner(unzipQ, unzipDLQ, pipeline.NewUnzipWorker(store, zap.NewNop()), runnerConfig(), zap.NewNop()).Run(ctx)
	go pipeline.NewRunner(indexQ, indexDLQ, pipeline.NewIndexWorker(store, index, zap.NewNop()), runnerConfig(), zap.NewNop()).Run(ctx)

	data := zipArchive(t, map[string]string{
		"intro.md":      "# Intro\nsearchable words",
		"notes/gen.tsv": "Reference\tID\tNote\n1:1\tabc1\tin the beginning\n",
	})
	require.NoError(t, store.Put(ctx, "org/en/tn/v1.zip", "application/zip", data))

	require.Eventually(t, func() bool {
		n, err := index.Count(ctx)
		return err == nil && n == 2
	}, 5*time.Second, 10*time.Millisecond)

	docs, err := index.Search(ctx, "beginning", 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "notes/gen.tsv", docs[0].FilePath)

	// Same archive again: every stage is idempotent, so the index settles
	// back at the same document count.
	require.NoError(t, store.Put(ctx, "org/en/tn/v1.zip", "application/zip", data))
	require.Eventually(t, func() bool {
		return unzipQ.Depth() == 0 && unzipQ.Inflight() == 0 &&
			indexQ.Depth() == 0 && indexQ.Inflight() == 0
	}, 5*time.Second, 10*time.Millisecond)

	n, err := index.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
