package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/glorisonglotech/omnibiz-transferd/internal/fetcher/progress"
	"github.com/glorisonglotech/omnibiz-transferd/internal/logctx"
	"github.com/glorisonglotech/omnibiz-transferd/internal/telemetry"
	"github.com/glorisonglotech/omnibiz-transferd/internal/transfer"
)

const (
	dirPerm          = 0755
	defaultChunkSize = 32 * 1024
)

// stop reasons recorded on a handle before its context is cancelled, so the
// streaming goroutine can tell a pause from a cancel from a plain shutdown.
const (
	reasonNone int32 = iota
	reasonPause
	reasonCancel
)

type handle struct {
	cancel context.CancelFunc
	reason atomic.Int32
	done   chan struct{}
}

// Fetcher performs streaming transfers. Each Start spawns one goroutine that
// drains the response body in chunks straight into a .part sink file,
// reporting every chunk into the registry. Pause and Cancel abort the
// in-flight request via the per-transfer context so the connection is
// released promptly.
type Fetcher struct {
	registry  *transfer.Registry
	client    *http.Client
	dir       string
	chunkSize int
	tel       *telemetry.Telemetry

	mu     sync.Mutex
	active map[int64]*handle
}

// New creates a fetcher that saves finished transfers under dir. A nil
// client falls back to http.DefaultClient; tel may be nil.
func New(registry *transfer.Registry, dir string, client *http.Client, chunkSize int, tel *telemetry.Telemetry) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}

	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	return &Fetcher{
		registry:  registry,
		client:    client,
		dir:       dir,
		chunkSize: chunkSize,
		tel:       tel,
		active:    make(map[int64]*handle),
	}
}

// Start begins (or restarts) streaming the transfer with the given id. The
// record must be pending, paused or errored. Paused records resume from
// their last received byte offset; errored records start over from zero.
func (f *Fetcher) Start(ctx context.Context, id int64) error {
	rec, err := f.registry.Get(id)
	if err != nil {
		return err
	}

	var offset int64

	switch rec.Status {
	case transfer.StatusPending, transfer.StatusError:
		offset = 0
	case transfer.StatusPaused:
		offset = rec.BytesReceived
	default:
		return &transfer.ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("cannot start transfer in status %s", rec.Status),
		}
	}

	f.mu.Lock()

	if _, exists := f.active[id]; exists {
		f.mu.Unlock()

		return &transfer.ValidationError{Field: "id", Reason: "transfer is already active"}
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &handle{cancel: cancel, done: make(chan struct{})}
	f.active[id] = h

	f.mu.Unlock()

	f.tel.IncrementActiveTransfers()

	go f.run(runCtx, h, id, rec.SourceURL, rec.DisplayName, offset)

	return nil
}

// Pause halts consumption of the network stream by aborting the in-flight
// request. The record keeps its byte offset and partial sink for a later
// resume.
func (f *Fetcher) Pause(id int64) error {
	f.mu.Lock()
	h, ok := f.active[id]
	f.mu.Unlock()

	if !ok {
		if _, err := f.registry.Get(id); err != nil {
			return err
		}

		return &transfer.ValidationError{Field: "id", Reason: "transfer is not active"}
	}

	h.reason.Store(reasonPause)
	h.cancel()

	return nil
}

// Resume continues a paused transfer from its last received byte offset when
// the origin supports ranged requests, otherwise the transfer restarts from
// zero and the record's resume policy says so.
func (f *Fetcher) Resume(ctx context.Context, id int64) error {
	rec, err := f.registry.Get(id)
	if err != nil {
		return err
	}

	if rec.Status != transfer.StatusPaused {
		return &transfer.ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("cannot resume transfer in status %s", rec.Status),
		}
	}

	return f.Start(ctx, id)
}

// Cancel aborts the in-flight request (releasing the connection), discards
// the partial sink and removes the record. A cancel that arrives after the
// stream already finished still removes the record and its file. It is
// idempotent; after it returns no further progress event for the id can
// land, because registry updates on a missing id are inert.
func (f *Fetcher) Cancel(id int64) error {
	f.mu.Lock()
	h, ok := f.active[id]
	f.mu.Unlock()

	if ok {
		h.reason.Store(reasonCancel)
		h.cancel()

		// The streaming goroutine owns sink cleanup and record removal,
		// unless the stream drained before the abort landed. The sweep
		// below settles that race.
		<-h.done
	}

	rec, err := f.registry.Get(id)
	if err != nil {
		return nil // already gone
	}

	_ = os.Remove(f.partPath(id))
	_ = os.Remove(f.finalPath(id, rec.DisplayName))
	f.registry.Remove(id)

	return nil
}

// Retry re-invokes start on an errored transfer, keeping the same id.
func (f *Fetcher) Retry(ctx context.Context, id int64) error {
	rec, err := f.registry.Get(id)
	if err != nil {
		return err
	}

	if rec.Status != transfer.StatusError {
		return &transfer.ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("cannot retry transfer in status %s", rec.Status),
		}
	}

	return f.Start(ctx, id)
}

// PauseAll pauses every actively downloading transfer and returns how many
// were paused.
func (f *Fetcher) PauseAll() int {
	var paused int

	for _, rec := range f.registry.List() {
		if rec.Status != transfer.StatusDownloading && rec.Status != transfer.StatusPending {
			continue
		}

		if err := f.Pause(rec.ID); err == nil {
			paused++
		}
	}

	return paused
}

// ResumeAll resumes every paused transfer and returns how many were resumed.
func (f *Fetcher) ResumeAll(ctx context.Context) int {
	var resumed int

	for _, rec := range f.registry.List() {
		if rec.Status != transfer.StatusPaused {
			continue
		}

		if err := f.Resume(ctx, rec.ID); err == nil {
			resumed++
		}
	}

	return resumed
}

// ActiveCount reports how many transfers currently hold a streaming
// goroutine.
func (f *Fetcher) ActiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.active)
}

// Wait blocks until the transfer's streaming goroutine finishes. It is a
// test and shutdown aid; transfers that were never started return
// immediately.
func (f *Fetcher) Wait(id int64) {
	f.mu.Lock()
	h, ok := f.active[id]
	f.mu.Unlock()

	if ok {
		<-h.done
	}
}

func (f *Fetcher) run(ctx context.Context, h *handle, id int64, url, displayName string, offset int64) {
	logger := logctx.LoggerFromContext(ctx).With("transfer_id", id)

	defer func() {
		f.mu.Lock()
		delete(f.active, id)
		f.mu.Unlock()

		f.tel.DecrementActiveTransfers()

		close(h.done)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		f.fail(id, &transfer.NetworkError{Operation: "fetch", Message: "invalid request", Err: err})

		return
	}

	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			f.finishAborted(ctx, h, id)

			return
		}

		f.fail(id, &transfer.NetworkError{Operation: "fetch", Message: "request failed", Err: err})

		return
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		f.fail(id, &transfer.NetworkError{
			Operation:  "fetch",
			StatusCode: resp.StatusCode,
			Message:    resp.Status,
		})

		return
	}

	resumed := offset > 0 && resp.StatusCode == http.StatusPartialContent

	var policy transfer.ResumePolicy

	if offset > 0 {
		policy = transfer.ResumeRange

		if !resumed {
			// Origin ignored the ranged request; start over from zero.
			policy = transfer.ResumeRestart
			offset = 0

			logger.Warn("origin does not support ranged requests, restarting from zero", "url", url)
		}
	}

	total := totalFromResponse(resp, offset, resumed)

	sink, err := f.openSink(id, resumed)
	if err != nil {
		f.fail(id, fmt.Errorf("failed to open sink: %w", err))

		return
	}

	status := transfer.StatusDownloading
	patch := transfer.Patch{
		Status:        &status,
		BytesReceived: &offset,
		TotalBytes:    &total,
	}

	if policy != "" {
		patch.ResumePolicy = &policy
	}

	if _, err := f.registry.Update(id, patch); err != nil {
		// Record vanished between Start and the first update.
		sink.Close()
		_ = os.Remove(f.partPath(id))

		logger.Debug("record gone before streaming began", "err", err)

		return
	}

	logger.Info("streaming transfer",
		"url", url,
		"offset", offset,
		"total", humanize.Bytes(uint64(max64(total, 0))),
	)

	pr := progress.NewReader(resp.Body, func(n int64) {
		_, _ = f.registry.Update(id, transfer.Patch{AddBytes: n})
		f.tel.AddTransferBytes(n)
	})

	buf := make([]byte, f.chunkSize)

	// The bare *os.File would make io.CopyBuffer delegate to its ReadFrom
	// and ignore buf; hiding it keeps reads at the configured chunk size.
	_, copyErr := io.CopyBuffer(struct{ io.Writer }{sink}, pr, buf)
	if closeErr := sink.Close(); copyErr == nil {
		copyErr = closeErr
	}

	if copyErr != nil {
		if ctx.Err() != nil {
			f.finishAborted(ctx, h, id)

			return
		}

		_ = os.Remove(f.partPath(id))
		f.fail(id, &transfer.NetworkError{Operation: "stream", Message: "stream interrupted", Err: copyErr})

		return
	}

	f.finalize(ctx, id, displayName, offset+pr.TotalRead())
}

// finalize hands the completed sink over to its final path and marks the
// record completed.
func (f *Fetcher) finalize(ctx context.Context, id int64, displayName string, totalRead int64) {
	logger := logctx.LoggerFromContext(ctx).With("transfer_id", id)

	finalPath := f.finalPath(id, displayName)
	if err := os.Rename(f.partPath(id), finalPath); err != nil {
		f.fail(id, fmt.Errorf("failed to persist completed transfer: %w", err))

		return
	}

	status := transfer.StatusCompleted

	// Late totals: an indeterminate transfer becomes fully determined once
	// the stream is exhausted.
	rec, err := f.registry.Update(id, transfer.Patch{Status: &status, TotalBytes: &totalRead, BytesReceived: &totalRead})
	if err != nil {
		logger.Debug("record gone at completion", "err", err)

		return
	}

	f.tel.RecordTransfer("completed")

	logger.Info("transfer completed",
		"target", finalPath,
		"size", humanize.Bytes(uint64(rec.BytesReceived)),
	)
}

// finishAborted settles a transfer whose context was cancelled. A pause
// keeps the byte offset and the partial sink; a cancel discards both and
// removes the record; anything else (process shutdown) parks the record as
// paused so a later run could resume it.
func (f *Fetcher) finishAborted(ctx context.Context, h *handle, id int64) {
	logger := logctx.LoggerFromContext(ctx).With("transfer_id", id)

	if h.reason.Load() == reasonCancel {
		_ = os.Remove(f.partPath(id))
		f.registry.Remove(id)
		f.tel.RecordTransfer("cancelled")

		logger.Info("transfer cancelled")

		return
	}

	status := transfer.StatusPaused
	if _, err := f.registry.Update(id, transfer.Patch{Status: &status}); err != nil {
		logger.Debug("record gone while pausing", "err", err)

		return
	}

	f.tel.RecordTransfer("paused")

	logger.Info("transfer paused")
}

// fail marks the record errored and discards partial bytes.
func (f *Fetcher) fail(id int64, cause error) {
	_ = os.Remove(f.partPath(id))

	status := transfer.StatusError

	var zero int64

	msg := cause.Error()

	if _, err := f.registry.Update(id, transfer.Patch{
		Status:        &status,
		BytesReceived: &zero,
		ErrorMessage:  &msg,
	}); err != nil {
		return
	}

	f.tel.RecordTransfer("error")
}

func (f *Fetcher) openSink(id int64, resumed bool) (*os.File, error) {
	if err := os.MkdirAll(f.dir, dirPerm); err != nil {
		return nil, err
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if resumed {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}

	return os.OpenFile(f.partPath(id), flags, 0644)
}

func (f *Fetcher) partPath(id int64) string {
	return filepath.Join(f.dir, fmt.Sprintf("%d.part", id))
}

func (f *Fetcher) finalPath(id int64, displayName string) string {
	name := sanitizeName(displayName)
	if name == "" {
		name = strconv.FormatInt(id, 10)
	}

	return filepath.Join(f.dir, fmt.Sprintf("%d-%s", id, name))
}

// sanitizeName strips path separators and control characters so display
// names cannot escape the download directory.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	return strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':':
			return '_'
		case r < 32:
			return -1
		default:
			return r
		}
	}, name)
}

// totalFromResponse derives the transfer's total size from response
// metadata. Ranged responses carry the full size in Content-Range; plain
// responses carry it in Content-Length; anything else is unknown.
func totalFromResponse(resp *http.Response, offset int64, resumed bool) int64 {
	if resumed {
		if total, ok := parseContentRangeTotal(resp.Header.Get("Content-Range")); ok {
			return total
		}

		if resp.ContentLength >= 0 {
			return offset + resp.ContentLength
		}

		return transfer.SizeUnknown
	}

	if resp.ContentLength > 0 {
		return resp.ContentLength
	}

	return transfer.SizeUnknown
}

// parseContentRangeTotal extracts the complete length from a header shaped
// like "bytes 100-999/1000". A "*" length means the origin does not know.
func parseContentRangeTotal(value string) (int64, bool) {
	idx := strings.LastIndexByte(value, '/')
	if idx < 0 {
		return 0, false
	}

	raw := strings.TrimSpace(value[idx+1:])
	if raw == "" || raw == "*" {
		return 0, false
	}

	total, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || total <= 0 {
		return 0, false
	}

	return total, true
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}

	return b
}
