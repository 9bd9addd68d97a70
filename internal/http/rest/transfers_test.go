package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glorisonglotech/omnibiz-transferd/internal/fetcher"
	"github.com/glorisonglotech/omnibiz-transferd/internal/scheduler"
	"github.com/glorisonglotech/omnibiz-transferd/internal/storage"
	"github.com/glorisonglotech/omnibiz-transferd/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHistory struct {
	records  []storage.HistoryRecord
	gotLimit int
}

func (s *stubHistory) History(limit int) ([]storage.HistoryRecord, error) {
	s.gotLimit = limit

	return s.records, nil
}

type fixture struct {
	registry  *transfer.Registry
	fetcher   *fetcher.Fetcher
	scheduler *scheduler.Scheduler
	history   *stubHistory
	routes    http.Handler
}

func newFixture(t *testing.T, origin *httptest.Server) *fixture {
	t.Helper()

	registry := transfer.NewRegistry(1024)

	var client *http.Client
	if origin != nil {
		client = origin.Client()
	}

	f := fetcher.New(registry, t.TempDir(), client, 0, nil)

	sched := scheduler.New(scheduler.RealClock(), scheduler.StarterFunc(
		func(ctx context.Context, sourceURL, displayName string) (int64, error) {
			rec := registry.Create(sourceURL, displayName)

			return rec.ID, nil
		},
	), 0, 0, 0)

	history := &stubHistory{}

	handler := NewTransferHandler(context.Background(), registry, f, sched, history)

	return &fixture{
		registry:  registry,
		fetcher:   f,
		scheduler: sched,
		history:   history,
		routes:    handler.Routes(),
	}
}

func (fx *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rr := httptest.NewRecorder()

	fx.routes.ServeHTTP(rr, req)

	return rr
}

func TestCreateTransfer(t *testing.T) {
	payload := "hello over the wire"

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(payload))
	}))
	defer origin.Close()

	fx := newFixture(t, origin)

	body := fmt.Sprintf(`{"url": %q, "display_name": "greeting"}`, origin.URL)

	rr := fx.do(http.MethodPost, "/transfers", body)
	require.Equal(t, http.StatusCreated, rr.Code)

	var rec transfer.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))

	assert.Equal(t, int64(1), rec.ID)
	assert.Equal(t, "greeting", rec.DisplayName)

	fx.fetcher.Wait(rec.ID)

	got, err := fx.registry.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusCompleted, got.Status)
	assert.Equal(t, int64(len(payload)), got.BytesReceived)
}

func TestCreateTransfer_Validation(t *testing.T) {
	fx := newFixture(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{name: "empty url", body: `{"url": ""}`},
		{name: "invalid JSON", body: `{nope`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := fx.do(http.MethodPost, "/transfers", tt.body)

			assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
			assert.Contains(t, rr.Body.String(), "error")
			assert.Empty(t, fx.registry.List(), "rejected requests create nothing")
		})
	}
}

func TestListTransfers(t *testing.T) {
	fx := newFixture(t, nil)

	fx.registry.Create("https://x/a", "a")
	fx.registry.Create("magnet:?xt=urn:btih:cafe", "b")

	rr := fx.do(http.MethodGet, "/transfers", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp ListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	require.Len(t, resp.Transfers, 2)
	assert.Equal(t, "HTTP", resp.Transfers[0].Protocol)
	assert.Equal(t, "BitTorrent", resp.Transfers[1].Protocol)
	assert.Equal(t, 2, resp.Counts.Total)
	assert.Equal(t, 2, resp.Counts.Active)
}

func TestTransferCommands_Errors(t *testing.T) {
	fx := newFixture(t, nil)

	rr := fx.do(http.MethodPost, "/transfers/999/pause", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = fx.do(http.MethodPost, "/transfers/notanid/pause", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = fx.do(http.MethodPost, "/transfers/999/retry", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCancelTransfer(t *testing.T) {
	fx := newFixture(t, nil)

	rec := fx.registry.Create("https://x/doomed", "doomed")

	rr := fx.do(http.MethodPost, fmt.Sprintf("/transfers/%d/cancel", rec.ID), "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, fx.registry.List())

	// Cancel is idempotent, a second call is still a success.
	rr = fx.do(http.MethodPost, fmt.Sprintf("/transfers/%d/cancel", rec.ID), "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestExportAndImport(t *testing.T) {
	fx := newFixture(t, nil)

	fx.registry.Create("https://x/a", "a")
	fx.registry.Create("https://x/b", "b")

	rr := fx.do(http.MethodGet, "/transfers/export", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "download-history-")

	exported := rr.Body.String()

	other := newFixture(t, nil)

	imp := other.do(http.MethodPost, "/transfers/import", exported)
	require.Equal(t, http.StatusOK, imp.Code)

	var bulk BulkResponse
	require.NoError(t, json.Unmarshal(imp.Body.Bytes(), &bulk))
	assert.Equal(t, 2, bulk.Affected)
	assert.Len(t, other.registry.List(), 2)
}

func TestImport_Malformed(t *testing.T) {
	fx := newFixture(t, nil)

	rr := fx.do(http.MethodPost, "/transfers/import", "definitely not json")

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Empty(t, fx.registry.List())
}

func TestSchedules(t *testing.T) {
	fx := newFixture(t, nil)

	at := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	body := fmt.Sprintf(`{"url": "https://x/later", "display_name": "later", "scheduled_at": %q}`, at)

	rr := fx.do(http.MethodPost, "/schedules", body)
	require.Equal(t, http.StatusCreated, rr.Code)

	var entry scheduler.Entry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entry))
	assert.Equal(t, scheduler.StatusScheduled, entry.Status)

	list := fx.do(http.MethodGet, "/schedules", "")
	require.Equal(t, http.StatusOK, list.Code)

	var entries []scheduler.Entry
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &entries))
	assert.Len(t, entries, 1)

	del := fx.do(http.MethodDelete, fmt.Sprintf("/schedules/%d", entry.ID), "")
	assert.Equal(t, http.StatusNoContent, del.Code)
	assert.Empty(t, fx.scheduler.List())
}

func TestSchedules_PastTimeRejected(t *testing.T) {
	fx := newFixture(t, nil)

	at := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	body := fmt.Sprintf(`{"url": "https://x/late", "scheduled_at": %q}`, at)

	rr := fx.do(http.MethodPost, "/schedules", body)

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Empty(t, fx.scheduler.List())
}

func TestHistory(t *testing.T) {
	fx := newFixture(t, nil)

	fx.history.records = []storage.HistoryRecord{
		{TransferID: 7, SourceURL: "https://x/done", Status: "completed", BytesReceived: 512},
	}

	rr := fx.do(http.MethodGet, "/history?limit=5", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 5, fx.history.gotLimit)

	var records []storage.HistoryRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, int64(7), records[0].TransferID)

	rr = fx.do(http.MethodGet, "/history?limit=wat", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestHistory_EmptyIsArray(t *testing.T) {
	fx := newFixture(t, nil)

	rr := fx.do(http.MethodGet, "/history", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rr.Body.String()))
}
