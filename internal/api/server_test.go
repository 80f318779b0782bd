package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bestseller-crawler/internal/crawler"
	"github.com/JakeFAU/bestseller-crawler/internal/storage/memory"
	"github.com/JakeFAU/bestseller-crawler/internal/trigger"
)

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, &fakePipeline{}, Options{})
	rec := serve(server, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, &fakePipeline{}, Options{})
	require.Equal(t, http.StatusOK, serve(server, http.MethodGet, "/readyz", nil).Code)

	failing, _ := newTestServer(t, &fakePipeline{}, Options{
		Ready: func(context.Context) error { return errors.New("db down") },
	})
	rec := serve(failing, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "not ready")
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, &fakePipeline{}, Options{})
	serve(server, http.MethodGet, "/healthz", nil)
	rec := serve(server, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_ListBestsellers(t *testing.T) {
	t.Parallel()

	server, store := newTestServer(t, &fakePipeline{}, Options{})

	rec := serve(server, http.MethodGet, "/v1/bestsellers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"count":0,"books":[]}`, rec.Body.String())

	require.NoError(t, store.SaveBestsellers(context.Background(), []crawler.BookRecord{
		{Title: "Second", ISBN: "2", Ranking: 2},
		{Title: "First", ISBN: "1", Ranking: 1},
	}))
	rec = serve(server, http.MethodGet, "/v1/bestsellers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body bestsellersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	require.Equal(t, "First", body.Books[0].Title)
	require.Equal(t, 1, *body.Books[0].Ranking)
}

func TestServer_ListBestsellersStoreError(t *testing.T) {
	t.Parallel()

	server := NewServer(failingStore{}, trigger.NewRunner(&fakePipeline{}, nil), Options{}, zap.NewNop())
	rec := serve(server, http.MethodGet, "/v1/bestsellers", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_TriggerRun(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, &fakePipeline{report: crawler.RunReport{ID: "run-1", Retained: 100}}, Options{})

	rec := serve(server, http.MethodGet, "/v1/runs/last", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(server, http.MethodPost, "/v1/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report crawler.RunReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, "run-1", report.ID)
	require.Equal(t, 100, report.Retained)

	rec = serve(server, http.MethodGet, "/v1/runs/last", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var last trigger.LastRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &last))
	require.Equal(t, "run-1", last.Report.ID)
}

func TestServer_TriggerRunFailure(t *testing.T) {
	t.Parallel()

	pipeline := &fakePipeline{
		report: crawler.RunReport{ID: "run-9"},
		err:    fmt.Errorf("discover links: %w", crawler.ErrDiscovery),
	}
	server, _ := newTestServer(t, pipeline, Options{})

	rec := serve(server, http.MethodPost, "/v1/runs", nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	var body runFailure
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body.Error, "discover links")
	require.Equal(t, "run-9", body.Report.ID)
}

func TestServer_TriggerRunConflict(t *testing.T) {
	t.Parallel()

	server := NewServer(memory.NewRankingStore(), busyTrigger{}, Options{}, zap.NewNop())
	rec := serve(server, http.MethodPost, "/v1/runs", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "already in progress")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, &fakePipeline{}, Options{APIKey: "secret"})

	require.Equal(t, http.StatusOK, serve(server, http.MethodGet, "/healthz", nil).Code)

	rec := serve(server, http.MethodPost, "/v1/runs", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(server, http.MethodPost, "/v1/runs", map[string]string{"X-API-Key": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(server, http.MethodPost, "/v1/runs?api_key=secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	server := NewServer(memory.NewRankingStore(), panickyTrigger{}, Options{}, zap.NewNop())
	rec := serve(server, http.MethodPost, "/v1/runs", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, &fakePipeline{}, Options{})
	rec := serve(server, http.MethodGet, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(server, http.MethodGet, "/healthz", map[string]string{"X-Request-ID": "abc"})
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
	require.NotNil(t, buf)
}

// --- helpers/fakes ---

type fakePipeline struct {
	report crawler.RunReport
	err    error
}

func (p *fakePipeline) Run(context.Context) (crawler.RunReport, error) {
	return p.report, p.err
}

type busyTrigger struct{}

func (busyTrigger) RunOnce(context.Context) (crawler.RunReport, error) {
	return crawler.RunReport{}, trigger.ErrRunInProgress
}

func (busyTrigger) Last() (trigger.LastRun, bool) { return trigger.LastRun{}, false }

type panickyTrigger struct{ busyTrigger }

func (panickyTrigger) RunOnce(context.Context) (crawler.RunReport, error) {
	panic("boom")
}

type failingStore struct{}

func (failingStore) SaveBestsellers(context.Context, []crawler.BookRecord) error {
	return errors.New("unavailable")
}

func (failingStore) ListRanked(context.Context) ([]crawler.StoredBook, error) {
	return nil, errors.New("unavailable")
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

func newTestServer(t *testing.T, pipeline trigger.Pipeline, opts Options) (*Server, *memory.RankingStore) {
	t.Helper()
	store := memory.NewRankingStore()
	return NewServer(store, trigger.NewRunner(pipeline, nil), opts, zap.NewNop()), store
}

func serve(server *Server, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}
