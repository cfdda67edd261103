package controlapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/zdmr/zdmr/pkg/zdmr"
	"github.com/zdmr/zdmr/pkg/zdmr/store"
)

const testToken = "test-token-0123456789"

// newTestServer builds a Server backed by a real sqlite store under a
// fresh temp directory, with the Engine stopped immediately so Add/
// AddBatch persist rows without spawning real network transfers.
func newTestServer(t *testing.T) (*Server, *store.DB) {
	t.Helper()
	db, err := store.Open(t.Context(), filepath.Join(t.TempDir(), "zdmr.sqlite3"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	bus := zdmr.NewBus()
	engine := zdmr.NewEngine(zdmr.EngineOpts{
		Limiter: zdmr.NewLimiter(0),
		Store:   db,
		Progress: bus,
		TempDir: t.TempDir(),
	})
	engine.Stop() // prevent background admission from running real transfers

	return New(engine, bus, testToken), db
}

func authedRequest(method, target string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	return req
}

func TestRequireToken_RejectsMissingToken(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/downloads", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireToken_AcceptsXZDMRTokenHeader(t *testing.T) {
	s, _ := newTestServer(t)
	body := createDownloadsRequest{URLs: []string{"https://example.com/file.zip"}, DestDir: "/tmp"}
	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(body)
	req := httptest.NewRequest(http.MethodPost, "/downloads", &buf)
	req.Header.Set("X-ZDMR-Token", testToken)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}
}

func TestRequireToken_RejectsWrongToken(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/downloads", bytes.NewBufferString(`{}`))
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestHandleCreateDownloads_Success(t *testing.T) {
	s, _ := newTestServer(t)
	req := authedRequest(http.MethodPost, "/downloads", createDownloadsRequest{
		URLs:    []string{"https://example.com/a.zip", "https://example.com/b.zip"},
		DestDir: "/tmp/downloads",
	})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}
	var resp createDownloadsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.IDs) != 2 {
		t.Errorf("got %d ids, want 2", len(resp.IDs))
	}
}

func TestHandleCreateDownloads_RejectsNoValidURLs(t *testing.T) {
	s, _ := newTestServer(t)
	req := authedRequest(http.MethodPost, "/downloads", createDownloadsRequest{
		URLs:    []string{"ftp://example.com/a.zip"},
		DestDir: "/tmp",
	})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleCreateDownloads_RejectsMalformedBody(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/downloads", bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleCreateBatch_MergesURLsAndRawList(t *testing.T) {
	s, _ := newTestServer(t)
	req := authedRequest(http.MethodPost, "/batches", createBatchRequest{
		Name:       "my-batch",
		DestDir:    "/tmp/downloads",
		URLs:       []string{"https://example.com/a.zip"},
		RawURLList: "https://example.com/b.zip\nhttps://example.com/c.zip\nnot-a-url",
	})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}
	var resp createBatchResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.IDs) != 3 {
		t.Errorf("got %d ids, want 3 (1 from urls + 2 valid from raw_url_list)", len(resp.IDs))
	}
	if resp.BatchID == "" {
		t.Error("batch_id should not be empty")
	}
}

func TestHandleCreateBatch_RequiresDestDir(t *testing.T) {
	s, _ := newTestServer(t)
	req := authedRequest(http.MethodPost, "/batches", createBatchRequest{
		URLs: []string{"https://example.com/a.zip"},
	})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func addOneDownload(t *testing.T, s *Server) string {
	t.Helper()
	req := authedRequest(http.MethodPost, "/downloads", createDownloadsRequest{
		URLs:    []string{"https://example.com/a.zip"},
		DestDir: "/tmp/downloads",
	})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	var resp createDownloadsResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	return resp.IDs[0]
}

func TestHandlePause_IdempotentOnAlreadyPaused(t *testing.T) {
	s, db := newTestServer(t)
	id := addOneDownload(t, s)

	d, err := db.LoadDownload(t.Context(), id)
	if err != nil {
		t.Fatal(err)
	}
	d.Status = zdmr.StatusPaused
	if err := db.SaveDownload(t.Context(), d); err != nil {
		t.Fatal(err)
	}

	req := authedRequest(http.MethodPost, "/downloads/"+id+"/pause", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("pausing an already-paused download (§4.9 idempotency): status = %d, want 204", rec.Code)
	}
}

func TestHandlePauseResume_UnknownIDReturns404(t *testing.T) {
	s, _ := newTestServer(t)
	req := authedRequest(http.MethodPost, "/downloads/does-not-exist/pause", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}

	req = authedRequest(http.MethodPost, "/downloads/does-not-exist/resume", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("resume status = %d, want 404", rec.Code)
	}
}

func TestHandleDelete_RemovesDownload(t *testing.T) {
	s, db := newTestServer(t)
	id := addOneDownload(t, s)

	req := authedRequest(http.MethodDelete, "/downloads/"+id, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	if _, err := db.LoadDownload(t.Context(), id); err != zdmr.ErrDownloadNotFound {
		t.Errorf("got %v, want ErrDownloadNotFound after delete", err)
	}
}

func TestHandleRetry_RejectsNonErrorDownload(t *testing.T) {
	s, _ := newTestServer(t)
	id := addOneDownload(t, s) // still QUEUED

	req := authedRequest(http.MethodPost, "/downloads/"+id+"/retry", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409 for retrying a non-ERROR download", rec.Code)
	}
}
