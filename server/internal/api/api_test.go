package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"alvr/server/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "alvr.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestListAndSetTrusted(t *testing.T) {
	s := newTestServer(t)
	if err := s.store.UpsertClientSeen("0001.client.alvr", "Quest 3"); err != nil {
		t.Fatalf("seed client: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/clients", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var views []clientView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 || views[0].Trusted {
		t.Fatalf("expected one untrusted client, got %+v", views)
	}

	body, _ := json.Marshal(setTrustedRequest{Trusted: true})
	req = httptest.NewRequest(http.MethodPut, "/api/clients/0001.client.alvr/trusted", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d body=%s", rec.Code, rec.Body.String())
	}

	row, err := s.store.GetClient("0001.client.alvr")
	if err != nil {
		t.Fatalf("get client: %v", err)
	}
	if !row.Trusted {
		t.Fatalf("expected client to be trusted")
	}
}

func TestSetTrustedUnknownHostnameReturns404(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(setTrustedRequest{Trusted: true})
	req := httptest.NewRequest(http.MethodPut, "/api/clients/9999.client.alvr/trusted", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAddManualIPRequiresIP(t *testing.T) {
	s := newTestServer(t)
	if err := s.store.UpsertClientSeen("0001.client.alvr", ""); err != nil {
		t.Fatalf("seed client: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/clients/0001.client.alvr/manual-ips", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
