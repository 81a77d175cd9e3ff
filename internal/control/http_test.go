package control

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

func TestHandlerStartStopStatus(t *testing.T) {
	sup := NewSupervisor(nil)
	sup.Register("wallet-1", newTestWorker(t, "wallet-1"))
	handler := NewHandler(sup)

	startReq := httptest.NewRequest(http.MethodPost, "/workers/wallet-1/start", nil)
	startRec := httptest.NewRecorder()
	handler.ServeHTTP(startRec, startReq)
	if startRec.Code != http.StatusOK {
		t.Fatalf("expected 200 starting worker, got %d: %s", startRec.Code, startRec.Body.String())
	}

	deadline := time.Now().Add(time.Second)
	var body map[string]any
	for time.Now().Before(deadline) {
		statusReq := httptest.NewRequest(http.MethodGet, "/workers/wallet-1/status", nil)
		statusRec := httptest.NewRecorder()
		handler.ServeHTTP(statusRec, statusReq)
		if statusRec.Code != http.StatusOK {
			t.Fatalf("expected 200 fetching status, got %d", statusRec.Code)
		}
		body = map[string]any{}
		if err := json.Unmarshal(statusRec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode status response: %v", err)
		}
		if body["state"] == "RUNNING" {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if body["state"] != "RUNNING" {
		t.Fatalf("expected RUNNING state, got %v", body["state"])
	}

	stopReq := httptest.NewRequest(http.MethodPost, "/workers/wallet-1/stop", nil)
	stopRec := httptest.NewRecorder()
	handler.ServeHTTP(stopRec, stopReq)
	if stopRec.Code != http.StatusOK {
		t.Fatalf("expected 200 stopping worker, got %d: %s", stopRec.Code, stopRec.Body.String())
	}
}

func TestHandlerStartUnknownWalletReturns404(t *testing.T) {
	sup := NewSupervisor(nil)
	handler := NewHandler(sup)

	req := httptest.NewRequest(http.MethodPost, "/workers/ghost/start", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown wallet, got %d", rec.Code)
	}
}

func TestHandlerStatusMethodNotAllowed(t *testing.T) {
	sup := NewSupervisor(nil)
	sup.Register("wallet-1", newTestWorker(t, "wallet-1"))
	handler := NewHandler(sup)

	req := httptest.NewRequest(http.MethodPost, "/workers/wallet-1/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHandlerMissingWalletID(t *testing.T) {
	sup := NewSupervisor(nil)
	handler := NewHandler(sup)

	req := httptest.NewRequest(http.MethodGet, "/workers/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
