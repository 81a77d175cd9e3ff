package control

import (
	"context"
	"errors"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
)

const workersPath = "/workers/"

// NewHandler exposes the Supervisor surface over HTTP:
// POST /workers/{walletId}/start, POST /workers/{walletId}/stop,
// GET /workers/{walletId}/status.
func NewHandler(sup *Supervisor) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(workersPath, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleWorkerRequest(w, r, sup)
	}))
	return mux
}

func handleWorkerRequest(w http.ResponseWriter, r *http.Request, sup *Supervisor) {
	rest := strings.TrimPrefix(r.URL.Path, workersPath)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		writeError(w, http.StatusNotFound, "wallet id required")
		return
	}

	walletID, action, hasAction := strings.Cut(rest, "/")
	walletID = strings.TrimSpace(walletID)
	if walletID == "" {
		writeError(w, http.StatusNotFound, "wallet id required")
		return
	}
	if !hasAction {
		writeError(w, http.StatusNotFound, "unsupported action")
		return
	}
	action = strings.TrimSpace(action)

	switch {
	case action == "start" && r.Method == http.MethodPost:
		handleStart(w, r.Context(), sup, walletID)
	case action == "stop" && r.Method == http.MethodPost:
		handleStop(w, sup, walletID)
	case action == "status" && r.Method == http.MethodGet:
		handleStatus(w, sup, walletID)
	case action == "start" || action == "stop":
		methodNotAllowed(w, http.MethodPost)
	case action == "status":
		methodNotAllowed(w, http.MethodGet)
	default:
		writeError(w, http.StatusNotFound, "unsupported action")
	}
}

func handleStart(w http.ResponseWriter, ctx context.Context, sup *Supervisor, walletID string) {
	if err := sup.StartWorker(ctx, walletID); err != nil {
		writeSupervisorError(w, err)
		return
	}
	writeStatus(w, sup, walletID, http.StatusOK)
}

func handleStop(w http.ResponseWriter, sup *Supervisor, walletID string) {
	if err := sup.StopWorker(walletID, true); err != nil {
		writeSupervisorError(w, err)
		return
	}
	writeStatus(w, sup, walletID, http.StatusOK)
}

func handleStatus(w http.ResponseWriter, sup *Supervisor, walletID string) {
	writeStatus(w, sup, walletID, http.StatusOK)
}

func writeStatus(w http.ResponseWriter, sup *Supervisor, walletID string, okStatus int) {
	report, err := sup.WorkerStatus(walletID)
	if err != nil {
		writeSupervisorError(w, err)
		return
	}
	writeJSON(w, okStatus, map[string]any{
		"walletId":    report.WalletID,
		"state":       report.State,
		"uptime":      report.Uptime().String(),
		"lastCycleAt": report.LastCycleAt,
		"lastError":   report.LastError,
	})
}

func writeSupervisorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrWalletNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadyRunning), errors.Is(err, ErrNotRunning):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}
