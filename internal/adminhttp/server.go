// Package adminhttp is clipforge-admin's thin HTTP surface (readiness
// and stats JSON), separate from the worker's own obs.StartHTTPServer
// so an operator can run the admin binary as a long-lived sidecar
// without standing up a full worker.
package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/clipforge/pipeline/internal/admin"
	"github.com/clipforge/pipeline/internal/queue"
)

// New builds the admin HTTP handler: GET /healthz for liveness and
// GET /stats for the same per-kind queued-job depth report
// clipforge-admin's -admin-cmd stats prints to stdout.
func New(eng *queue.Engine) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/stats", handleStats(eng)).Methods(http.MethodGet)
	return r
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleStats(eng *queue.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := admin.Stats(r.Context(), eng)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	}
}

// ListenAndServe runs the admin HTTP server until ctx is canceled.
func ListenAndServe(ctx context.Context, addr string, eng *queue.Engine) error {
	srv := &http.Server{Addr: addr, Handler: New(eng)}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
