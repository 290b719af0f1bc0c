package app

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"convosync/pkg/api"
	"convosync/pkg/storage"
)

// startHTTP builds the handler, starts the HTTP server in a goroutine and
// returns a channel that will contain any server error.
func (a *App) startHTTP() <-chan error {
	srv := api.New(a.svc, a.sc, a.gate, a.cfg.RateLimit.RPS, a.cfg.RateLimit.Burst, a.st.LastSync)
	router := srv.Router()
	router.HandleFunc("/readyz", a.readyzHandler)
	router.Handle("/metrics", promhttp.Handler())

	a.srv = &http.Server{Addr: a.addr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.srv.ListenAndServe()
	}()
	return errCh
}

// readyzHandler reports readiness: the secondary must answer and, when a
// primary is configured, it must be reachable too.
func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	userID, ok := a.gate.CurrentUserID()
	if !ok {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","note":"no session"}`))
		return
	}
	if _, err := a.secondary.LoadMessages(r.Context(), userID, storage.LoadOptions{Limit: 1}); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"secondary unavailable"}`))
		return
	}
	if _, err := a.primary.LoadMessages(r.Context(), userID, storage.LoadOptions{Limit: 1}); err != nil && !errors.Is(err, storage.ErrConfigurationMissing) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"primary unavailable"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	ver := a.version
	if ver == "" {
		ver = "dev"
	}
	_, _ = w.Write([]byte(`{"status":"ok","version":"` + ver + `"}`))
}
