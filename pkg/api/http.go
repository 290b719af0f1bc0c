// Package api exposes the engine over HTTP. It is the delivery surface
// standing in for the original client UI: send a turn, read the tree,
// re-root the active path, delete, and trigger foreground sync. Foreground
// sync surfaces errors to the caller; background sync never does.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"convosync/pkg/chat"
	"convosync/pkg/logger"
	"convosync/pkg/models"
	"convosync/pkg/session"
	"convosync/pkg/syncer"
)

// Server bundles the handlers' dependencies.
type Server struct {
	svc    *chat.Service
	sync   *syncer.Coordinator
	gate   session.Gate
	limits *limiterPool
	lastTS func() (time.Time, bool)
}

// New builds the HTTP server facade. lastSync reports the persisted last
// sync time for the status endpoint.
func New(svc *chat.Service, sc *syncer.Coordinator, gate session.Gate, rps float64, burst int, lastSync func() (time.Time, bool)) *Server {
	return &Server{svc: svc, sync: sc, gate: gate, limits: newLimiterPool(rps, burst), lastTS: lastSync}
}

// Router returns the configured mux router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(s.rateLimit)
	v1.HandleFunc("/chat", s.sendMessage).Methods(http.MethodPost)
	v1.HandleFunc("/messages", s.listMessages).Methods(http.MethodGet)
	v1.HandleFunc("/messages/{id}/select", s.selectMessage).Methods(http.MethodPost)
	v1.HandleFunc("/messages/{id}", s.deleteMessage).Methods(http.MethodDelete)
	v1.HandleFunc("/path", s.activePath).Methods(http.MethodGet)
	v1.HandleFunc("/sync", s.runSync).Methods(http.MethodPost)
	v1.HandleFunc("/sync/status", s.syncStatus).Methods(http.MethodGet)
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	jsonWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid json")
		return
	}
	reply, err := s.svc.Send(r.Context(), req.Text)
	switch err {
	case nil:
	case chat.ErrEmptyMessage:
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	case chat.ErrNotAuthenticated:
		jsonError(w, http.StatusUnauthorized, err.Error())
		return
	default:
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.Info("chat_turn_completed", "reply", reply.ID)
	jsonWrite(w, http.StatusOK, struct {
		Reply models.Message   `json:"reply"`
		Path  []models.Message `json:"path"`
	}{Reply: reply, Path: s.svc.Tree().ActivePath()})
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	t := s.svc.Tree()
	jsonWrite(w, http.StatusOK, struct {
		Messages []models.Message `json:"messages"`
		ActiveID string           `json:"active_id,omitempty"`
	}{Messages: t.Messages(), ActiveID: t.ActiveID()})
}

func (s *Server) activePath(w http.ResponseWriter, r *http.Request) {
	jsonWrite(w, http.StatusOK, struct {
		Path []models.Message `json:"path"`
	}{Path: s.svc.Tree().ActivePath()})
}

func (s *Server) selectMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.svc.Select(id)
	jsonWrite(w, http.StatusOK, map[string]string{"active_id": s.svc.Tree().ActiveID()})
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.svc.Delete(r.Context(), id); err != nil {
		if err == chat.ErrNotAuthenticated {
			jsonError(w, http.StatusUnauthorized, err.Error())
			return
		}
		jsonError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// runSync is the explicit, user-initiated sync path; unlike background
// ticks its errors come back to the caller.
func (s *Server) runSync(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.gate.CurrentUserID()
	if !ok {
		jsonError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	mode := r.URL.Query().Get("mode")
	switch mode {
	case "", "incremental":
		if err := s.sync.IncrementalSync(r.Context(), userID); err != nil {
			jsonError(w, http.StatusBadGateway, err.Error())
			return
		}
		jsonWrite(w, http.StatusOK, map[string]string{"result": "ok", "mode": "incremental"})
	case "full":
		if err := s.sync.SyncAll(r.Context(), userID); err != nil {
			jsonError(w, http.StatusBadGateway, err.Error())
			return
		}
		jsonWrite(w, http.StatusOK, map[string]string{"result": "ok", "mode": "full"})
	case "resolve":
		stats, err := s.sync.ResolveConflicts(r.Context(), userID)
		if err != nil {
			jsonError(w, http.StatusBadGateway, err.Error())
			return
		}
		jsonWrite(w, http.StatusOK, struct {
			Result    string `json:"result"`
			Conflicts int    `json:"conflicts"`
			Orphans   int    `json:"orphans"`
		}{Result: "ok", Conflicts: stats.Conflicts, Orphans: stats.Orphans})
	default:
		jsonError(w, http.StatusBadRequest, "unknown sync mode")
	}
}

func (s *Server) syncStatus(w http.ResponseWriter, r *http.Request) {
	var last *time.Time
	if t, ok := s.lastTS(); ok {
		last = &t
	}
	jsonWrite(w, http.StatusOK, struct {
		IsSyncing bool       `json:"is_syncing"`
		IsLoading bool       `json:"is_loading"`
		LastSync  *time.Time `json:"last_sync,omitempty"`
	}{IsSyncing: s.sync.IsSyncing(), IsLoading: s.svc.IsLoading(), LastSync: last})
}
