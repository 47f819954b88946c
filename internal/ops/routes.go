package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"shelfbot/internal/notifier"
	"shelfbot/internal/storage"
	"shelfbot/internal/subscription"
	"shelfbot/internal/task/engine"
	"shelfbot/internal/task/scheduler"
	logx "shelfbot/pkg/logx"
)

type TaskLister interface {
	FindTasks(ctx context.Context, f storage.TaskFilter) ([]storage.Task, error)
}

// Sources feed the read-only endpoints. Nil sources answer 404.
type Sources struct {
	Tasks         TaskLister
	Subscriptions interface{ Statuses() []subscription.Status }
	Engine        interface{ Snapshot() engine.Snapshot }
	Schedules     interface{ Snapshot() []scheduler.ScheduleInfo }
	Notifier      interface{ Snapshot() []notifier.HistoryItem }
}

// taskView is a registration without its credential.
type taskView struct {
	ID           int64        `json:"id"`
	SubscriberID int64        `json:"subscriber_id"`
	ChannelID    int64        `json:"channel_id"`
	Kind         storage.Kind `json:"kind"`
	ServerName   string       `json:"server_name"`
	HasToken     bool         `json:"has_token"`
}

// Handler builds the router for cfg. It is exported for tests and embedding.
func (s *Service) Handler(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)
	r.Use(bearerAuth(cfg.Token))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/tasks", s.listTasks)
		r.Get("/subscriptions", func(w http.ResponseWriter, r *http.Request) {
			if s.src.Subscriptions == nil {
				http.NotFound(w, r)
				return
			}
			s.writeJSON(w, s.src.Subscriptions.Statuses())
		})
		r.Get("/engine", func(w http.ResponseWriter, r *http.Request) {
			if s.src.Engine == nil {
				http.NotFound(w, r)
				return
			}
			s.writeJSON(w, s.src.Engine.Snapshot())
		})
		r.Get("/schedules", func(w http.ResponseWriter, r *http.Request) {
			if s.src.Schedules == nil {
				http.NotFound(w, r)
				return
			}
			s.writeJSON(w, s.src.Schedules.Snapshot())
		})
		r.Get("/notifier", func(w http.ResponseWriter, r *http.Request) {
			if s.src.Notifier == nil {
				http.NotFound(w, r)
				return
			}
			s.writeJSON(w, s.src.Notifier.Snapshot())
		})
	})

	if cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

func (s *Service) listTasks(w http.ResponseWriter, r *http.Request) {
	if s.src.Tasks == nil {
		http.NotFound(w, r)
		return
	}
	f := storage.TaskFilter{Kind: storage.Kind(r.URL.Query().Get("kind"))}
	if f.Kind != "" && !f.Kind.Valid() {
		http.Error(w, "unknown kind", http.StatusBadRequest)
		return
	}
	rows, err := s.src.Tasks.FindTasks(r.Context(), f)
	if err != nil {
		s.log.Warn("ops task listing failed", logx.Err(err))
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}
	out := make([]taskView, 0, len(rows))
	for _, t := range rows {
		out = append(out, taskView{
			ID:           t.ID,
			SubscriberID: t.SubscriberID,
			ChannelID:    t.ChannelID,
			Kind:         t.Kind,
			ServerName:   t.ServerName,
			HasToken:     t.Token != "",
		})
	}
	s.writeJSON(w, out)
}

func (s *Service) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		s.log.Debug("ops response write failed", logx.Err(err))
	}
}

func (s *Service) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("ops request",
			logx.String("rid", middleware.GetReqID(r.Context())),
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
		)
	})
}

// bearerAuth accepts "Authorization: Bearer <token>" or "?token=<token>".
// An empty token disables the check.
func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				got = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
			}
			if got != tok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
