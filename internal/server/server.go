package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/v0xg/webpilot/internal/agent"
	"github.com/v0xg/webpilot/internal/session"
)

// Server exposes the core session operations as a JSON API: create, step,
// close, history read, and the read-only status+screenshot queries. The UI
// consuming this surface is not part of the core.
type Server struct {
	loop   *agent.Loop
	mgr    *session.Manager
	logger *zap.Logger
}

// New creates the HTTP surface over an agent loop and session registry.
func New(loop *agent.Loop, mgr *session.Manager, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		loop:   loop,
		mgr:    mgr,
		logger: logger.With(zap.String("component", "http")),
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleStatus)
			r.Delete("/", s.handleClose)
			r.Post("/steps", s.handleStep)
			r.Get("/history", s.handleHistory)
			r.Get("/screenshot", s.handleScreenshot)
		})
	})

	return r
}

type createRequest struct {
	URL string `json:"url,omitempty"` // optional start URL
}

type sessionResponse struct {
	ID            string         `json:"id"`
	Status        session.Status `json:"status"`
	Steps         int            `json:"steps"`
	FailureReason string         `json:"failure_reason,omitempty"`
	Finished      bool           `json:"finished"`
}

func sessionView(sess *session.Session) sessionResponse {
	return sessionResponse{
		ID:            sess.ID,
		Status:        sess.Status(),
		Steps:         len(sess.Steps()),
		FailureReason: sess.FailureReason(),
		Finished:      sess.Finished(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	sess, err := s.mgr.Create(r.Context())
	if err != nil {
		if errors.Is(err, session.ErrResourceExhausted) {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		s.logger.Error("session create failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "session create failed")
		return
	}

	if req.URL != "" {
		if _, err := s.loop.Seed(r.Context(), sess, req.URL); err != nil {
			// A session that never reached its start page is useless; free
			// its slot instead of letting it sit until the idle sweep.
			if cerr := s.mgr.Close(sess.ID); cerr != nil {
				s.logger.Error("close after failed seed",
					zap.String("session_id", sess.ID), zap.Error(cerr))
			}
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":   err.Error(),
				"session": sessionView(sess),
			})
			return
		}
	}

	writeJSON(w, http.StatusCreated, sessionView(sess))
}

type stepRequest struct {
	Instruction string `json:"instruction"`
}

type stepResponse struct {
	Session sessionResponse `json:"session"`
	Step    *session.Step   `json:"step,omitempty"`
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req stepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Instruction == "" {
		writeError(w, http.StatusBadRequest, "instruction required")
		return
	}

	step, err := s.loop.Step(r.Context(), sess, req.Instruction)
	if err != nil {
		if errors.Is(err, agent.ErrSessionTerminal) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		// The loop already moved the session to its failed state; surface
		// the reason verbatim alongside the error.
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":   err.Error(),
			"session": sessionView(sess),
		})
		return
	}

	writeJSON(w, http.StatusOK, stepResponse{Session: sessionView(sess), Step: step})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionView(sess))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"steps":      sess.Steps(),
	})
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	png := sess.LastScreenshot()
	if len(png) == 0 {
		writeError(w, http.StatusNotFound, "no screenshot captured yet")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.mgr.Close(id); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("session close failed", zap.String("session_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "close failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(session.StatusClosed)})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.mgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return sess, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
