package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/michaelbrown/kata/internal/archive"
	"github.com/michaelbrown/kata/internal/storage"
)

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// writeStoreError maps storage errors to a status code.
func (s *Server) writeStoreError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	s.logger.Error("storage error", zap.String("resource", what), zap.Error(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}

// --- Exercise handlers ---

func (s *Server) handleListExercises(w http.ResponseWriter, r *http.Request) {
	list := s.catalog.List()
	if list == nil {
		list = []*archive.Exercise{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetExercise(w http.ResponseWriter, r *http.Request) {
	ex, ok := s.catalog.Get(chi.URLParam(r, "slug"))
	if !ok {
		writeError(w, http.StatusNotFound, "exercise not found")
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

// --- Session handlers ---

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := storage.SessionListOptions{
		Status:   storage.SessionStatus(q.Get("status")),
		Exercise: q.Get("exercise"),
	}
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			opts.Limit = n
		}
	}
	if offset := q.Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			opts.Offset = n
		}
	}

	sessions, err := s.store.ListSessions(r.Context(), opts)
	if err != nil {
		s.writeStoreError(w, "sessions", err)
		return
	}

	if sessions == nil {
		sessions = []storage.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

type createSessionRequest struct {
	Exercise string `json:"exercise"`
	Title    string `json:"title"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	sess := &storage.Session{
		ID:       uuid.New().String(),
		Exercise: req.Exercise,
		Title:    req.Title,
		Status:   storage.StatusActive,
	}
	if req.Exercise != "" {
		ex, ok := s.catalog.Get(req.Exercise)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown exercise "+strconv.Quote(req.Exercise))
			return
		}
		sess.Code = ex.Template
		if sess.Title == "" {
			sess.Title = ex.Title
		}
	}
	if sess.Title == "" {
		sess.Title = generateTitle(sess.Code)
	}

	if err := s.store.CreateSession(r.Context(), sess); err != nil {
		s.writeStoreError(w, "session", err)
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, "session", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, "session", err)
		return
	}

	// Remove from active sessions first
	s.sessions.Remove(sess.ID)

	if err := s.store.DeleteSession(r.Context(), sess.ID); err != nil {
		s.writeStoreError(w, "session", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, "session", err)
		return
	}

	entries, err := s.store.LoadTranscript(r.Context(), sess.ID)
	if err != nil {
		s.writeStoreError(w, "transcript", err)
		return
	}
	if entries == nil {
		entries = []storage.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, "session", err)
		return
	}

	subs, err := s.store.ListSubmissions(r.Context(), sess.ID)
	if err != nil {
		s.writeStoreError(w, "submissions", err)
		return
	}
	if subs == nil {
		subs = []storage.Submission{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// --- Paste and pool handlers ---

func (s *Server) handleGetPaste(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPaste(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, "paste", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePoolStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Stats())
}

// generateTitle derives a session title from the first line of code.
func generateTitle(code string) string {
	t := strings.TrimSpace(code)
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = t[:i]
	}
	if t == "" {
		return "Untitled"
	}
	if len(t) > 80 {
		t = t[:80] + "..."
	}
	return t
}
