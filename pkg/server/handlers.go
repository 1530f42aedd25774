package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/entrained/engram/pkg/curation"
	"github.com/entrained/engram/pkg/engine"
	"github.com/entrained/engram/pkg/memory"
)

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", memory.ErrInvalidRequest, err)
	}
	return nil
}

func (s *Server) handleStoreSingle(w http.ResponseWriter, r *http.Request) {
	var req engine.StoreSingleRequest
	if err := s.decode(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := s.opts.Sanitizer.CheckText("content.text", req.Content.Text); err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := s.opts.Engine.StoreSingle(r.Context(), &req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStoreMulti(w http.ResponseWriter, r *http.Request) {
	var req engine.StoreMultiRequest
	if err := s.decode(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := s.opts.Sanitizer.CheckText("content.text", req.Content.Text); err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := s.opts.Engine.StoreMulti(r.Context(), &req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRetrieveSingle(w http.ResponseWriter, r *http.Request) {
	var req engine.RetrieveRequest
	if err := s.decode(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := s.opts.Engine.RetrieveSingle(r.Context(), &req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRetrieveMulti(w http.ResponseWriter, r *http.Request) {
	var req engine.RetrieveRequest
	if err := s.decode(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := s.opts.Engine.RetrieveMulti(r.Context(), &req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	m, err := s.opts.Engine.Get(r.Context(), chi.URLParam(r, "id"), "")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleGetMemoryMulti(w http.ResponseWriter, r *http.Request) {
	entity := r.URL.Query().Get("requesting_entity")
	if entity == "" {
		writeErr(w, r, fmt.Errorf("%w: requesting_entity query parameter is required", memory.ErrInvalidRequest))
		return
	}
	m, err := s.opts.Engine.Get(r.Context(), chi.URLParam(r, "id"), entity)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleAnnotate(w http.ResponseWriter, r *http.Request) {
	var a memory.Annotation
	if err := s.decode(w, r, &a); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := s.opts.Sanitizer.CheckComment("content", a.Content); err != nil {
		writeErr(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.opts.Engine.Annotate(r.Context(), id, &a); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"memory_id": id,
		"status":    "annotated",
	})
}

func (s *Server) handleAnnotations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	anns, err := s.opts.Engine.Annotations(r.Context(), id, r.URL.Query().Get("requesting_entity"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"memory_id":   id,
		"annotations": anns,
	})
}

func (s *Server) handleSituations(w http.ResponseWriter, r *http.Request) {
	sits, err := s.opts.Engine.SituationsFor(r.Context(), chi.URLParam(r, "entity_id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"situations": sits,
		"total":      len(sits),
	})
}

func (s *Server) handleCuratedAnalyze(w http.ResponseWriter, r *http.Request) {
	var req curation.TurnRequest
	if err := s.decode(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	report, err := s.opts.Pipeline.Analyze(r.Context(), &req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleCuratedStore(w http.ResponseWriter, r *http.Request) {
	var req curation.TurnRequest
	if err := s.decode(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := s.opts.Sanitizer.CheckText("user_input", req.UserInput); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := s.opts.Sanitizer.CheckText("agent_response", req.AgentResponse); err != nil {
		writeErr(w, r, err)
		return
	}
	report, err := s.opts.Pipeline.Store(r.Context(), &req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleCuratedRetrieve(w http.ResponseWriter, r *http.Request) {
	var req curation.RetrieveRequest
	if err := s.decode(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := s.opts.Pipeline.Retrieve(r.Context(), &req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCuratedStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.opts.Pipeline.Stats(r.Context(), chi.URLParam(r, "entity_id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAdminFlush(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.opts.Engine.Store().FlushMemories(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "flushed",
		"deleted_keys": deleted,
	})
}

func (s *Server) handleAdminRecreateIndexes(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Engine.Store().RecreateIndex(r.Context()); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recreated"})
}

func (s *Server) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.opts.Engine.Counts(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": s.opts.Version,
		"counts":  counts,
	})
}
