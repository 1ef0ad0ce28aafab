package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"path"
	"time"

	"github.com/rs/zerolog/log"

	"cogmem/internal/engine"
	"cogmem/internal/feedback"
	"cogmem/internal/model"
	"cogmem/internal/objectstore"
	"cogmem/internal/recall"
)

// registerHTTPAPI exposes the in-process memory engine facade (C10) over a
// small JSON API. spec.md §6 only specifies the coordination wire protocol
// between agents; it is silent on how a single agent process drives its
// own embedded engine, so this resolves that gap the way the teacher
// exposes its own agent engine in cmd/agentd/main.go: a bare
// net/http.ServeMux with small per-route handlers, no router framework.
//
// store may be nil, in which case /export only returns the archive inline
// instead of also uploading it.
func registerHTTPAPI(mux *http.ServeMux, eng *engine.Engine, store objectstore.ObjectStore, prefix string) {
	mux.HandleFunc("/memory", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req struct {
				Content string         `json:"content"`
				Layer   string         `json:"layer,omitempty"`
				Meta    model.Metadata `json:"metadata,omitempty"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			var (
				entry model.MemoryEntry
				err   error
			)
			if req.Layer != "" {
				entry, err = eng.AddToLayer(r.Context(), model.Layer(req.Layer), req.Content, req.Meta)
			} else {
				entry, err = eng.Add(r.Context(), req.Content, req.Meta)
			}
			if err != nil {
				log.Error().Err(err).Msg("add memory failed")
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			writeJSON(w, entry)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/memory/get", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "missing id", http.StatusBadRequest)
			return
		}
		entry, err := eng.Get(r.Context(), id)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if entry == nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, entry)
	})

	mux.HandleFunc("/memory/delete", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "missing id", http.StatusBadRequest)
			return
		}
		if err := eng.Delete(r.Context(), id); err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/recall", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Query     string `json:"query"`
			Limit     int    `json:"limit,omitempty"`
			Highlight bool   `json:"highlight,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		limit := req.Limit
		if limit <= 0 {
			limit = 10
		}
		result := eng.Recall(r.Context(), req.Query, recall.Options{Limit: limit, Highlight: req.Highlight})
		writeJSON(w, result)
	})

	mux.HandleFunc("/feedback", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			MemoryID  string `json:"memoryId"`
			Signal    string `json:"signal"`
			SessionID string `json:"sessionId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		signal := feedback.SignalHelpful
		if req.Signal == string(feedback.SignalHarmful) {
			signal = feedback.SignalHarmful
		}
		utility := eng.RecordFeedback(req.MemoryID, signal, req.SessionID)
		writeJSON(w, map[string]float64{"utilityScore": utility})
	})

	mux.HandleFunc("/export", func(w http.ResponseWriter, r *http.Request) {
		buf, err := eng.Export(r.Context())
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		key := objectstore.ExportKey(prefix, time.Now())
		if store != nil {
			if _, err := store.Put(r.Context(), key, bytes.NewReader(buf.Bytes()), objectstore.PutOptions{
				ContentType: "application/gzip",
			}); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("export upload to object store failed")
			} else {
				w.Header().Set("X-Export-Key", key)
			}
		}
		w.Header().Set("Content-Type", "application/gzip")
		w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(key)+`"`)
		_, _ = w.Write(buf.Bytes())
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
