// Package status serves a read-only JSON view of a running controller.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/anggasct/tracklock/pkg/journal"
	"github.com/anggasct/tracklock/pkg/observers"
	"github.com/anggasct/tracklock/pkg/segment"
	"github.com/anggasct/tracklock/pkg/topology"
	"github.com/anggasct/tracklock/pkg/train"
	"github.com/anggasct/tracklock/visualization"
)

// Source is what the status API reads from
type Source interface {
	RunID() string
	Snapshots() []train.Snapshot
	Registry() *segment.Registry
	Metrics() map[string]observers.Metrics
}

// JournalReader reads recent transitions
type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// SegmentState is one segment's holder and counters
type SegmentState struct {
	Segment   topology.Segment `json:"segment"`
	Holder    string           `json:"holder,omitempty"`
	Grants    int              `json:"grants"`
	Contended int              `json:"contended"`
	Releases  int              `json:"releases"`
}

// TrainsResponse is the JSON response structure for GET /api/trains
type TrainsResponse struct {
	RunID  string           `json:"runId"`
	Trains []train.Snapshot `json:"trains"`
	Count  int              `json:"count"`
	At     time.Time        `json:"at"`
}

// SegmentsResponse is the JSON response structure for GET /api/segments
type SegmentsResponse struct {
	Segments []SegmentState `json:"segments"`
	At       time.Time      `json:"at"`
}

// JournalResponse is the JSON response structure for GET /api/journal
type JournalResponse struct {
	Entries []journal.Entry `json:"entries"`
	Count   int             `json:"count"`
}

// ErrorResponse is the JSON error response structure
type ErrorResponse struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// Handler serves the status routes
type Handler struct {
	source  Source
	journal JournalReader
}

// NewHandler creates a handler. journal may be nil.
func NewHandler(source Source, journal JournalReader) *Handler {
	return &Handler{source: source, journal: journal}
}

// Router builds the chi router with CORS for read-only access
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", h.Health)
	r.Get("/api/trains", h.GetTrains)
	r.Get("/api/trains/{id}", h.GetTrain)
	r.Get("/api/segments", h.GetSegments)
	r.Get("/api/metrics", h.GetMetrics)
	r.Get("/api/journal", h.GetJournal)
	r.Get("/api/machine.dot", h.GetMachineDOT)
	return r
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"run":       h.source.RunID(),
		"timestamp": time.Now().UTC(),
	})
}

// GetTrains handles GET /api/trains
func (h *Handler) GetTrains(w http.ResponseWriter, r *http.Request) {
	trains := h.source.Snapshots()
	writeJSON(w, http.StatusOK, TrainsResponse{
		RunID:  h.source.RunID(),
		Trains: trains,
		Count:  len(trains),
		At:     time.Now().UTC(),
	})
}

// GetTrain handles GET /api/trains/{id}
func (h *Handler) GetTrain(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "id must be an integer"})
		return
	}
	for _, s := range h.source.Snapshots() {
		if s.ID == id {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, ErrorResponse{
		Error:   "Train not found",
		Details: map[string]any{"id": id},
	})
}

// GetSegments handles GET /api/segments
func (h *Handler) GetSegments(w http.ResponseWriter, r *http.Request) {
	registry := h.source.Registry()
	holders := registry.Snapshot()
	stats := registry.Stats()

	segments := make([]SegmentState, 0, len(topology.Segments()))
	for _, seg := range topology.Segments() {
		st := stats[seg]
		segments = append(segments, SegmentState{
			Segment:   seg,
			Holder:    string(holders[seg]),
			Grants:    st.Grants,
			Contended: st.Contended,
			Releases:  st.Releases,
		})
	}
	writeJSON(w, http.StatusOK, SegmentsResponse{Segments: segments, At: time.Now().UTC()})
}

// GetMetrics handles GET /api/metrics
func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.Metrics())
}

// GetJournal handles GET /api/journal?limit=N
func (h *Handler) GetJournal(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Journal is disabled"})
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "limit must be between 1 and 1000",
				Details: map[string]any{"limit": raw},
			})
			return
		}
		limit = n
	}

	entries, err := h.journal.Recent(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to read journal",
			Details: map[string]any{"internal": err.Error()},
		})
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, JournalResponse{Entries: entries, Count: len(entries)})
}

// GetMachineDOT handles GET /api/machine.dot
func (h *Handler) GetMachineDOT(w http.ResponseWriter, r *http.Request) {
	options := visualization.DefaultDOTOptions()
	if id, err := strconv.Atoi(r.URL.Query().Get("train")); err == nil {
		for _, s := range h.source.Snapshots() {
			if s.ID == id {
				options.Highlight = s.State
			}
		}
	}
	dot, err := visualization.NewDOTGenerator(train.Definition(), options).Generate()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(dot))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
