package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/naanagon/yugabyte-db/stream"
)

// TabletDirectory answers which tablets this node hosts.
type TabletDirectory interface {
	Tablets() []string
}

// Handlers serves the admin API over the stream registry.
type Handlers struct {
	nodeID  uint64
	streams *stream.Registry
	tablets TabletDirectory
	started time.Time
}

// NewHandlers builds the handler set.
func NewHandlers(nodeID uint64, streams *stream.Registry, tablets TabletDirectory) *Handlers {
	return &Handlers{nodeID: nodeID, streams: streams, tablets: tablets, started: time.Now()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode admin response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	tablets := []string{}
	if h.tablets != nil {
		tablets = h.tablets.Tablets()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":        h.nodeID,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"streams":        len(h.streams.List()),
		"tablets":        tablets,
	})
}

type streamView struct {
	StreamID       string `json:"stream_id"`
	NamespaceID    string `json:"namespace_id"`
	RecordType     string `json:"record_type"`
	CheckpointType string `json:"checkpoint_type"`
	CreatedAt      string `json:"created_at"`
}

func streamToView(m *stream.Metadata) streamView {
	return streamView{
		StreamID:       m.StreamID,
		NamespaceID:    m.NamespaceID,
		RecordType:     string(m.RecordType),
		CheckpointType: string(m.CheckpointType),
		CreatedAt:      m.CreatedAt.Format(time.RFC3339),
	}
}

func (h *Handlers) handleListStreams(w http.ResponseWriter, r *http.Request) {
	streams := h.streams.List()
	views := make([]streamView, 0, len(streams))
	for _, m := range streams {
		views = append(views, streamToView(m))
	}
	writeJSON(w, http.StatusOK, views)
}

type createStreamRequest struct {
	StreamID       string `json:"stream_id"`
	NamespaceID    string `json:"namespace_id"`
	RecordType     string `json:"record_type"`
	CheckpointType string `json:"checkpoint_type"`
	TablePattern   string `json:"table_pattern"`
}

func (h *Handlers) handleCreateStream(w http.ResponseWriter, r *http.Request) {
	var req createStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.StreamID == "" {
		writeError(w, http.StatusBadRequest, "stream_id is required")
		return
	}
	recordType := stream.RecordType(req.RecordType)
	if recordType == "" {
		recordType = stream.RecordChangeOnly
	}
	checkpointType := stream.CheckpointType(req.CheckpointType)
	if checkpointType == "" {
		checkpointType = stream.CheckpointExplicit
	}

	meta, err := stream.NewMetadata(req.StreamID, req.NamespaceID, recordType, checkpointType, req.TablePattern)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.streams.Register(meta); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, streamToView(meta))
}

func (h *Handlers) handleGetStream(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")
	meta, ok := h.streams.Get(streamID)
	if !ok {
		writeError(w, http.StatusNotFound, "stream not found")
		return
	}

	tablets := map[string]any{}
	for _, tabletID := range meta.Tablets() {
		opID, polledAt := meta.TabletState(tabletID).LastStreamed()
		tablets[tabletID] = map[string]any{
			"last_streamed_op_id": opID.String(),
			"last_polled_at":      polledAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stream":  streamToView(meta),
		"tablets": tablets,
	})
}

func (h *Handlers) handleDeleteStream(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")
	if _, ok := h.streams.Get(streamID); !ok {
		writeError(w, http.StatusNotFound, "stream not found")
		return
	}
	h.streams.Remove(streamID)
	writeJSON(w, http.StatusOK, map[string]string{"deleted": streamID})
}

func (h *Handlers) handleTabletCheckpoint(w http.ResponseWriter, r *http.Request) {
	tabletID := chi.URLParam(r, "tabletID")
	result := map[string]any{}
	for _, meta := range h.streams.List() {
		for _, id := range meta.Tablets() {
			if id != tabletID {
				continue
			}
			opID, polledAt := meta.TabletState(id).LastStreamed()
			result[meta.StreamID] = map[string]any{
				"last_streamed_op_id": opID.String(),
				"last_polled_at":      polledAt.Format(time.RFC3339),
			}
		}
	}
	if len(result) == 0 {
		writeError(w, http.StatusNotFound, "no stream state for tablet")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
