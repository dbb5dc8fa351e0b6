package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goran-ethernal/ChainMapper/internal/logger"
	"github.com/goran-ethernal/ChainMapper/internal/poi"
	"github.com/goran-ethernal/ChainMapper/pkg/fetcher"
	"github.com/goran-ethernal/ChainMapper/pkg/project"
)

const (
	defaultEntityLimit = 100
	maxEntityLimit     = 1000
)

// StatusProvider reports the progress of the indexing pipeline.
type StatusProvider interface {
	Status() fetcher.Status
}

// ProofProvider serves proof-of-index records and inclusion proofs.
type ProofProvider interface {
	Last(ctx context.Context) (*poi.Record, error)
	ProofAt(ctx context.Context, height uint64) (*poi.Inclusion, error)
}

// DatasourceProvider lists the datasources active at a height.
type DatasourceProvider interface {
	ActiveAt(height uint64) []*project.Datasource
}

// EntityReader reads indexed entities.
type EntityReader interface {
	Get(ctx context.Context, entity, id string) (map[string]any, bool, error)
	GetAt(ctx context.Context, entity, id string, height uint64) (map[string]any, bool, error)
	List(ctx context.Context, entity string, limit int) (map[string]map[string]any, error)
}

// Backend groups the components the API reads from.
type Backend struct {
	Status      StatusProvider
	Ledger      ProofProvider
	Datasources DatasourceProvider
	Entities    EntityReader
}

// Handler handles HTTP requests for the API.
type Handler struct {
	backend Backend
	log     *logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(backend Backend, log *logger.Logger) *Handler {
	return &Handler{
		backend: backend,
		log:     log,
	}
}

// Health returns the health of the indexing pipeline.
// @Summary Health check
// @Description Reports whether the pipeline is running. A stalled pipeline answers 503.
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Pipeline is healthy"
// @Failure 503 {object} HealthResponse "Pipeline stalled"
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.backend.Status.Status()

	response := HealthResponse{
		Status:        "ok",
		Timestamp:     time.Now(),
		LastProcessed: status.LastProcessed,
		Mode:          status.Mode.String(),
	}

	code := http.StatusOK
	if status.Stalled {
		response.Status = "stalled"
		code = http.StatusServiceUnavailable
	}

	respondJSON(w, code, response)
}

// GetStatus returns the pipeline progress.
// @Summary Indexing status
// @Description Fetch mode, last processed height, finalized height and queue size
// @Tags Status
// @Produce json
// @Success 200 {object} fetcher.Status "Pipeline status"
// @Router /status [get]
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.backend.Status.Status())
}

// GetLatestPOI returns the newest proof-of-index record.
// @Summary Latest proof-of-index record
// @Tags POI
// @Produce json
// @Success 200 {object} poi.Record "Latest record"
// @Failure 404 {object} ErrorResponse "Nothing indexed yet"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /poi [get]
func (h *Handler) GetLatestPOI(w http.ResponseWriter, r *http.Request) {
	rec, err := h.backend.Ledger.Last(r.Context())
	if err != nil {
		h.log.Errorw("failed to read proof-of-index ledger", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read proof-of-index ledger")
		return
	}
	if rec == nil {
		respondError(w, http.StatusNotFound, "no height has been indexed yet")
		return
	}

	respondJSON(w, http.StatusOK, rec)
}

// GetPOI returns the proof-of-index record of a height with an inclusion proof against the latest root.
// @Summary Proof-of-index inclusion proof
// @Tags POI
// @Produce json
// @Param height path integer true "Block height"
// @Success 200 {object} poi.Inclusion "Record, tip and proof"
// @Failure 400 {object} ErrorResponse "Invalid height"
// @Failure 404 {object} ErrorResponse "No record for height"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /poi/{height} [get]
func (h *Handler) GetPOI(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(r.PathValue("height"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid height")
		return
	}

	inclusion, err := h.backend.Ledger.ProofAt(r.Context(), height)
	if errors.Is(err, poi.ErrRecordNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("no proof-of-index record for height %d", height))
		return
	}
	if err != nil {
		h.log.Errorw("failed to generate inclusion proof", "height", height, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to generate inclusion proof")
		return
	}

	respondJSON(w, http.StatusOK, inclusion)
}

// ListDatasources returns the datasources active at a height.
// @Summary Active datasources
// @Description Static and dynamically created datasources active at height (default: next height to index)
// @Tags Datasources
// @Produce json
// @Param height query integer false "Block height"
// @Success 200 {array} DatasourceInfo "Active datasources"
// @Failure 400 {object} ErrorResponse "Invalid height"
// @Router /datasources [get]
func (h *Handler) ListDatasources(w http.ResponseWriter, r *http.Request) {
	height := h.backend.Status.Status().NextHeight
	if raw := r.URL.Query().Get("height"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid height")
			return
		}
		height = v
	}

	active := h.backend.Datasources.ActiveAt(height)
	infos := make([]DatasourceInfo, 0, len(active))
	for _, ds := range active {
		info := DatasourceInfo{
			Name:       ds.Name,
			Kind:       string(ds.Kind),
			StartBlock: ds.StartBlock,
			Address:    ds.Address(),
		}
		for _, handler := range ds.Mapping.Handlers {
			info.Handlers = append(info.Handlers, handler.Handler)
		}
		infos = append(infos, info)
	}

	respondJSON(w, http.StatusOK, infos)
}

// ListEntities returns the latest values of an entity type.
// @Summary List entities
// @Tags Entities
// @Produce json
// @Param entity path string true "Entity type"
// @Param limit query int false "Maximum number of entities to return" default(100)
// @Success 200 {object} EntityListResponse "Entities keyed by id"
// @Failure 400 {object} ErrorResponse "Invalid parameters"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /entities/{entity} [get]
func (h *Handler) ListEntities(w http.ResponseWriter, r *http.Request) {
	entity := r.PathValue("entity")

	limit := defaultEntityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxEntityLimit {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit: must be between 1 and %d", maxEntityLimit))
			return
		}
		limit = v
	}

	entities, err := h.backend.Entities.List(r.Context(), entity, limit)
	if err != nil {
		h.log.Errorw("failed to list entities", "entity", entity, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list entities")
		return
	}

	respondJSON(w, http.StatusOK, EntityListResponse{Entity: entity, Count: len(entities), Items: entities})
}

// GetEntity returns one entity, optionally as of a height.
// @Summary Get entity
// @Tags Entities
// @Produce json
// @Param entity path string true "Entity type"
// @Param id path string true "Entity id"
// @Param height query integer false "Read the value visible at this height"
// @Success 200 {object} EntityResponse "Entity value"
// @Failure 400 {object} ErrorResponse "Invalid parameters"
// @Failure 404 {object} ErrorResponse "Entity not found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /entities/{entity}/{id} [get]
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	entity, id := r.PathValue("entity"), r.PathValue("id")

	var (
		data  map[string]any
		found bool
		err   error
	)
	if raw := r.URL.Query().Get("height"); raw != "" {
		height, perr := strconv.ParseUint(raw, 10, 64)
		if perr != nil {
			respondError(w, http.StatusBadRequest, "invalid height")
			return
		}
		data, found, err = h.backend.Entities.GetAt(r.Context(), entity, id, height)
	} else {
		data, found, err = h.backend.Entities.Get(r.Context(), entity, id)
	}
	if err != nil {
		h.log.Errorw("failed to read entity", "entity", entity, "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read entity")
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, fmt.Sprintf("%s '%s' not found", entity, id))
		return
	}

	respondJSON(w, http.StatusOK, EntityResponse{Entity: entity, ID: id, Data: data})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")

	// Encode first so an encoding failure can still change the status
	encoded, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)

	if _, err := w.Write(encoded); err != nil {
		// Headers already sent
		return
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	response := ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	}
	respondJSON(w, status, response)
}
