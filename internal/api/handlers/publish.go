// Package handlers contains the HTTP handler implementations for the publish
// engine API: job queries, full-edition publish runs, cancellation, demand
// publish requests, and change-event ingestion.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"pubengine/internal/core"
	"pubengine/internal/touch"
	"pubengine/internal/types"
)

// PublishServiceInterface defines the scheduler contract for the publish
// handler. Matches the jobs.Scheduler surface but is defined locally to
// avoid tight coupling per the handler injection pattern.
type PublishServiceInterface interface {
	StartJob(ctx context.Context, editionID types.EditionID) (types.JobID, error)
	QueueDemandWork(ctx context.Context, req types.DemandRequest) (string, error)
	DemandRequestJob(requestID string) (types.JobID, bool)
	CancelJob(jobID types.JobID)
	Status(jobID types.JobID) types.JobStatus
	ActiveStatuses() []types.JobStatus
	StatusByEdition(edition types.EditionID) (types.JobStatus, bool)
}

// ChangePropagator is the touch engine contract for change ingestion.
type ChangePropagator interface {
	Propagate(ctx context.Context, ev types.ChangeEvent) touch.Result
}

// PublishHandler maps HTTP requests to scheduler and engine operations.
type PublishHandler struct {
	service    PublishServiceInterface
	propagator ChangePropagator
	validator  *core.Validator
	logger     *slog.Logger
}

// NewPublishHandler creates a PublishHandler with the provided dependencies.
func NewPublishHandler(
	svc PublishServiceInterface,
	propagator ChangePropagator,
	val *core.Validator,
	logger *slog.Logger,
) *PublishHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublishHandler{
		service:    svc,
		propagator: propagator,
		validator:  val,
		logger:     logger,
	}
}

// RegisterRoutes mounts the publish endpoints onto the mux.
func (h *PublishHandler) RegisterRoutes(r chi.Router) {
	r.Get("/jobs", h.HandleGetJobs)
	r.Post("/jobs", h.HandleStartJob)
	r.Post("/jobs/cancel", h.HandleCancelJob)
	r.Post("/demand", h.HandleDemand)
	r.Post("/changes", h.HandleChangeEvent)
}

// HandleGetJobs handles GET /v1/publish/jobs.
//
// Without selectors it returns every active job. Exactly one of jobId,
// editionId, or requestId selects a single job; an unknown jobId yields one
// synthetic INACTIVE row with status 200 so pollers of finished jobs see a
// stable terminal answer rather than an error.
func (h *PublishHandler) HandleGetJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	selectors := 0
	for _, key := range []string{"jobId", "editionId", "requestId"} {
		if q.Get(key) != "" {
			selectors++
		}
	}
	if selectors > 1 {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationParamConflict,
			"jobId, editionId and requestId are mutually exclusive",
			nil,
		))
		return
	}

	switch {
	case q.Get("jobId") != "":
		jobID, err := parseID(q.Get("jobId"), "jobId")
		if err != nil {
			core.Error(w, r, err)
			return
		}
		status := h.service.Status(types.JobID(jobID))
		core.JSON(w, r, http.StatusOK, core.APIResponse{Data: []types.JobStatus{status}})

	case q.Get("editionId") != "":
		editionID, err := parseID(q.Get("editionId"), "editionId")
		if err != nil {
			core.Error(w, r, err)
			return
		}
		status, ok := h.service.StatusByEdition(types.EditionID(editionID))
		if !ok {
			core.JSON(w, r, http.StatusOK, core.APIResponse{Data: []types.JobStatus{}})
			return
		}
		core.JSON(w, r, http.StatusOK, core.APIResponse{Data: []types.JobStatus{status}})

	case q.Get("requestId") != "":
		jobID, ok := h.service.DemandRequestJob(q.Get("requestId"))
		if !ok {
			core.JSON(w, r, http.StatusOK, core.APIResponse{Data: []types.JobStatus{}})
			return
		}
		status := h.service.Status(jobID)
		core.JSON(w, r, http.StatusOK, core.APIResponse{Data: []types.JobStatus{status}})

	default:
		core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.service.ActiveStatuses()})
	}
}

// startJobRequest is the body of POST /v1/publish/jobs.
type startJobRequest struct {
	EditionID int64 `json:"editionId" validate:"required,gt=0"`
}

type startJobResponse struct {
	JobID types.JobID `json:"jobId"`
}

// HandleStartJob handles POST /v1/publish/jobs. It starts a full publish
// run for the edition. A second request for an edition that is already
// publishing returns 409 with the running job's id in the error details.
func (h *PublishHandler) HandleStartJob(w http.ResponseWriter, r *http.Request) {
	var req startJobRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	jobID, err := h.service.StartJob(r.Context(), types.EditionID(req.EditionID))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: startJobResponse{JobID: jobID}})
}

// cancelJobRequest is the body of POST /v1/publish/jobs/cancel.
type cancelJobRequest struct {
	StopJob int64 `json:"stopJob" validate:"required,gt=0"`
}

type cancelJobResponse struct {
	Cancelled bool `json:"cancelled"`
}

// HandleCancelJob handles POST /v1/publish/jobs/cancel. Cancellation is a
// request, not a guarantee: the run stops at the next work-unit boundary.
// Cancelling an unknown or already-terminal job is a no-op and still
// returns 200, so retried cancels are safe.
func (h *PublishHandler) HandleCancelJob(w http.ResponseWriter, r *http.Request) {
	var req cancelJobRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	h.service.CancelJob(types.JobID(req.StopJob))

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: cancelJobResponse{Cancelled: true}})
}

// demandRequest is the body of POST /v1/publish/demand. The edition is
// identified either directly by editionId or by siteId plus the generator
// hint.
type demandRequest struct {
	ContentIDs []int64 `json:"contentIds" validate:"required,min=1"`
	FolderID   int64   `json:"folderId"`
	EditionID  int64   `json:"editionId"`
	SiteID     int64   `json:"siteId"`
	Generator  string  `json:"generator"`
}

type demandResponse struct {
	RequestID string `json:"requestId"`
}

// HandleDemand handles POST /v1/publish/demand. On success the returned
// requestId is the handle for polling: once the work is picked up by a job,
// GET /v1/publish/jobs?requestId= reports that job's status.
func (h *PublishHandler) HandleDemand(w http.ResponseWriter, r *http.Request) {
	var req demandRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	items := make([]types.DemandItem, len(req.ContentIDs))
	for i, id := range req.ContentIDs {
		items[i] = types.DemandItem{
			FolderID:  types.FolderID(req.FolderID),
			ContentID: types.ContentID(id),
		}
	}

	requestID, err := h.service.QueueDemandWork(r.Context(), types.DemandRequest{
		EditionID: types.EditionID(req.EditionID),
		SiteID:    types.TargetID(req.SiteID),
		Generator: req.Generator,
		Items:     items,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: demandResponse{RequestID: requestID}})
}

// changeEventRequest is the body of POST /v1/publish/changes.
type changeEventRequest struct {
	ItemID             int64  `json:"itemId" validate:"required,gt=0"`
	ItemTypeID         int64  `json:"itemTypeId" validate:"required,gt=0"`
	FolderRelationship bool   `json:"folderRelationship"`
	RelationshipOwner  int64  `json:"relationshipOwner"`
	RelationshipKind   string `json:"relationshipKind"`
}

type changeEventResponse struct {
	Touched  int `json:"touched"`
	Recorded int `json:"recorded"`
}

// HandleChangeEvent handles POST /v1/publish/changes. Propagation is
// best-effort: collaborator lookup failures abandon the affected branch and
// are never surfaced to the caller, so the response is 202 whenever the
// event itself is well-formed.
func (h *PublishHandler) HandleChangeEvent(w http.ResponseWriter, r *http.Request) {
	var req changeEventRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	ev := types.ChangeEvent{
		ItemID:             types.ContentID(req.ItemID),
		ItemTypeID:         types.TypeID(req.ItemTypeID),
		FolderRelationship: req.FolderRelationship,
	}
	if req.RelationshipOwner != 0 || req.RelationshipKind != "" {
		ev.Relationship = &types.Relationship{
			OwnerID:     types.ContentID(req.RelationshipOwner),
			DependentID: types.ContentID(req.ItemID),
			Kind:        req.RelationshipKind,
		}
	}

	result := h.propagator.Propagate(r.Context(), ev)

	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: changeEventResponse{
		Touched:  len(result.Touched),
		Recorded: result.Recorded,
	}})
}

// parseID parses a positive int64 query parameter.
func parseID(raw, name string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, types.NewAppError(
			types.ErrCodeValidationInvalidID,
			name+" must be a positive integer",
			err,
		)
	}
	return id, nil
}
