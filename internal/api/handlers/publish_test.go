package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"pubengine/internal/core"
	"pubengine/internal/touch"
	"pubengine/internal/types"
)

// --- Mocks ---

type mockPublishService struct {
	startJobID  types.JobID
	startErr    error
	startedWith types.EditionID
	demandReqID string
	demandErr   error
	demandReq   types.DemandRequest
	requestJobs map[string]types.JobID
	cancelled   []types.JobID
	statuses    map[types.JobID]types.JobStatus
	active      []types.JobStatus
	byEdition   map[types.EditionID]types.JobStatus
}

func (m *mockPublishService) StartJob(ctx context.Context, editionID types.EditionID) (types.JobID, error) {
	m.startedWith = editionID
	if m.startErr != nil {
		return 0, m.startErr
	}
	return m.startJobID, nil
}

func (m *mockPublishService) QueueDemandWork(ctx context.Context, req types.DemandRequest) (string, error) {
	m.demandReq = req
	if m.demandErr != nil {
		return "", m.demandErr
	}
	return m.demandReqID, nil
}

func (m *mockPublishService) DemandRequestJob(requestID string) (types.JobID, bool) {
	id, ok := m.requestJobs[requestID]
	return id, ok
}

func (m *mockPublishService) CancelJob(jobID types.JobID) {
	m.cancelled = append(m.cancelled, jobID)
}

func (m *mockPublishService) Status(jobID types.JobID) types.JobStatus {
	if status, ok := m.statuses[jobID]; ok {
		return status
	}
	return types.JobStatus{
		JobID:     jobID,
		State:     types.JobStateInactive,
		StateName: string(types.JobStateInactive),
		Percent:   100,
	}
}

func (m *mockPublishService) ActiveStatuses() []types.JobStatus {
	return m.active
}

func (m *mockPublishService) StatusByEdition(edition types.EditionID) (types.JobStatus, bool) {
	status, ok := m.byEdition[edition]
	return status, ok
}

type mockPropagator struct {
	lastEvent types.ChangeEvent
	result    touch.Result
}

func (m *mockPropagator) Propagate(ctx context.Context, ev types.ChangeEvent) touch.Result {
	m.lastEvent = ev
	return m.result
}

// --- Helpers ---

func newTestHandler(t *testing.T, svc *mockPublishService, prop *mockPropagator) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if prop == nil {
		prop = &mockPropagator{}
	}
	h := NewPublishHandler(svc, prop, core.NewValidator(logger), logger)

	r := chi.NewRouter()
	r.Route("/v1/publish", h.RegisterRoutes)
	return r
}

func doRequest(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode envelope: %v (body: %s)", err, w.Body.String())
	}
	if err := json.Unmarshal(envelope.Data, dst); err != nil {
		t.Fatalf("failed to decode data: %v", err)
	}
}

func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode error envelope: %v (body: %s)", err, w.Body.String())
	}
	return envelope.Error.Code
}

// --- GET /v1/publish/jobs ---

func TestHandleGetJobs_NoSelectorReturnsActive(t *testing.T) {
	svc := &mockPublishService{
		active: []types.JobStatus{
			{JobID: 1, State: types.JobStateRunning},
			{JobID: 2, State: types.JobStateQueued},
		},
	}
	w := doRequest(t, newTestHandler(t, svc, nil), http.MethodGet, "/v1/publish/jobs", "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var rows []types.JobStatus
	decodeData(t, w, &rows)
	if len(rows) != 2 {
		t.Errorf("expected 2 rows, got %d", len(rows))
	}
}

func TestHandleGetJobs_UnknownJobIDIsInactiveRow(t *testing.T) {
	svc := &mockPublishService{}
	w := doRequest(t, newTestHandler(t, svc, nil), http.MethodGet, "/v1/publish/jobs?jobId=999", "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown job, got %d", w.Code)
	}
	var rows []types.JobStatus
	decodeData(t, w, &rows)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].State != types.JobStateInactive {
		t.Errorf("expected INACTIVE, got %s", rows[0].State)
	}
	if rows[0].JobID != 999 {
		t.Errorf("expected job id 999, got %d", rows[0].JobID)
	}
}

func TestHandleGetJobs_ConflictingSelectors(t *testing.T) {
	svc := &mockPublishService{}
	w := doRequest(t, newTestHandler(t, svc, nil), http.MethodGet, "/v1/publish/jobs?jobId=1&editionId=2", "")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if code := decodeErrorCode(t, w); code != string(types.ErrCodeValidationParamConflict) {
		t.Errorf("unexpected error code: %s", code)
	}
}

func TestHandleGetJobs_InvalidJobID(t *testing.T) {
	svc := &mockPublishService{}
	w := doRequest(t, newTestHandler(t, svc, nil), http.MethodGet, "/v1/publish/jobs?jobId=abc", "")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleGetJobs_ByRequestID(t *testing.T) {
	svc := &mockPublishService{
		requestJobs: map[string]types.JobID{"req-abc": 42},
		statuses: map[types.JobID]types.JobStatus{
			42: {JobID: 42, State: types.JobStateRunning},
		},
	}
	w := doRequest(t, newTestHandler(t, svc, nil), http.MethodGet, "/v1/publish/jobs?requestId=req-abc", "")

	var rows []types.JobStatus
	decodeData(t, w, &rows)
	if len(rows) != 1 || rows[0].JobID != 42 {
		t.Errorf("unexpected rows: %+v", rows)
	}
}

func TestHandleGetJobs_UnassignedRequestIDIsEmpty(t *testing.T) {
	svc := &mockPublishService{requestJobs: map[string]types.JobID{}}
	w := doRequest(t, newTestHandler(t, svc, nil), http.MethodGet, "/v1/publish/jobs?requestId=req-zzz", "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var rows []types.JobStatus
	decodeData(t, w, &rows)
	if len(rows) != 0 {
		t.Errorf("expected no rows, got %+v", rows)
	}
}

func TestHandleGetJobs_ByEditionID(t *testing.T) {
	svc := &mockPublishService{
		byEdition: map[types.EditionID]types.JobStatus{
			7: {JobID: 11, EditionID: 7, State: types.JobStateRunning},
		},
	}
	w := doRequest(t, newTestHandler(t, svc, nil), http.MethodGet, "/v1/publish/jobs?editionId=7", "")

	var rows []types.JobStatus
	decodeData(t, w, &rows)
	if len(rows) != 1 || rows[0].JobID != 11 {
		t.Errorf("unexpected rows: %+v", rows)
	}
}

// --- POST /v1/publish/jobs ---

func TestHandleStartJob_Success(t *testing.T) {
	svc := &mockPublishService{startJobID: 55}
	w := doRequest(t, newTestHandler(t, svc, nil), http.MethodPost, "/v1/publish/jobs", `{"editionId":7}`)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (body: %s)", w.Code, w.Body.String())
	}
	var resp startJobResponse
	decodeData(t, w, &resp)
	if resp.JobID != 55 {
		t.Errorf("expected job id 55, got %d", resp.JobID)
	}
	if svc.startedWith != 7 {
		t.Errorf("expected edition 7, got %d", svc.startedWith)
	}
}

func TestHandleStartJob_EditionBusyIs409(t *testing.T) {
	svc := &mockPublishService{
		startErr: types.NewAppError(types.ErrCodeSchedulingEditionBusy, "edition already publishing", nil),
	}
	w := doRequest(t, newTestHandler(t, svc, nil), http.MethodPost, "/v1/publish/jobs", `{"editionId":7}`)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if code := decodeErrorCode(t, w); code != string(types.ErrCodeSchedulingEditionBusy) {
		t.Errorf("unexpected error code: %s", code)
	}
}

func TestHandleStartJob_MissingEditionID(t *testing.T) {
	svc := &mockPublishService{}
	w := doRequest(t, newTestHandler(t, svc, nil), http.MethodPost, "/v1/publish/jobs", `{}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

// --- POST /v1/publish/jobs/cancel ---

func TestHandleCancelJob_Always200(t *testing.T) {
	svc := &mockPublishService{}
	w := doRequest(t, newTestHandler(t, svc, nil), http.MethodPost, "/v1/publish/jobs/cancel", `{"stopJob":42}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp cancelJobResponse
	decodeData(t, w, &resp)
	if !resp.Cancelled {
		t.Error("expected cancelled=true")
	}
	if len(svc.cancelled) != 1 || svc.cancelled[0] != 42 {
		t.Errorf("expected cancel of job 42, got %v", svc.cancelled)
	}
}

// --- POST /v1/publish/demand ---

func TestHandleDemand_Success(t *testing.T) {
	svc := &mockPublishService{demandReqID: "req-123"}
	body := `{"contentIds":[1001,1002],"folderId":10,"siteId":301,"generator":"sitefolder"}`
	w := doRequest(t, newTestHandler(t, svc, nil), http.MethodPost, "/v1/publish/demand", body)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (body: %s)", w.Code, w.Body.String())
	}
	var resp demandResponse
	decodeData(t, w, &resp)
	if resp.RequestID != "req-123" {
		t.Errorf("expected requestId req-123, got %q", resp.RequestID)
	}
	if len(svc.demandReq.Items) != 2 || svc.demandReq.Items[0].FolderID != 10 {
		t.Errorf("unexpected demand items: %+v", svc.demandReq.Items)
	}
	if svc.demandReq.SiteID != 301 || svc.demandReq.Generator != "sitefolder" {
		t.Errorf("unexpected demand request: %+v", svc.demandReq)
	}
}

func TestHandleDemand_EmptyContentList(t *testing.T) {
	svc := &mockPublishService{}
	w := doRequest(t, newTestHandler(t, svc, nil), http.MethodPost, "/v1/publish/demand", `{"contentIds":[],"folderId":10}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleDemand_NoMatchingEdition(t *testing.T) {
	svc := &mockPublishService{
		demandErr: types.NewAppError(types.ErrCodeSchedulingNoEdition, "no edition matches the request", nil),
	}
	body := `{"contentIds":[1001],"folderId":10,"siteId":999,"generator":"unknown"}`
	w := doRequest(t, newTestHandler(t, svc, nil), http.MethodPost, "/v1/publish/demand", body)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if code := decodeErrorCode(t, w); code != string(types.ErrCodeSchedulingNoEdition) {
		t.Errorf("unexpected error code: %s", code)
	}
}

// --- POST /v1/publish/changes ---

func TestHandleChangeEvent_Accepted(t *testing.T) {
	svc := &mockPublishService{}
	prop := &mockPropagator{
		result: touch.Result{Touched: []types.ContentID{1, 2, 3}, Recorded: 2},
	}
	body := `{"itemId":1001,"itemTypeId":2,"folderRelationship":true}`
	w := doRequest(t, newTestHandler(t, svc, prop), http.MethodPost, "/v1/publish/changes", body)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (body: %s)", w.Code, w.Body.String())
	}
	var resp changeEventResponse
	decodeData(t, w, &resp)
	if resp.Touched != 3 || resp.Recorded != 2 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if prop.lastEvent.ItemID != 1001 || !prop.lastEvent.FolderRelationship {
		t.Errorf("unexpected event: %+v", prop.lastEvent)
	}
}

func TestHandleChangeEvent_RelationshipPopulated(t *testing.T) {
	svc := &mockPublishService{}
	prop := &mockPropagator{}
	body := `{"itemId":1001,"itemTypeId":2,"relationshipOwner":2002,"relationshipKind":"active_assembly"}`
	doRequest(t, newTestHandler(t, svc, prop), http.MethodPost, "/v1/publish/changes", body)

	rel := prop.lastEvent.Relationship
	if rel == nil {
		t.Fatal("expected relationship on event")
	}
	if rel.OwnerID != 2002 || rel.DependentID != 1001 || rel.Kind != "active_assembly" {
		t.Errorf("unexpected relationship: %+v", rel)
	}
}

func TestHandleChangeEvent_MalformedBody(t *testing.T) {
	svc := &mockPublishService{}
	w := doRequest(t, newTestHandler(t, svc, nil), http.MethodPost, "/v1/publish/changes", `{"itemId":`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
