package api

import (
	"context"
	"net/http"
	"time"

	service "github.com/okian/teamcomp/internal/app"
	"github.com/okian/teamcomp/internal/domain/model"
	"github.com/okian/teamcomp/internal/domain/state"
)

// OperationsDependencies defines the manual ledger operations.
type OperationsDependencies interface {
	ApplyOffset(ctx context.Context, userID int, offset model.OffsetStats) (model.LedgerEntry, error)
	ManualUpdate(ctx context.Context) (service.IngestReport, error)
	ManualReset(ctx context.Context) error
	SystemState() state.SystemState
	Parsing() state.ParsingState
	SetParsing(ctx context.Context, p state.ParsingState) error
}

// OperationsHandler handles offsets, manual runs and the system state.
type OperationsHandler struct {
	deps OperationsDependencies
}

// NewOperationsHandler creates a new operations handler.
func NewOperationsHandler(deps OperationsDependencies) *OperationsHandler {
	return &OperationsHandler{deps: deps}
}

type stateResponse struct {
	SystemState  state.SystemState  `json:"system_state"`
	ParsingState state.ParsingState `json:"parsing_state"`
}

type parsingRequest struct {
	ParsingState state.ParsingState `json:"parsing_state"`
}

type failureResponse struct {
	UserID int    `json:"user_id"`
	Error  string `json:"error"`
}

type ingestResponse struct {
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Users      int               `json:"users"`
	Succeeded  int               `json:"succeeded"`
	Failures   []failureResponse `json:"failures"`
}

func newIngestResponse(r service.IngestReport) ingestResponse {
	resp := ingestResponse{
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Users:      r.Users,
		Succeeded:  r.Succeeded,
		Failures:   make([]failureResponse, 0, len(r.Failures)),
	}
	for _, f := range r.Failures {
		resp.Failures = append(resp.Failures, failureResponse{UserID: f.UserID, Error: f.Err.Error()})
	}
	return resp
}

// HandleApplyOffset handles POST /users/{id}/offset.
func (h *OperationsHandler) HandleApplyOffset(w http.ResponseWriter, r *http.Request) {
	const op = "api.apply_offset"
	id, err := intVar(r, "id")
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	var req model.OffsetStats
	if err := decode(r, &req); err != nil {
		writeFailure(w, op, err)
		return
	}
	entry, err := h.deps.ApplyOffset(r.Context(), id, req)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// HandleManualUpdate handles POST /manual/update. Per-user failures are
// reported in the body of a 200 response.
func (h *OperationsHandler) HandleManualUpdate(w http.ResponseWriter, r *http.Request) {
	const op = "api.manual_update"
	report, err := h.deps.ManualUpdate(r.Context())
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, newIngestResponse(report))
}

// HandleManualReset handles POST /manual/reset.
func (h *OperationsHandler) HandleManualReset(w http.ResponseWriter, r *http.Request) {
	const op = "api.manual_reset"
	if err := h.deps.ManualReset(r.Context()); err != nil {
		writeFailure(w, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetState handles GET /state.
func (h *OperationsHandler) HandleGetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, stateResponse{
		SystemState:  h.deps.SystemState(),
		ParsingState: h.deps.Parsing(),
	})
}

// HandleSetParsing handles PUT /state/parsing.
func (h *OperationsHandler) HandleSetParsing(w http.ResponseWriter, r *http.Request) {
	const op = "api.set_parsing"
	var req parsingRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, op, err)
		return
	}
	if !req.ParsingState.Valid() {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	if err := h.deps.SetParsing(r.Context(), req.ParsingState); err != nil {
		writeFailure(w, op, err)
		return
	}
	h.HandleGetState(w, r)
}
