package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/okian/teamcomp/internal/domain/model"
)

// ChangeDependencies defines the user-change workflow.
type ChangeDependencies interface {
	User(ctx context.Context, id int) (model.User, error)
	UserChanges(ctx context.Context, states ...model.ChangeState) ([]model.UserChange, error)
	UserChange(ctx context.Context, id string) (model.UserChange, error)
	RequestChange(ctx context.Context, userID int, requested model.ChangeValues) (model.UserChange, error)
	ApproveNow(ctx context.Context, id string) (model.UserChange, error)
	ApproveNextMonth(ctx context.Context, id string) (model.UserChange, error)
	Reject(ctx context.Context, id string) (model.UserChange, error)
}

// ChangeHandler handles change requests and their transitions.
type ChangeHandler struct {
	deps ChangeDependencies
}

// NewChangeHandler creates a new change handler.
func NewChangeHandler(deps ChangeDependencies) *ChangeHandler {
	return &ChangeHandler{deps: deps}
}

// changeRequest carries the complete target values. An empty passkey keeps
// the current one.
type changeRequest struct {
	FoldingUserName string `json:"folding_user_name"`
	Passkey         string `json:"passkey"`
	LiveStatsLink   string `json:"live_stats_link"`
	HardwareID      int    `json:"hardware_id"`
	TeamID          int    `json:"team_id"`
}

// HandleList handles GET /changes?state=REQUESTED,APPROVED_NEXT_MONTH.
func (h *ChangeHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_changes"
	var states []model.ChangeState
	for _, raw := range r.URL.Query()["state"] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				states = append(states, model.ChangeState(strings.ToUpper(s)))
			}
		}
	}
	changes, err := h.deps.UserChanges(r.Context(), states...)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

// HandleGet handles GET /changes/{id}.
func (h *ChangeHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_change"
	c, err := h.deps.UserChange(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleRequest handles POST /users/{id}/changes.
func (h *ChangeHandler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	const op = "api.request_change"
	userID, err := intVar(r, "id")
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	var req changeRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, op, err)
		return
	}
	if req.Passkey == "" {
		u, err := h.deps.User(r.Context(), userID)
		if err != nil {
			writeFailure(w, op, err)
			return
		}
		req.Passkey = u.Passkey
	}
	c, err := h.deps.RequestChange(r.Context(), userID, model.ChangeValues{
		FoldingUserName: req.FoldingUserName,
		Passkey:         req.Passkey,
		LiveStatsLink:   req.LiveStatsLink,
		HardwareID:      req.HardwareID,
		TeamID:          req.TeamID,
	})
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// HandleApproveNow handles POST /changes/{id}/approve-now.
func (h *ChangeHandler) HandleApproveNow(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "api.approve_change_now", h.deps.ApproveNow)
}

// HandleApproveNextMonth handles POST /changes/{id}/approve-next-month.
func (h *ChangeHandler) HandleApproveNextMonth(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "api.approve_change_next_month", h.deps.ApproveNextMonth)
}

// HandleReject handles POST /changes/{id}/reject.
func (h *ChangeHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "api.reject_change", h.deps.Reject)
}

func (h *ChangeHandler) transition(w http.ResponseWriter, r *http.Request, op string,
	fn func(context.Context, string) (model.UserChange, error),
) {
	c, err := fn(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
