package api

import (
	"context"
	"net/http"

	"github.com/okian/teamcomp/internal/domain/model"
)

// AdminDependencies defines team, hardware and user maintenance.
type AdminDependencies interface {
	Teams(ctx context.Context) ([]model.Team, error)
	Team(ctx context.Context, id int) (model.Team, error)
	CreateTeam(ctx context.Context, t model.Team) (model.Team, error)
	UpdateTeam(ctx context.Context, t model.Team) error
	DeleteTeam(ctx context.Context, id int) error

	HardwareList(ctx context.Context) ([]model.Hardware, error)
	Hardware(ctx context.Context, id int) (model.Hardware, error)
	CreateHardware(ctx context.Context, hw model.Hardware) (model.Hardware, error)
	UpdateHardware(ctx context.Context, hw model.Hardware) error
	DeleteHardware(ctx context.Context, id int) error
	Reprice(ctx context.Context) ([]model.Hardware, error)

	Users(ctx context.Context) ([]model.User, error)
	User(ctx context.Context, id int) (model.User, error)
	CreateUser(ctx context.Context, u model.User) (model.User, error)
	UpdateUser(ctx context.Context, u model.User) error
	DeleteUser(ctx context.Context, id int) error
}

// AdminHandler handles the CRUD routes.
type AdminHandler struct {
	deps AdminDependencies
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(deps AdminDependencies) *AdminHandler {
	return &AdminHandler{deps: deps}
}

// userRequest carries the passkey, which model.User never serializes.
type userRequest struct {
	FoldingUserName string         `json:"folding_user_name"`
	DisplayName     string         `json:"display_name"`
	Passkey         string         `json:"passkey"`
	Category        model.Category `json:"category"`
	ProfileLink     string         `json:"profile_link"`
	LiveStatsLink   string         `json:"live_stats_link"`
	IsCaptain       bool           `json:"is_captain"`
	TeamID          int            `json:"team_id"`
	HardwareID      int            `json:"hardware_id"`
}

func (req userRequest) user(id int) model.User {
	return model.User{
		ID:              id,
		FoldingUserName: req.FoldingUserName,
		DisplayName:     req.DisplayName,
		Passkey:         req.Passkey,
		Category:        req.Category,
		ProfileLink:     req.ProfileLink,
		LiveStatsLink:   req.LiveStatsLink,
		IsCaptain:       req.IsCaptain,
		TeamID:          req.TeamID,
		HardwareID:      req.HardwareID,
	}
}

// HandleListTeams handles GET /teams.
func (h *AdminHandler) HandleListTeams(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_teams"
	teams, err := h.deps.Teams(r.Context())
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, teams)
}

// HandleGetTeam handles GET /teams/{id}.
func (h *AdminHandler) HandleGetTeam(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_team"
	id, err := intVar(r, "id")
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	team, err := h.deps.Team(r.Context(), id)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

// HandleCreateTeam handles POST /teams.
func (h *AdminHandler) HandleCreateTeam(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_team"
	var req model.Team
	if err := decode(r, &req); err != nil {
		writeFailure(w, op, err)
		return
	}
	req.ID = 0
	created, err := h.deps.CreateTeam(r.Context(), req)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// HandleUpdateTeam handles PUT /teams/{id}.
func (h *AdminHandler) HandleUpdateTeam(w http.ResponseWriter, r *http.Request) {
	const op = "api.update_team"
	id, err := intVar(r, "id")
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	var req model.Team
	if err := decode(r, &req); err != nil {
		writeFailure(w, op, err)
		return
	}
	req.ID = id
	if err := h.deps.UpdateTeam(r.Context(), req); err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// HandleDeleteTeam handles DELETE /teams/{id}.
func (h *AdminHandler) HandleDeleteTeam(w http.ResponseWriter, r *http.Request) {
	const op = "api.delete_team"
	id, err := intVar(r, "id")
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	if err := h.deps.DeleteTeam(r.Context(), id); err != nil {
		writeFailure(w, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListHardware handles GET /hardware.
func (h *AdminHandler) HandleListHardware(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_hardware"
	list, err := h.deps.HardwareList(r.Context())
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleGetHardware handles GET /hardware/{id}.
func (h *AdminHandler) HandleGetHardware(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_hardware"
	id, err := intVar(r, "id")
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	hw, err := h.deps.Hardware(r.Context(), id)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, hw)
}

// HandleCreateHardware handles POST /hardware.
func (h *AdminHandler) HandleCreateHardware(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_hardware"
	var req model.Hardware
	if err := decode(r, &req); err != nil {
		writeFailure(w, op, err)
		return
	}
	req.ID = 0
	created, err := h.deps.CreateHardware(r.Context(), req)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// HandleUpdateHardware handles PUT /hardware/{id}.
func (h *AdminHandler) HandleUpdateHardware(w http.ResponseWriter, r *http.Request) {
	const op = "api.update_hardware"
	id, err := intVar(r, "id")
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	var req model.Hardware
	if err := decode(r, &req); err != nil {
		writeFailure(w, op, err)
		return
	}
	req.ID = id
	if err := h.deps.UpdateHardware(r.Context(), req); err != nil {
		writeFailure(w, op, err)
		return
	}
	updated, err := h.deps.Hardware(r.Context(), id)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// HandleDeleteHardware handles DELETE /hardware/{id}.
func (h *AdminHandler) HandleDeleteHardware(w http.ResponseWriter, r *http.Request) {
	const op = "api.delete_hardware"
	id, err := intVar(r, "id")
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	if err := h.deps.DeleteHardware(r.Context(), id); err != nil {
		writeFailure(w, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleReprice handles POST /hardware/reprice.
func (h *AdminHandler) HandleReprice(w http.ResponseWriter, r *http.Request) {
	const op = "api.reprice"
	list, err := h.deps.Reprice(r.Context())
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleListUsers handles GET /users.
func (h *AdminHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_users"
	users, err := h.deps.Users(r.Context())
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// HandleGetUser handles GET /users/{id}.
func (h *AdminHandler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_user"
	id, err := intVar(r, "id")
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	u, err := h.deps.User(r.Context(), id)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// HandleCreateUser handles POST /users.
func (h *AdminHandler) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_user"
	var req userRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, op, err)
		return
	}
	created, err := h.deps.CreateUser(r.Context(), req.user(0))
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// HandleUpdateUser handles PUT /users/{id}. An empty passkey keeps the
// stored one.
func (h *AdminHandler) HandleUpdateUser(w http.ResponseWriter, r *http.Request) {
	const op = "api.update_user"
	id, err := intVar(r, "id")
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	var req userRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, op, err)
		return
	}
	if req.Passkey == "" {
		current, err := h.deps.User(r.Context(), id)
		if err != nil {
			writeFailure(w, op, err)
			return
		}
		req.Passkey = current.Passkey
	}
	if err := h.deps.UpdateUser(r.Context(), req.user(id)); err != nil {
		writeFailure(w, op, err)
		return
	}
	updated, err := h.deps.User(r.Context(), id)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// HandleDeleteUser handles DELETE /users/{id}.
func (h *AdminHandler) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	const op = "api.delete_user"
	id, err := intVar(r, "id")
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	if err := h.deps.DeleteUser(r.Context(), id); err != nil {
		writeFailure(w, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
