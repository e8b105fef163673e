package api

import (
	"context"
	"net/http"
	"time"

	"github.com/okian/teamcomp/internal/domain/model"
)

// SummaryDependencies defines the read side of the competition.
type SummaryDependencies interface {
	CompetitionSummary(ctx context.Context) (model.CompetitionSummary, error)
	TeamSummary(ctx context.Context, teamID int) (model.TeamSummary, error)
	UserSummary(ctx context.Context, userID int) (model.UserSummary, error)
	CategoryLeaderboard(ctx context.Context) (map[model.Category][]model.UserSummary, error)
	RetiredUsers(ctx context.Context) ([]model.RetiredUserSummary, error)
	MonthlyResults(ctx context.Context) ([]model.MonthlyResult, error)
	MonthlyResult(ctx context.Context, year int, month time.Month) (model.MonthlyResult, error)
	SaveMonthlyResult(ctx context.Context, year int, month time.Month) (model.MonthlyResult, error)
}

// SummaryHandler serves summaries, leaderboards and monthly results.
type SummaryHandler struct {
	deps SummaryDependencies
}

// NewSummaryHandler creates a new summary handler.
func NewSummaryHandler(deps SummaryDependencies) *SummaryHandler {
	return &SummaryHandler{deps: deps}
}

// HandleCompetition handles GET /summary.
func (h *SummaryHandler) HandleCompetition(w http.ResponseWriter, r *http.Request) {
	const op = "api.competition_summary"
	summary, err := h.deps.CompetitionSummary(r.Context())
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// teamRow is a team leaderboard line without the per-user breakdown.
type teamRow struct {
	Rank             int    `json:"rank"`
	TeamID           int    `json:"team_id"`
	TeamName         string `json:"team_name"`
	CaptainName      string `json:"captain_name,omitempty"`
	Points           int64  `json:"points"`
	MultipliedPoints int64  `json:"multiplied_points"`
	Units            int64  `json:"units"`
}

// HandleTeamLeaderboard handles GET /leaderboard/teams.
func (h *SummaryHandler) HandleTeamLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.team_leaderboard"
	summary, err := h.deps.CompetitionSummary(r.Context())
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	rows := make([]teamRow, 0, len(summary.Teams))
	for _, t := range summary.Teams {
		rows = append(rows, teamRow{
			Rank:             t.Rank,
			TeamID:           t.TeamID,
			TeamName:         t.TeamName,
			CaptainName:      t.CaptainName,
			Points:           t.Points,
			MultipliedPoints: t.MultipliedPoints,
			Units:            t.Units,
		})
	}
	writeJSON(w, http.StatusOK, rows)
}

// HandleCategoryLeaderboard handles GET /leaderboard/categories.
func (h *SummaryHandler) HandleCategoryLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.category_leaderboard"
	board, err := h.deps.CategoryLeaderboard(r.Context())
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// HandleTeamSummary handles GET /teams/{id}/summary.
func (h *SummaryHandler) HandleTeamSummary(w http.ResponseWriter, r *http.Request) {
	const op = "api.team_summary"
	id, err := intVar(r, "id")
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	summary, err := h.deps.TeamSummary(r.Context(), id)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleUserSummary handles GET /users/{id}/summary.
func (h *SummaryHandler) HandleUserSummary(w http.ResponseWriter, r *http.Request) {
	const op = "api.user_summary"
	id, err := intVar(r, "id")
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	summary, err := h.deps.UserSummary(r.Context(), id)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleRetiredUsers handles GET /retired-users.
func (h *SummaryHandler) HandleRetiredUsers(w http.ResponseWriter, r *http.Request) {
	const op = "api.retired_users"
	retired, err := h.deps.RetiredUsers(r.Context())
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, retired)
}

// HandleMonthlyResults handles GET /results.
func (h *SummaryHandler) HandleMonthlyResults(w http.ResponseWriter, r *http.Request) {
	const op = "api.monthly_results"
	results, err := h.deps.MonthlyResults(r.Context())
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// HandleMonthlyResult handles GET /results/{year}/{month}.
func (h *SummaryHandler) HandleMonthlyResult(w http.ResponseWriter, r *http.Request) {
	const op = "api.monthly_result"
	year, month, err := monthVars(r)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	result, err := h.deps.MonthlyResult(r.Context(), year, month)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleSaveMonthlyResult handles POST /results/{year}/{month}. The current
// standings replace any result already stored for that month.
func (h *SummaryHandler) HandleSaveMonthlyResult(w http.ResponseWriter, r *http.Request) {
	const op = "api.save_monthly_result"
	year, month, err := monthVars(r)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	result, err := h.deps.SaveMonthlyResult(r.Context(), year, month)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}
