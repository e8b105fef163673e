// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/okian/teamcomp/internal/adapters/client/stats"
	"github.com/okian/teamcomp/internal/adapters/repository"
	service "github.com/okian/teamcomp/internal/app"
	"github.com/okian/teamcomp/internal/domain/ledger"
	"github.com/okian/teamcomp/internal/domain/state"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the engine.
type Dependencies interface {
	StatsProvider
	SummaryDependencies
	AdminDependencies
	OperationsDependencies
	ChangeDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	summaryHandler    *SummaryHandler
	adminHandler      *AdminHandler
	operationsHandler *OperationsHandler
	changeHandler     *ChangeHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler:     NewHealthHandler(),
		statsHandler:      NewStatsHandler(deps),
		summaryHandler:    NewSummaryHandler(deps),
		adminHandler:      NewAdminHandler(deps),
		operationsHandler: NewOperationsHandler(deps),
		changeHandler:     NewChangeHandler(deps),
	}
}

// Register attaches all HTTP routes to router.
func (s *Server) Register(router *mux.Router) {
	route := func(path, name string, h http.HandlerFunc, methods ...string) {
		router.HandleFunc(path, MetricsMiddleware(h, name)).Methods(methods...)
	}

	route("/healthz", "healthz", s.healthHandler.HandleHealth, http.MethodGet)
	route("/stats", "stats", s.statsHandler.HandleStats, http.MethodGet)

	// Summaries and leaderboards
	route("/summary", "summary", s.summaryHandler.HandleCompetition, http.MethodGet)
	route("/leaderboard/teams", "leaderboard_teams", s.summaryHandler.HandleTeamLeaderboard, http.MethodGet)
	route("/leaderboard/categories", "leaderboard_categories", s.summaryHandler.HandleCategoryLeaderboard, http.MethodGet)
	route("/teams/{id:[0-9]+}/summary", "team_summary", s.summaryHandler.HandleTeamSummary, http.MethodGet)
	route("/users/{id:[0-9]+}/summary", "user_summary", s.summaryHandler.HandleUserSummary, http.MethodGet)
	route("/retired-users", "retired_users", s.summaryHandler.HandleRetiredUsers, http.MethodGet)
	route("/results", "results", s.summaryHandler.HandleMonthlyResults, http.MethodGet)
	route("/results/{year:[0-9]{4}}/{month:[0-9]{1,2}}", "result", s.summaryHandler.HandleMonthlyResult, http.MethodGet)
	route("/results/{year:[0-9]{4}}/{month:[0-9]{1,2}}", "result_save", s.summaryHandler.HandleSaveMonthlyResult, http.MethodPost)

	// Admin
	route("/teams", "teams", s.adminHandler.HandleListTeams, http.MethodGet)
	route("/teams", "team_create", s.adminHandler.HandleCreateTeam, http.MethodPost)
	route("/teams/{id:[0-9]+}", "team", s.adminHandler.HandleGetTeam, http.MethodGet)
	route("/teams/{id:[0-9]+}", "team_update", s.adminHandler.HandleUpdateTeam, http.MethodPut)
	route("/teams/{id:[0-9]+}", "team_delete", s.adminHandler.HandleDeleteTeam, http.MethodDelete)
	route("/hardware", "hardware_list", s.adminHandler.HandleListHardware, http.MethodGet)
	route("/hardware", "hardware_create", s.adminHandler.HandleCreateHardware, http.MethodPost)
	route("/hardware/reprice", "hardware_reprice", s.adminHandler.HandleReprice, http.MethodPost)
	route("/hardware/{id:[0-9]+}", "hardware", s.adminHandler.HandleGetHardware, http.MethodGet)
	route("/hardware/{id:[0-9]+}", "hardware_update", s.adminHandler.HandleUpdateHardware, http.MethodPut)
	route("/hardware/{id:[0-9]+}", "hardware_delete", s.adminHandler.HandleDeleteHardware, http.MethodDelete)
	route("/users", "users", s.adminHandler.HandleListUsers, http.MethodGet)
	route("/users", "user_create", s.adminHandler.HandleCreateUser, http.MethodPost)
	route("/users/{id:[0-9]+}", "user", s.adminHandler.HandleGetUser, http.MethodGet)
	route("/users/{id:[0-9]+}", "user_update", s.adminHandler.HandleUpdateUser, http.MethodPut)
	route("/users/{id:[0-9]+}", "user_delete", s.adminHandler.HandleDeleteUser, http.MethodDelete)

	// Operations
	route("/users/{id:[0-9]+}/offset", "offset", s.operationsHandler.HandleApplyOffset, http.MethodPost)
	route("/manual/update", "manual_update", s.operationsHandler.HandleManualUpdate, http.MethodPost)
	route("/manual/reset", "manual_reset", s.operationsHandler.HandleManualReset, http.MethodPost)
	route("/state", "state", s.operationsHandler.HandleGetState, http.MethodGet)
	route("/state/parsing", "parsing", s.operationsHandler.HandleSetParsing, http.MethodPut)

	// User changes
	route("/changes", "changes", s.changeHandler.HandleList, http.MethodGet)
	route("/changes/{id}", "change", s.changeHandler.HandleGet, http.MethodGet)
	route("/users/{id:[0-9]+}/changes", "change_request", s.changeHandler.HandleRequest, http.MethodPost)
	route("/changes/{id}/approve-now", "change_approve_now", s.changeHandler.HandleApproveNow, http.MethodPost)
	route("/changes/{id}/approve-next-month", "change_approve_next_month", s.changeHandler.HandleApproveNextMonth, http.MethodPost)
	route("/changes/{id}/reject", "change_reject", s.changeHandler.HandleReject, http.MethodPost)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure translates an engine error into its HTTP status.
func writeFailure(w http.ResponseWriter, op string, err error) {
	status, code := classify(err)
	writeError(w, status, code, Wrap(op, err))
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, ledger.ErrUnknownUser):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, state.ErrStateConflict):
		return http.StatusConflict, "system_busy"
	case errors.Is(err, service.ErrInvalidState),
		errors.Is(err, service.ErrDuplicateChange),
		errors.Is(err, service.ErrInUse),
		errors.Is(err, service.ErrCategoryFull),
		errors.Is(err, service.ErrCaptainTaken),
		errors.Is(err, repository.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, service.ErrIncompatibleCategory),
		errors.Is(err, stats.ErrNoWorkUnits),
		errors.Is(err, service.ErrIngestionDisabled),
		errors.Is(err, state.ErrInvalidTransition):
		return http.StatusUnprocessableEntity, "rejected"
	case errors.Is(err, service.ErrRetrieval):
		return http.StatusBadGateway, "retrieval_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}

func intVar(r *http.Request, name string) (int, error) {
	n, err := strconv.Atoi(mux.Vars(r)[name])
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrBadRequest, name, err)
	}
	return n, nil
}

func monthVars(r *http.Request) (int, time.Month, error) {
	year, err := intVar(r, "year")
	if err != nil {
		return 0, 0, err
	}
	month, err := intVar(r, "month")
	if err != nil {
		return 0, 0, err
	}
	if month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("%w: month %d out of range", ErrBadRequest, month)
	}
	return year, time.Month(month), nil
}
