package service

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/teamcomp/internal/adapters/repository"
	"github.com/okian/teamcomp/internal/domain/model"
	"github.com/okian/teamcomp/internal/domain/ranking"
	"github.com/okian/teamcomp/internal/domain/scoring"
	"github.com/okian/teamcomp/pkg/metrics"
)

// leaderboard is an immutable ranked snapshot. Callers must not modify the
// slices and maps it hands out.
type leaderboard struct {
	generation  uint64
	competition model.CompetitionSummary
	categories  map[model.Category][]model.UserSummary
	teams       map[int]model.TeamSummary
	users       map[int]model.UserSummary
}

// CompetitionSummary returns the whole-competition totals and the ranked
// team leaderboard.
func (s *Service) CompetitionSummary(ctx context.Context) (model.CompetitionSummary, error) {
	lb, err := s.leaderboard(ctx)
	if err != nil {
		return model.CompetitionSummary{}, err
	}
	return lb.competition, nil
}

// TeamSummary returns one team with its users ranked within the team.
func (s *Service) TeamSummary(ctx context.Context, teamID int) (model.TeamSummary, error) {
	lb, err := s.leaderboard(ctx)
	if err != nil {
		return model.TeamSummary{}, err
	}
	t, ok := lb.teams[teamID]
	if !ok {
		return model.TeamSummary{}, fmt.Errorf("team %d: %w", teamID, repository.ErrNotFound)
	}
	return t, nil
}

// UserSummary returns the contribution of one active user, ranked within
// its team.
func (s *Service) UserSummary(ctx context.Context, userID int) (model.UserSummary, error) {
	lb, err := s.leaderboard(ctx)
	if err != nil {
		return model.UserSummary{}, err
	}
	u, ok := lb.users[userID]
	if !ok {
		return model.UserSummary{}, fmt.Errorf("user %d: %w", userID, repository.ErrNotFound)
	}
	return u, nil
}

// CategoryLeaderboard returns the users of every category ranked against
// each other.
func (s *Service) CategoryLeaderboard(ctx context.Context) (map[model.Category][]model.UserSummary, error) {
	lb, err := s.leaderboard(ctx)
	if err != nil {
		return nil, err
	}
	return lb.categories, nil
}

// MonthlyResult returns the saved result of a past month.
func (s *Service) MonthlyResult(ctx context.Context, year int, month time.Month) (model.MonthlyResult, error) {
	return s.store.GetMonthlyResult(ctx, year, month)
}

// MonthlyResults returns every saved month in chronological order.
func (s *Service) MonthlyResults(ctx context.Context) ([]model.MonthlyResult, error) {
	return s.store.ListMonthlyResults(ctx)
}

// RetiredUsers returns every retired contribution of the current month.
func (s *Service) RetiredUsers(ctx context.Context) ([]model.RetiredUserSummary, error) {
	return s.store.ListRetiredUsers(ctx)
}

func (s *Service) invalidate() {
	s.generation.Add(1)
}

// leaderboard returns the cached snapshot, rebuilding it when a write has
// been executed since it was taken.
func (s *Service) leaderboard(ctx context.Context) (*leaderboard, error) {
	gen := s.generation.Load()
	if lb := s.board.Load(); lb != nil && lb.generation == gen {
		return lb, nil
	}

	lb, err := s.buildLeaderboard(ctx)
	if err != nil {
		return nil, err
	}
	lb.generation = gen
	s.board.Store(lb)
	return lb, nil
}

func (s *Service) buildLeaderboard(ctx context.Context) (*leaderboard, error) {
	start := time.Now()
	defer func() { metrics.RecordLeaderboardRebuild(time.Since(start)) }()

	teams, err := s.store.ListTeams(ctx)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	hardware, err := s.store.ListHardware(ctx)
	if err != nil {
		return nil, fmt.Errorf("list hardware: %w", err)
	}
	retired, err := s.store.ListRetiredUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list retired users: %w", err)
	}

	hwByID := make(map[int]model.Hardware, len(hardware))
	for _, hw := range hardware {
		hwByID[hw.ID] = hw
	}

	all := make([]model.UserSummary, 0, len(users))
	active := make(map[int][]model.UserSummary, len(teams))
	for _, u := range users {
		entry, _ := s.ledger.Get(u.ID)
		sum := scoring.SummarizeUser(u, hwByID[u.HardwareID], entry)
		all = append(all, sum)
		active[u.TeamID] = append(active[u.TeamID], sum)
	}
	retiredByTeam := make(map[int][]model.RetiredUserSummary, len(teams))
	for _, r := range retired {
		retiredByTeam[r.TeamID] = append(retiredByTeam[r.TeamID], r)
	}

	summaries := make([]model.TeamSummary, 0, len(teams))
	for _, t := range teams {
		summaries = append(summaries, summarizeTeam(t, active[t.ID], retiredByTeam[t.ID]))
	}

	lb := &leaderboard{
		competition: model.CompetitionSummary{Teams: ranking.RankTeams(summaries)},
		categories:  ranking.RankUsersByCategory(all),
		teams:       make(map[int]model.TeamSummary, len(summaries)),
		users:       make(map[int]model.UserSummary, len(all)),
	}
	for _, t := range lb.competition.Teams {
		lb.competition.Points += t.Points
		lb.competition.MultipliedPoints += t.MultipliedPoints
		lb.competition.Units += t.Units
		lb.teams[t.TeamID] = t
		for _, u := range t.ActiveUsers {
			lb.users[u.UserID] = u
		}
	}
	return lb, nil
}

// summarizeTeam totals the active and retired contributions of t and ranks
// its active users.
func summarizeTeam(t model.Team, active []model.UserSummary, retired []model.RetiredUserSummary) model.TeamSummary {
	ts := model.TeamSummary{
		TeamID:       t.ID,
		TeamName:     t.Name,
		Description:  t.Description,
		ForumLink:    t.ForumLink,
		ActiveUsers:  ranking.RankUsers(active),
		RetiredUsers: retired,
	}
	if ts.RetiredUsers == nil {
		ts.RetiredUsers = []model.RetiredUserSummary{}
	}
	for _, u := range ts.ActiveUsers {
		if u.IsCaptain {
			ts.CaptainName = u.DisplayName
		}
		ts.Points += u.Points
		ts.MultipliedPoints += u.MultipliedPoints
		ts.Units += u.Units
	}
	for _, r := range ts.RetiredUsers {
		ts.Points += r.Points
		ts.MultipliedPoints += r.MultipliedPoints
		ts.Units += r.Units
	}
	return ts
}
