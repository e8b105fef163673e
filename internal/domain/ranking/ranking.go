// Package ranking orders summaries into dense-ranked leaderboards. It holds
// no state and is safe for any number of concurrent callers.
package ranking

import (
	"sort"

	"github.com/okian/teamcomp/internal/domain/model"
)

// DenseRank sorts items by points descending, breaking ties by id ascending,
// and assigns dense ranks: equal points share a rank and the next distinct
// value takes the next integer. items is sorted in place.
func DenseRank[T any](items []T, points func(T) int64, id func(T) int, setRank func(*T, int)) {
	sort.SliceStable(items, func(i, j int) bool {
		pi, pj := points(items[i]), points(items[j])
		if pi != pj {
			return pi > pj
		}
		return id(items[i]) < id(items[j])
	})

	rank := 0
	for i := range items {
		if i == 0 || points(items[i]) != points(items[i-1]) {
			rank++
		}
		setRank(&items[i], rank)
	}
}

// RankTeams returns a ranked copy of teams.
func RankTeams(teams []model.TeamSummary) []model.TeamSummary {
	out := make([]model.TeamSummary, len(teams))
	copy(out, teams)
	DenseRank(out,
		func(t model.TeamSummary) int64 { return t.MultipliedPoints },
		func(t model.TeamSummary) int { return t.TeamID },
		func(t *model.TeamSummary, r int) { t.Rank = r },
	)
	return out
}

// RankUsers returns a ranked copy of users. Used both for rank-within-team
// and for category leaderboards.
func RankUsers(users []model.UserSummary) []model.UserSummary {
	out := make([]model.UserSummary, len(users))
	copy(out, users)
	DenseRank(out,
		func(u model.UserSummary) int64 { return u.MultipliedPoints },
		func(u model.UserSummary) int { return u.UserID },
		func(u *model.UserSummary, r int) { u.Rank = r },
	)
	return out
}

// RankUsersByCategory groups users by category and ranks each group.
// Every known category is present in the result, possibly empty.
func RankUsersByCategory(users []model.UserSummary) map[model.Category][]model.UserSummary {
	grouped := make(map[model.Category][]model.UserSummary, len(model.Categories()))
	for _, c := range model.Categories() {
		grouped[c] = []model.UserSummary{}
	}
	for _, u := range users {
		grouped[u.Category] = append(grouped[u.Category], u)
	}
	for c, group := range grouped {
		grouped[c] = RankUsers(group)
	}
	return grouped
}
