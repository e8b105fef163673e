package ranking_test

import (
	"testing"

	"github.com/okian/teamcomp/internal/domain/model"
	"github.com/okian/teamcomp/internal/domain/ranking"
	. "github.com/smartystreets/goconvey/convey"
)

func teams(points ...int64) []model.TeamSummary {
	out := make([]model.TeamSummary, len(points))
	for i, p := range points {
		out[i] = model.TeamSummary{TeamID: i + 1, MultipliedPoints: p}
	}
	return out
}

func ranks(ts []model.TeamSummary) []int {
	out := make([]int, len(ts))
	for i, t := range ts {
		out[i] = t.Rank
	}
	return out
}

func TestRankTeams(t *testing.T) {
	Convey("Given team leaderboards", t, func() {
		Convey("When both teams have zero points", func() {
			So(ranks(ranking.RankTeams(teams(0, 0))), ShouldResemble, []int{1, 1})
		})

		Convey("When one team leads", func() {
			So(ranks(ranking.RankTeams(teams(10000, 0))), ShouldResemble, []int{1, 2})
		})

		Convey("When two teams tie for first", func() {
			So(ranks(ranking.RankTeams(teams(10000, 10000, 5000))), ShouldResemble, []int{1, 1, 2})
		})

		Convey("When input is unordered", func() {
			ranked := ranking.RankTeams(teams(5, 50, 5, 500))

			Convey("Then teams are ordered by points then id", func() {
				So(ranked[0].TeamID, ShouldEqual, 4)
				So(ranked[1].TeamID, ShouldEqual, 2)
				So(ranked[2].TeamID, ShouldEqual, 1)
				So(ranked[3].TeamID, ShouldEqual, 3)
				So(ranks(ranked), ShouldResemble, []int{1, 2, 3, 3})
			})
		})

		Convey("When ranking does not touch the input", func() {
			in := teams(1, 2)
			_ = ranking.RankTeams(in)
			So(in[0].TeamID, ShouldEqual, 1)
			So(in[0].Rank, ShouldEqual, 0)
		})

		Convey("When there are no teams", func() {
			So(ranking.RankTeams(nil), ShouldBeEmpty)
		})
	})
}

func TestRankUsersByCategory(t *testing.T) {
	Convey("Given users across categories", t, func() {
		users := []model.UserSummary{
			{UserID: 1, Category: model.CategoryAMDGPU, MultipliedPoints: 100},
			{UserID: 2, Category: model.CategoryAMDGPU, MultipliedPoints: 300},
			{UserID: 3, Category: model.CategoryNvidiaGPU, MultipliedPoints: 50},
			{UserID: 4, Category: model.CategoryAMDGPU, MultipliedPoints: 300},
		}

		byCategory := ranking.RankUsersByCategory(users)

		Convey("Then each category is ranked independently", func() {
			amd := byCategory[model.CategoryAMDGPU]
			So(len(amd), ShouldEqual, 3)
			So(amd[0].UserID, ShouldEqual, 2)
			So(amd[0].Rank, ShouldEqual, 1)
			So(amd[1].UserID, ShouldEqual, 4)
			So(amd[1].Rank, ShouldEqual, 1)
			So(amd[2].Rank, ShouldEqual, 2)

			So(byCategory[model.CategoryNvidiaGPU][0].Rank, ShouldEqual, 1)
		})

		Convey("Then empty categories are present", func() {
			wildcard, ok := byCategory[model.CategoryWildcard]
			So(ok, ShouldBeTrue)
			So(wildcard, ShouldBeEmpty)
		})
	})
}
