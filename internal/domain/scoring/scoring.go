// Package scoring turns ledger entries into attributable points and prices
// hardware into multipliers.
package scoring

import (
	"github.com/shopspring/decimal"

	"github.com/okian/teamcomp/internal/domain/model"
)

// Result is the visible contribution derived from one ledger entry.
type Result struct {
	Points           int64
	MultipliedPoints int64
	Units            int64
}

// Multiply applies multiplier to points, rounding half away from zero.
func Multiply(points int64, multiplier float64) int64 {
	return decimal.NewFromInt(points).
		Mul(decimal.NewFromFloat(multiplier)).
		Round(0).
		IntPart()
}

// Summarize computes the contribution of e on hardware with the given
// multiplier. Points offsets are added before flooring the unmultiplied
// total, multiplied offsets after multiplication; each total is floored at
// zero independently. Units are never multiplied.
func Summarize(e model.LedgerEntry, multiplier float64) Result {
	delta := e.Delta()
	return Result{
		Points:           floor(delta.Points + e.Offset.Points),
		MultipliedPoints: floor(Multiply(delta.Points, multiplier) + e.Offset.MultipliedPoints),
		Units:            floor(delta.Units + e.Offset.Units),
	}
}

// DeriveOffset fills in the multiplied offset from the points offset when the
// caller left it at zero.
func DeriveOffset(offset model.OffsetStats, multiplier float64) model.OffsetStats {
	if offset.MultipliedPoints == 0 && offset.Points != 0 {
		offset.MultipliedPoints = Multiply(offset.Points, multiplier)
	}
	return offset
}

// SummarizeUser builds the UserSummary of u. Rank is left for the ranker.
func SummarizeUser(u model.User, hw model.Hardware, e model.LedgerEntry) model.UserSummary {
	r := Summarize(e, hw.Multiplier)
	return model.UserSummary{
		UserID:             u.ID,
		FoldingUserName:    u.FoldingUserName,
		DisplayName:        u.DisplayName,
		Category:           u.Category,
		IsCaptain:          u.IsCaptain,
		TeamID:             u.TeamID,
		HardwareID:         hw.ID,
		HardwareName:       hw.DisplayName,
		HardwareMultiplier: hw.Multiplier,
		ProfileLink:        u.ProfileLink,
		LiveStatsLink:      u.LiveStatsLink,
		Points:             r.Points,
		MultipliedPoints:   r.MultipliedPoints,
		Units:              r.Units,
	}
}

func floor(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
