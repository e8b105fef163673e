package model

// RawStats holds cumulative counters as reported by the external project.
type RawStats struct {
	Points int64 `json:"points"`
	Units  int64 `json:"units"`
}

// Sub returns s minus o component-wise.
func (s RawStats) Sub(o RawStats) RawStats {
	return RawStats{Points: s.Points - o.Points, Units: s.Units - o.Units}
}

// Regressed reports whether s is lower than prior in either counter.
func (s RawStats) Regressed(prior RawStats) bool {
	return s.Points < prior.Points || s.Units < prior.Units
}

// OffsetStats is a manually entered adjustment, cumulative within an
// attribution period.
type OffsetStats struct {
	Points           int64 `json:"points"`
	MultipliedPoints int64 `json:"multiplied_points"`
	Units            int64 `json:"units"`
}

// Add returns the component-wise sum of o and other.
func (o OffsetStats) Add(other OffsetStats) OffsetStats {
	return OffsetStats{
		Points:           o.Points + other.Points,
		MultipliedPoints: o.MultipliedPoints + other.MultipliedPoints,
		Units:            o.Units + other.Units,
	}
}

// IsZero reports whether no adjustment is recorded.
func (o OffsetStats) IsZero() bool {
	return o == OffsetStats{}
}

// LedgerEntry is the per-user accounting row: the latest raw reading, the
// baseline taken when the current attribution period began, and the
// offsets applied during it.
type LedgerEntry struct {
	UserID   int         `json:"user_id"`
	Raw      RawStats    `json:"raw"`
	Baseline RawStats    `json:"baseline"`
	Offset   OffsetStats `json:"offset"`
}

// Delta is the contribution accrued since the baseline, floored at zero.
func (e LedgerEntry) Delta() RawStats {
	d := e.Raw.Sub(e.Baseline)
	if d.Points < 0 {
		d.Points = 0
	}
	if d.Units < 0 {
		d.Units = 0
	}
	return d
}
