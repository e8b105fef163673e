package model

import "time"

// ChangeState is the lifecycle state of a UserChange.
type ChangeState string

// UserChange states. Everything but ChangeRequested is terminal.
const (
	ChangeRequested         ChangeState = "REQUESTED"
	ChangeApprovedNow       ChangeState = "APPROVED_NOW"
	ChangeApprovedNextMonth ChangeState = "APPROVED_NEXT_MONTH"
	ChangeRejected          ChangeState = "REJECTED"
)

// Terminal reports whether no further transition is allowed from s.
func (s ChangeState) Terminal() bool {
	return s != ChangeRequested
}

// Valid reports whether s is a known state.
func (s ChangeState) Valid() bool {
	switch s {
	case ChangeRequested, ChangeApprovedNow, ChangeApprovedNextMonth, ChangeRejected:
		return true
	}
	return false
}

// ChangeValues are the user attributes a change request may alter. A
// request always carries the complete target values.
type ChangeValues struct {
	FoldingUserName string `json:"folding_user_name"`
	Passkey         string `json:"-"`
	LiveStatsLink   string `json:"live_stats_link,omitempty"`
	HardwareID      int    `json:"hardware_id"`
	TeamID          int    `json:"team_id"`
}

// ValuesOf extracts the changeable attributes of u.
func ValuesOf(u User) ChangeValues {
	return ChangeValues{
		FoldingUserName: u.FoldingUserName,
		Passkey:         u.Passkey,
		LiveStatsLink:   u.LiveStatsLink,
		HardwareID:      u.HardwareID,
		TeamID:          u.TeamID,
	}
}

// Apply returns u with the requested values set.
func (v ChangeValues) Apply(u User) User {
	u.FoldingUserName = v.FoldingUserName
	u.Passkey = v.Passkey
	u.LiveStatsLink = v.LiveStatsLink
	u.HardwareID = v.HardwareID
	u.TeamID = v.TeamID
	return u
}

// UserChange is a request to alter a user's identity, hardware or team.
type UserChange struct {
	ID        string       `json:"id"`
	UserID    int          `json:"user_id"`
	Previous  ChangeValues `json:"previous"`
	Requested ChangeValues `json:"requested"`
	State     ChangeState  `json:"state"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	AppliedAt time.Time    `json:"applied_at,omitzero"`
}

// Pending reports whether c was approved for next month and has not yet
// been applied.
func (c UserChange) Pending() bool {
	return c.State == ChangeApprovedNextMonth && c.AppliedAt.IsZero()
}
