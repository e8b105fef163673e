package model

import "time"

// UserSummary is the computed contribution of an active user.
type UserSummary struct {
	UserID             int      `json:"user_id"`
	FoldingUserName    string   `json:"folding_user_name"`
	DisplayName        string   `json:"display_name"`
	Category           Category `json:"category"`
	IsCaptain          bool     `json:"is_captain"`
	TeamID             int      `json:"team_id"`
	HardwareID         int      `json:"hardware_id"`
	HardwareName       string   `json:"hardware_name"`
	HardwareMultiplier float64  `json:"hardware_multiplier"`
	ProfileLink        string   `json:"profile_link,omitempty"`
	LiveStatsLink      string   `json:"live_stats_link,omitempty"`
	Points             int64    `json:"points"`
	MultipliedPoints   int64    `json:"multiplied_points"`
	Units              int64    `json:"units"`
	Rank               int      `json:"rank"`
}

// RetiredUserSummary is the frozen contribution of a user who left a team.
// It belongs to the team that is owed the credit.
type RetiredUserSummary struct {
	ID               string    `json:"id"`
	TeamID           int       `json:"team_id"`
	UserID           int       `json:"user_id"`
	DisplayName      string    `json:"display_name"`
	Category         Category  `json:"category"`
	HardwareName     string    `json:"hardware_name"`
	Points           int64     `json:"points"`
	MultipliedPoints int64     `json:"multiplied_points"`
	Units            int64     `json:"units"`
	RetiredAt        time.Time `json:"retired_at"`
}

// TeamSummary aggregates active and retired contributions of a team.
type TeamSummary struct {
	TeamID           int                  `json:"team_id"`
	TeamName         string               `json:"team_name"`
	Description      string               `json:"description"`
	ForumLink        string               `json:"forum_link,omitempty"`
	CaptainName      string               `json:"captain_name,omitempty"`
	Points           int64                `json:"points"`
	MultipliedPoints int64                `json:"multiplied_points"`
	Units            int64                `json:"units"`
	Rank             int                  `json:"rank"`
	ActiveUsers      []UserSummary        `json:"active_users"`
	RetiredUsers     []RetiredUserSummary `json:"retired_users"`
}

// CompetitionSummary holds whole-competition totals.
type CompetitionSummary struct {
	Points           int64         `json:"points"`
	MultipliedPoints int64         `json:"multiplied_points"`
	Units            int64         `json:"units"`
	Teams            []TeamSummary `json:"teams"`
}

// MonthlyResult is the historical snapshot of one competition month.
type MonthlyResult struct {
	Year       int                        `json:"year"`
	Month      time.Month                 `json:"month"`
	Teams      []TeamSummary              `json:"teams"`
	Categories map[Category][]UserSummary `json:"categories"`
	SavedAt    time.Time                  `json:"saved_at"`
}
