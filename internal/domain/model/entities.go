package model

// Team is a scoring group.
type Team struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ForumLink   string `json:"forum_link,omitempty"`
}

// Hardware is a multiplier source.
type Hardware struct {
	ID          int          `json:"id"`
	Name        string       `json:"name"`
	DisplayName string       `json:"display_name"`
	Make        HardwareMake `json:"make"`
	Type        HardwareType `json:"type"`
	Multiplier  float64      `json:"multiplier"`
	AveragePPD  float64      `json:"average_ppd"`
}

// User is a competition participant. TeamID and HardwareID are weak
// references resolved through the store.
type User struct {
	ID              int      `json:"id"`
	FoldingUserName string   `json:"folding_user_name"`
	DisplayName     string   `json:"display_name"`
	Passkey         string   `json:"-"`
	Category        Category `json:"category"`
	ProfileLink     string   `json:"profile_link,omitempty"`
	LiveStatsLink   string   `json:"live_stats_link,omitempty"`
	IsCaptain       bool     `json:"is_captain"`
	TeamID          int      `json:"team_id"`
	HardwareID      int      `json:"hardware_id"`
}
