package dto

// ReputationResponseDTO describes a user's reputation and remaining quota.
type ReputationResponseDTO struct {
	UserID     string `json:"user_id"`
	Tier       string `json:"tier"`
	Score      int    `json:"score"`
	DailyLimit int    `json:"daily_limit"`
	UsedToday  int    `json:"used_today"`
	// RemainingToday is -1 for unlimited tiers.
	RemainingToday int    `json:"remaining_today"`
	Date           string `json:"date"`
}

// AdminSetReputationDTO sets a user's tier and score directly.
type AdminSetReputationDTO struct {
	Tier  string `json:"tier" validate:"required"`
	Score int    `json:"score"`
	// DailyLimit overrides the tier default when set; -1 means unlimited.
	DailyLimit *int `json:"daily_limit,omitempty"`
}

// RecalculateReputationDTO carries behavioral signals for reclassification.
type RecalculateReputationDTO struct {
	ProfileCompletionPct int     `json:"profile_completion_pct" validate:"min=0,max=100"`
	Verified             bool    `json:"verified"`
	ResponseRate         float64 `json:"response_rate" validate:"min=0,max=1"`
	BlocksReceived       int     `json:"blocks_received" validate:"min=0"`
	ReportsReceived      int     `json:"reports_received" validate:"min=0"`
	AccountAgeDays       int     `json:"account_age_days" validate:"min=0"`
}
