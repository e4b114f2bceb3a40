package model

import "time"

// ReputationTier classifies a user by accumulated reputation. Tiers form a
// total order; compare them through Rank or CompareTiers, never by the string
// value.
type ReputationTier string

const (
	TierNew           ReputationTier = "new"
	TierActive        ReputationTier = "active"
	TierEstablished   ReputationTier = "established"
	TierTrusted       ReputationTier = "trusted"
	TierDistinguished ReputationTier = "distinguished"
)

// UnlimitedConversations marks a tier with no daily cap on new higher-tier
// conversations.
const UnlimitedConversations = -1

var tierRanks = map[ReputationTier]int{
	TierNew:           0,
	TierActive:        1,
	TierEstablished:   2,
	TierTrusted:       3,
	TierDistinguished: 4,
}

var tierDailyLimits = map[ReputationTier]int{
	TierNew:           1,
	TierActive:        3,
	TierEstablished:   5,
	TierTrusted:       10,
	TierDistinguished: UnlimitedConversations,
}

// Valid reports whether t is one of the known tiers.
func (t ReputationTier) Valid() bool {
	_, ok := tierRanks[t]
	return ok
}

// Rank returns the position of t in the tier order, or -1 for an unknown tier.
func (t ReputationTier) Rank() int {
	rank, ok := tierRanks[t]
	if !ok {
		return -1
	}
	return rank
}

// DailyHigherTierLimit returns how many new conversations with strictly
// higher-tier users a member of tier t may start per day.
// UnlimitedConversations means no cap. Unknown tiers get the most restrictive
// limit.
func (t ReputationTier) DailyHigherTierLimit() int {
	limit, ok := tierDailyLimits[t]
	if !ok {
		return tierDailyLimits[TierNew]
	}
	return limit
}

// CompareTiers returns -1 if a ranks below b, 0 if equal, 1 if a ranks above b.
func CompareTiers(a, b ReputationTier) int {
	ra, rb := a.Rank(), b.Rank()
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	default:
		return 0
	}
}

// UserReputation is the per-user reputation record: current tier and score,
// and the daily counter of conversations started with higher-tier users.
type UserReputation struct {
	UserID                       string         `db:"user_id" json:"user_id"`
	Tier                         ReputationTier `db:"tier" json:"tier"`
	Score                        int            `db:"score" json:"score"`
	DailyLimit                   int            `db:"daily_limit" json:"daily_limit"`
	HigherTierConversationsToday int            `db:"higher_tier_conversations_today" json:"higher_tier_conversations_today"`
	LastConversationDate         string         `db:"last_conversation_date" json:"last_conversation_date"`
	UpdatedAt                    time.Time      `db:"updated_at" json:"updated_at"`
}

// NewUserReputation returns the record created alongside a new account:
// lowest tier, zero score, counter at zero.
func NewUserReputation(userID string) *UserReputation {
	return &UserReputation{
		UserID:     userID,
		Tier:       TierNew,
		DailyLimit: TierNew.DailyHigherTierLimit(),
	}
}

// ConversationsToday returns the counter as of the given day key, applying the
// lazy reset: a counter carried over from a previous day reads as zero. The
// persisted value is only rewritten on the next increment.
func (r *UserReputation) ConversationsToday(day string) int {
	if r.LastConversationDate != day {
		return 0
	}
	return r.HigherTierConversationsToday
}

// ReputationSignals are the behavioral inputs the scoring policy consumes.
type ReputationSignals struct {
	ProfileCompletionPct int     `json:"profile_completion_pct"`
	Verified             bool    `json:"verified"`
	ResponseRate         float64 `json:"response_rate"`
	BlocksReceived       int     `json:"blocks_received"`
	ReportsReceived      int     `json:"reports_received"`
	AccountAgeDays       int     `json:"account_age_days"`
}

// DayKey formats t in loc as the calendar-day key (YYYY-MM-DD) used for the
// daily quota window.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// Permission gate reasons surfaced to clients.
const ReasonDailyLimitReached = "DAILY_LIMIT_REACHED"

// PermissionDecision is the outcome of the messaging permission gate, plus the
// quota context the send path needs to account the conversation start.
type PermissionDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`

	// CountsTowardLimit is true when the recipient's tier strictly exceeds
	// the sender's, i.e. an allowed start must be counted.
	CountsTowardLimit bool `json:"-"`
	// DailyLimit is the sender's cap; UnlimitedConversations means none.
	DailyLimit int `json:"-"`
	// Day is the quota day key the decision was evaluated for.
	Day string `json:"-"`
}
