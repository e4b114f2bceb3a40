package model

import (
	"testing"
	"time"
)

func TestTierOrdering(t *testing.T) {
	ordered := []ReputationTier{TierNew, TierActive, TierEstablished, TierTrusted, TierDistinguished}
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1].Rank() >= ordered[i].Rank() {
			t.Errorf("expected %s to rank below %s", ordered[i-1], ordered[i])
		}
	}
}

func TestCompareTiers(t *testing.T) {
	tests := []struct {
		a, b ReputationTier
		want int
	}{
		{TierNew, TierNew, 0},
		{TierNew, TierDistinguished, -1},
		{TierDistinguished, TierNew, 1},
		{TierActive, TierEstablished, -1},
		{TierTrusted, TierActive, 1},
		{TierEstablished, TierEstablished, 0},
	}
	for _, tt := range tests {
		if got := CompareTiers(tt.a, tt.b); got != tt.want {
			t.Errorf("CompareTiers(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestDailyHigherTierLimits(t *testing.T) {
	want := map[ReputationTier]int{
		TierNew:           1,
		TierActive:        3,
		TierEstablished:   5,
		TierTrusted:       10,
		TierDistinguished: UnlimitedConversations,
	}
	for tier, limit := range want {
		if got := tier.DailyHigherTierLimit(); got != limit {
			t.Errorf("%s limit = %d, want %d", tier, got, limit)
		}
	}
	// Unknown tiers fall back to the most restrictive limit.
	if got := ReputationTier("legendary").DailyHigherTierLimit(); got != 1 {
		t.Errorf("unknown tier limit = %d, want 1", got)
	}
}

func TestConversationsTodayLazyReset(t *testing.T) {
	rep := &UserReputation{
		HigherTierConversationsToday: 3,
		LastConversationDate:         "2026-08-24",
	}
	if got := rep.ConversationsToday("2026-08-24"); got != 3 {
		t.Errorf("same day count = %d, want 3", got)
	}
	// A counter carried over from a previous day reads as zero.
	if got := rep.ConversationsToday("2026-08-25"); got != 0 {
		t.Errorf("next day count = %d, want 0", got)
	}
	// The stored value is untouched until the next write.
	if rep.HigherTierConversationsToday != 3 {
		t.Errorf("stored counter mutated on read")
	}
}

func TestNewUserReputationDefaults(t *testing.T) {
	rep := NewUserReputation("u1")
	if rep.Tier != TierNew {
		t.Errorf("default tier = %s, want %s", rep.Tier, TierNew)
	}
	if rep.DailyLimit != 1 {
		t.Errorf("default limit = %d, want 1", rep.DailyLimit)
	}
	if rep.HigherTierConversationsToday != 0 {
		t.Errorf("default counter = %d, want 0", rep.HigherTierConversationsToday)
	}
}

func TestDayKey(t *testing.T) {
	// 23:30 UTC on the 24th is already the 25th in UTC+2.
	instant := time.Date(2026, 8, 24, 23, 30, 0, 0, time.UTC)
	if got := DayKey(instant, time.UTC); got != "2026-08-24" {
		t.Errorf("DayKey UTC = %s, want 2026-08-24", got)
	}
	plus2 := time.FixedZone("UTC+2", 2*60*60)
	if got := DayKey(instant, plus2); got != "2026-08-25" {
		t.Errorf("DayKey UTC+2 = %s, want 2026-08-25", got)
	}
}

func TestNormalizePair(t *testing.T) {
	low, high := NormalizePair("bob", "alice")
	if low != "alice" || high != "bob" {
		t.Errorf("NormalizePair = (%s, %s), want (alice, bob)", low, high)
	}
	low2, high2 := NormalizePair("alice", "bob")
	if low2 != low || high2 != high {
		t.Errorf("NormalizePair is order-sensitive")
	}
}

func TestConversationPeerOf(t *testing.T) {
	conv := &Conversation{ParticipantLow: "alice", ParticipantHigh: "bob"}
	if got := conv.PeerOf("alice"); got != "bob" {
		t.Errorf("PeerOf(alice) = %s, want bob", got)
	}
	if got := conv.PeerOf("bob"); got != "alice" {
		t.Errorf("PeerOf(bob) = %s, want alice", got)
	}
	if got := conv.PeerOf("carol"); got != "" {
		t.Errorf("PeerOf(carol) = %s, want empty", got)
	}
	if !conv.HasParticipant("alice") || conv.HasParticipant("carol") {
		t.Errorf("HasParticipant mismatch")
	}
}
