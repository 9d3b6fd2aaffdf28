package handover

import (
	"testing"

	"dealerpilot/internal/domain"
)

func TestDetermineUrgencyFromMessages(t *testing.T) {
	tests := []struct {
		name     string
		messages []string
		want     string
	}{
		{"immediate need", []string{"I need this today, it's urgent"}, domain.UrgencyHigh},
		{"asap", []string{"can you get back to me ASAP?"}, domain.UrgencyHigh},
		{"next week", []string{"maybe next week works for a test drive"}, domain.UrgencyMedium},
		{"soon", []string{"hoping to decide soon"}, domain.UrgencyMedium},
		{"high beats medium", []string{"this week is fine", "actually I need it tonight"}, domain.UrgencyHigh},
		{"no signals", []string{"what colors does the RAV4 come in?"}, domain.UrgencyLow},
		{"empty", nil, domain.UrgencyLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetermineUrgency(nil, tt.messages)
			if got != tt.want {
				t.Fatalf("DetermineUrgency = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetermineUrgencyInsightWins(t *testing.T) {
	tests := []struct {
		name     string
		insights []domain.CustomerInsight
		messages []string
		want     string
	}{
		{
			"timeline insight high",
			[]domain.CustomerInsight{{Key: "purchase_timeline", Value: "wants to buy today", Confidence: 0.9}},
			[]string{"what colors are available?"},
			domain.UrgencyHigh,
		},
		{
			"urgency insight medium",
			[]domain.CustomerInsight{{Key: "urgency", Value: "sometime this week", Confidence: 0.8}},
			nil,
			domain.UrgencyMedium,
		},
		{
			"insight decides even against urgent messages",
			[]domain.CustomerInsight{{Key: "purchase_timeline", Value: "just browsing for now", Confidence: 0.7}},
			[]string{"I need this today, it's urgent"},
			domain.UrgencyLow,
		},
		{
			"unrelated insight ignored",
			[]domain.CustomerInsight{{Key: "budget", Value: "under 30k", Confidence: 0.9}},
			[]string{"need it tonight"},
			domain.UrgencyHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetermineUrgency(tt.insights, tt.messages)
			if got != tt.want {
				t.Fatalf("DetermineUrgency = %q, want %q", got, tt.want)
			}
		})
	}
}
