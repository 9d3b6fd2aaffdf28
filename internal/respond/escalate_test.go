package respond

import "testing"

func TestShouldForceEscalate(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    bool
	}{
		{"manager and price", "I want to speak to a manager about the best price", true},
		{"pricing language", "Can you give me a discount on the RAV4?", true},
		{"human request", "Please let me talk to a human", true},
		{"legal threat", "I'm calling my attorney about this", true},
		{"competitor threat", "The other dealership quoted me less", true},
		{"purchase readiness", "I'm ready to buy today", true},
		{"case insensitive", "WHAT IS YOUR BEST PRICE", true},
		{"substring match", "negotiate? maybe, if the numbers work", true},
		{"benign question", "What colors does the Camry come in?", false},
		{"benign availability", "Is the 2024 CR-V still available?", false},
		{"empty message", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldForceEscalate(tt.message); got != tt.want {
				t.Fatalf("ShouldForceEscalate(%q) = %v, want %v", tt.message, got, tt.want)
			}
		})
	}
}
