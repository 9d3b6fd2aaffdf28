package respond

import "strings"

// Keyword phrases that force a handover regardless of the model's own
// judgment. Deliberately coarse: case-insensitive substring match, first
// hit wins, no scoring. Grouped by category for review, flattened at
// match time.
var escalationPhrases = [][]string{
	// pricing / negotiation
	{
		"best price",
		"lowest price",
		"final price",
		"out the door price",
		"price match",
		"negotiate",
		"best deal",
		"discount",
		"beat their price",
	},
	// explicit requests for a human
	{
		"speak to a human",
		"talk to a human",
		"speak to a manager",
		"talk to a manager",
		"speak with a manager",
		"real person",
		"live agent",
		"speak to someone",
		"talk to someone",
	},
	// legal / competitor threats
	{
		"lawyer",
		"attorney",
		"legal action",
		"lemon law",
		"better business bureau",
		"file a complaint",
		"going to another dealer",
		"other dealership",
	},
	// purchase readiness
	{
		"ready to buy",
		"buy today",
		"purchase today",
		"come in today",
		"sign the papers",
		"put down a deposit",
		"financing approved",
		"cash in hand",
		"trade in my",
	},
}

// ShouldForceEscalate reports whether the raw customer message alone
// warrants human escalation. It can force an escalation the model did not
// flag; it can never suppress one.
func ShouldForceEscalate(message string) bool {
	lowered := strings.ToLower(message)
	for _, category := range escalationPhrases {
		for _, phrase := range category {
			if strings.Contains(lowered, phrase) {
				return true
			}
		}
	}
	return false
}
