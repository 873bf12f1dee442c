package nurse

import "strings"

var intakeCompletionPhrases = []string{
	"that covers everything",
	"all the information i need",
	"summary of what",
	"here's a summary",
	"let me summarize",
	"we've covered everything",
	"that's all i need",
}

var followupCompletionPhrases = []string{
	"take care",
	"don't hesitate to call",
	"wishing you a speedy recovery",
	"glad to hear you're doing well",
	"everything sounds good",
	"that covers our check-in",
}

// IntakeComplete reports whether an assistant reply reads like the closing
// summary of an intake. It is an approximation: the model can claim to be
// done early or never say so, which is why sessions also have a turn ceiling.
func IntakeComplete(reply string) bool {
	return containsAny(reply, intakeCompletionPhrases)
}

// FollowupComplete is the follow-up counterpart of IntakeComplete, with the
// same caveats.
func FollowupComplete(reply string) bool {
	return containsAny(reply, followupCompletionPhrases)
}

func containsAny(text string, phrases []string) bool {
	in := strings.ToLower(text)
	for _, p := range phrases {
		if strings.Contains(in, p) {
			return true
		}
	}
	return false
}
