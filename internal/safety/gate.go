package safety

import (
	"regexp"
	"strings"
)

// Urgency ranks how quickly a human has to take over a conversation.
type Urgency string

const (
	UrgencyNone      Urgency = "none"
	UrgencyHigh      Urgency = "high"
	UrgencyImmediate Urgency = "immediate"
)

// Distress tuning is inherited unchanged and awaits clinical review.
const (
	// DistressWindow is how many trailing context entries are scanned for distress markers.
	DistressWindow = 5
	// DistressThreshold is how many entries inside the window must carry a marker.
	DistressThreshold = 3
)

const (
	EmergencyResponse = "⚠️ This sounds like it could be an emergency. " +
		"Please call 911 or go to the nearest emergency room immediately. " +
		"Do not wait — your safety is the top priority."

	DistressResponse = "I can see you're feeling worried. Let me connect you with a nurse " +
		"who can help you directly. Please hold on."

	AIDisclosure = "I'm an AI nursing assistant, not a human nurse or doctor. " +
		"I can help collect information and answer general questions, " +
		"but your healthcare provider will make all medical decisions."

	Disclaimer = "\n\n*Please note: I am an AI assistant and cannot diagnose conditions " +
		"or prescribe treatments. Please discuss this with your healthcare provider.*"

	distressReason = "Patient showing signs of significant distress or confusion"
)

// EmergencyKeywords is ordered by priority; CheckEmergency reports the first hit.
var EmergencyKeywords = []string{
	"chest pain",
	"can't breathe",
	"cannot breathe",
	"difficulty breathing",
	"shortness of breath",
	"heart attack",
	"stroke",
	"seizure",
	"unconscious",
	"unresponsive",
	"severe bleeding",
	"bleeding heavily",
	"suicidal",
	"kill myself",
	"want to die",
	"end my life",
	"self harm",
	"self-harm",
	"overdose",
	"anaphylaxis",
	"allergic reaction severe",
	"choking",
	"head injury",
	"loss of consciousness",
}

var distressMarkers = []string{"confused", "scared", "worried", "don't understand", "help me"}

var responsePatterns = []*regexp.Regexp{
	regexp.MustCompile(`you have \w+`),
	regexp.MustCompile(`you are diagnosed with`),
	regexp.MustCompile(`your diagnosis is`),
	regexp.MustCompile(`you are suffering from`),
	regexp.MustCompile(`this is definitely`),
	regexp.MustCompile(`this is clearly`),
	regexp.MustCompile(`you should take \w+ mg`),
	regexp.MustCompile(`take \d+ pills`),
	regexp.MustCompile(`increase your dose`),
	regexp.MustCompile(`decrease your dose`),
	regexp.MustCompile(`stop taking your medication`),
}

// EscalationDecision is produced fresh for every inbound message.
type EscalationDecision struct {
	Escalate bool    `json:"escalate"`
	Urgency  Urgency `json:"urgency"`
	Reason   string  `json:"reason,omitempty"`
	Response string  `json:"response,omitempty"`
}

// CheckEmergency reports whether text contains an emergency phrase and which
// one matched first in priority order. Matching is a case-insensitive
// substring test with no word-boundary handling.
func CheckEmergency(text string) (bool, string) {
	in := strings.ToLower(text)
	for _, kw := range EmergencyKeywords {
		if strings.Contains(in, kw) {
			return true, kw
		}
	}
	return false, ""
}

// CheckResponseSafety runs every diagnosis/dosing pattern against model output
// and reports all of the patterns that matched.
func CheckResponseSafety(response string) (bool, []string) {
	in := strings.ToLower(response)
	var violations []string
	for _, re := range responsePatterns {
		if re.MatchString(in) {
			violations = append(violations, "Potential diagnosis/prescription detected: matched pattern '"+re.String()+"'")
		}
	}
	return len(violations) == 0, violations
}

// SanitizeResponse appends the disclaimer to unsafe output. The original text
// is never rewritten.
func SanitizeResponse(response string) string {
	if ok, _ := CheckResponseSafety(response); ok {
		return response
	}
	return response + Disclaimer
}

// ShouldEscalate decides whether a message needs a human. Emergencies win
// regardless of context; otherwise DistressThreshold of the last
// DistressWindow context entries must contain a distress marker.
func ShouldEscalate(message string, recentContext []string) EscalationDecision {
	if hit, kw := CheckEmergency(message); hit {
		return EscalationDecision{
			Escalate: true,
			Urgency:  UrgencyImmediate,
			Reason:   "Emergency keyword detected: " + kw,
			Response: EmergencyResponse,
		}
	}

	window := recentContext
	if len(window) > DistressWindow {
		window = window[len(window)-DistressWindow:]
	}
	count := 0
	for _, entry := range window {
		if containsDistress(entry) {
			count++
		}
	}
	if count >= DistressThreshold {
		return EscalationDecision{
			Escalate: true,
			Urgency:  UrgencyHigh,
			Reason:   distressReason,
			Response: DistressResponse,
		}
	}

	return EscalationDecision{Urgency: UrgencyNone}
}

func containsDistress(entry string) bool {
	in := strings.ToLower(entry)
	for _, m := range distressMarkers {
		if strings.Contains(in, m) {
			return true
		}
	}
	return false
}
