package nurse

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/antoniostano/careflow/internal/llm"
	"github.com/antoniostano/careflow/internal/notify"
	"github.com/antoniostano/careflow/internal/record"
	"github.com/antoniostano/careflow/internal/safety"
	"github.com/antoniostano/careflow/internal/session"
)

// ESI levels; 1 is the most severe.
const (
	ESIImmediate   = 1
	ESIEmergent    = 2
	ESIUrgent      = 3
	ESILessUrgent  = 4
	ESINonUrgent   = 5
	unsureAction   = "Please see a healthcare provider for evaluation."
	symptomPreview = 100
)

type TriageRequest struct {
	PatientID          string   `json:"patient_id,omitempty"`
	Symptoms           string   `json:"symptoms"`
	Age                int      `json:"patient_age,omitempty"`
	Sex                string   `json:"patient_sex,omitempty"`
	MedicalHistory     []string `json:"medical_history,omitempty"`
	CurrentMedications []string `json:"current_medications,omitempty"`
}

type TriageResult struct {
	ESILevel          int      `json:"esi_level"`
	Reasoning         string   `json:"reasoning"`
	KeySymptoms       []string `json:"key_symptoms"`
	RecommendedAction string   `json:"recommended_action"`
	EscalateToNurse   bool     `json:"escalate_to_nurse"`
	RedFlags          []string `json:"red_flags"`
}

// Triage assigns ESI levels. It keeps no per-call state.
type Triage struct {
	core
}

func NewTriage(d Deps) *Triage {
	return &Triage{core: newCore(d, "triage")}
}

// Assess never fails because of the model: unparseable output and provider
// errors both resolve to ESI 3 with escalation.
func (t *Triage) Assess(ctx context.Context, req TriageRequest) (TriageResult, error) {
	if strings.TrimSpace(req.Symptoms) == "" {
		return TriageResult{}, ErrEmptySymptoms
	}
	flow := string(session.FlowTriage)
	t.logInbound(flow, "", req.Symptoms)

	if hit, kw := safety.CheckEmergency(req.Symptoms); hit {
		t.metrics.IncEmergencyBypass(flow)
		res := TriageResult{
			ESILevel:          ESIImmediate,
			Reasoning:         fmt.Sprintf("Emergency keyword detected: %s. Immediate attention required.", kw),
			KeySymptoms:       []string{kw},
			RecommendedAction: safety.EmergencyResponse,
			EscalateToNurse:   true,
			RedFlags:          []string{kw},
		}
		t.finish(req, res)
		return res, nil
	}

	text, err := t.generate(ctx, flow, TriageSystem, []llm.Message{{Role: llm.RoleUser, Content: TriagePrompt(req)}})
	if err != nil {
		t.modelFailed(flow, "", err)
		res := assessmentError(err)
		t.finish(req, res)
		return res, nil
	}

	res, err := parseTriage(text, req.Symptoms)
	if err != nil {
		t.log.Error().Err(err).Msg("triage response rejected")
		res = assessmentError(err)
	}
	t.finish(req, res)
	return res, nil
}

func (t *Triage) finish(req TriageRequest, res TriageResult) {
	t.metrics.IncTriageLevel(res.ESILevel)
	t.log.Info().
		Int("esi_level", res.ESILevel).
		Bool("escalate", res.EscalateToNurse).
		Msg("triage result")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if t.recorder != nil {
		if err := t.recorder.SaveTriage(ctx, record.TriageRecord{
			PatientID:         req.PatientID,
			Symptoms:          req.Symptoms,
			ESILevel:          res.ESILevel,
			Reasoning:         res.Reasoning,
			RecommendedAction: res.RecommendedAction,
			EscalateToNurse:   res.EscalateToNurse,
			RedFlags:          res.RedFlags,
		}); err != nil {
			t.log.Warn().Err(err).Msg("record triage failed")
		}
	}
	if !res.EscalateToNurse {
		return
	}
	urgency := safety.UrgencyHigh
	if res.ESILevel <= ESIEmergent {
		urgency = safety.UrgencyImmediate
	}
	t.metrics.IncEscalation(string(urgency))
	if t.notifier != nil {
		if err := t.notifier.Publish(ctx, notify.Escalation{
			PatientID: req.PatientID,
			Flow:      string(session.FlowTriage),
			Urgency:   string(urgency),
			Reason:    fmt.Sprintf("Triage ESI-%d: %s", res.ESILevel, res.Reasoning),
			At:        time.Now().UTC(),
		}); err != nil {
			t.log.Warn().Err(err).Msg("publish triage escalation failed")
		}
	}
}

// TriagePrompt serializes the patient context for the triage call.
func TriagePrompt(req TriageRequest) string {
	var info []string
	if req.Age > 0 {
		info = append(info, fmt.Sprintf("Age: %d", req.Age))
	}
	if req.Sex != "" {
		info = append(info, "Sex: "+req.Sex)
	}
	if len(req.MedicalHistory) > 0 {
		info = append(info, "Medical history: "+strings.Join(req.MedicalHistory, ", "))
	}
	if len(req.CurrentMedications) > 0 {
		info = append(info, "Current medications: "+strings.Join(req.CurrentMedications, ", "))
	}

	var b strings.Builder
	b.WriteString("Assess the following patient:\n\n")
	if len(info) > 0 {
		b.WriteString("Patient info: " + strings.Join(info, "; ") + "\n\n")
	}
	b.WriteString("Symptoms: " + req.Symptoms + "\n\nProvide triage assessment as JSON.")
	return b.String()
}

// parseTriage turns model output into a result. An empty extraction is the
// cautious ESI 3 default; a present but unusable esi_level is an error.
func parseTriage(text, symptoms string) (TriageResult, error) {
	data := llm.ExtractJSON(text)
	if len(data) == 0 {
		return TriageResult{
			ESILevel:          ESIUrgent,
			Reasoning:         "Unable to fully assess — defaulting to urgent for safety.",
			KeySymptoms:       []string{truncateRunes(symptoms, symptomPreview)},
			RecommendedAction: unsureAction,
			EscalateToNurse:   true,
			RedFlags:          []string{},
		}, nil
	}

	level := ESIUrgent
	if raw, ok := data["esi_level"]; ok {
		n, err := esiFromJSON(raw)
		if err != nil {
			return TriageResult{}, err
		}
		level = n
	}
	level = max(ESIImmediate, min(ESINonUrgent, level))

	escalate := level <= ESIEmergent
	if v, ok := data["escalate_to_nurse"].(bool); ok {
		escalate = v
	}
	reasoning, _ := data["reasoning"].(string)
	action, _ := data["recommended_action"].(string)

	return TriageResult{
		ESILevel:          level,
		Reasoning:         reasoning,
		KeySymptoms:       stringList(data["key_symptoms"]),
		RecommendedAction: action,
		EscalateToNurse:   escalate,
		RedFlags:          stringList(data["red_flags"]),
	}, nil
}

func assessmentError(err error) TriageResult {
	return TriageResult{
		ESILevel:          ESIUrgent,
		Reasoning:         fmt.Sprintf("Assessment error — defaulting to urgent for safety: %v", err),
		KeySymptoms:       []string{},
		RecommendedAction: unsureAction,
		EscalateToNurse:   true,
		RedFlags:          []string{},
	}
}

func esiFromJSON(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("invalid esi_level %v", n)
		}
		// Clamp before converting so huge values cannot overflow int.
		return int(max(0, min(10, math.Trunc(n)))), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("invalid esi_level %q", n)
		}
		return i, nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("invalid esi_level %v", v)
	}
}

func stringList(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		switch s := item.(type) {
		case string:
			out = append(out, s)
		case nil:
		default:
			out = append(out, fmt.Sprint(s))
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
