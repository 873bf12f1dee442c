package ambient

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/antoniostano/careflow/internal/llm"
	"github.com/antoniostano/careflow/internal/observability"
)

const (
	DocumentationSystem = `You are a medical documentation AI assistant. Given a transcript of a ` +
		`doctor-patient encounter, generate a structured clinical note.

Output format: SOAP Note
- Subjective: Patient's reported symptoms, history, concerns
- Objective: Physical exam findings, vitals, observations mentioned
- Assessment: Clinical assessment, differential diagnoses discussed
- Plan: Treatment plan, medications, follow-ups, referrals discussed

Rules:
- Only document what was explicitly stated in the conversation
- Flag any unclear or ambiguous statements with [VERIFY]
- Use standard medical terminology
- Include ICD-10 codes for mentioned conditions
- Never fabricate information not present in the transcript`

	soapNoteExample = `Example transcript:
"Doctor: Good morning, how are you feeling today?
Patient: Not great, I've had this terrible headache for three days now.
Doctor: Can you describe the headache? Where is it located?
Patient: It's mostly on the right side, behind my eye. It's throbbing.
Doctor: On a scale of 1 to 10, how bad is the pain?
Patient: About a 7. It gets worse with light.
Doctor: Any nausea or vomiting?
Patient: Some nausea, no vomiting.
Doctor: Let me check your vitals. Blood pressure is 128/82, heart rate 76.
Doctor: Based on your symptoms, this sounds like a migraine. I'd like to start you on sumatriptan.
Patient: Okay, is that a pill?
Doctor: Yes, 50mg as needed. Also try to rest in a dark room. If it doesn't improve in 48 hours, come back."

Example SOAP note:
## Subjective
Patient presents with a 3-day history of right-sided headache, described as throbbing, ` +
		`located behind the right eye. Pain rated 7/10. Reports photosensitivity and associated nausea. ` +
		`Denies vomiting.

## Objective
- BP: 128/82 mmHg
- HR: 76 bpm

## Assessment
Migraine headache, right-sided, without aura (ICD-10: G43.909)
- Classic presentation with unilateral throbbing pain, photosensitivity, and nausea

## Plan
1. Sumatriptan 50mg PO PRN for acute migraine
2. Rest in dark, quiet environment
3. Return if no improvement within 48 hours
4. Follow-up as needed`
)

type ExtractedCode struct {
	Code   string `json:"code"`
	Source string `json:"source"`
}

type SOAPNote struct {
	Subjective string          `json:"subjective"`
	Objective  string          `json:"objective"`
	Assessment string          `json:"assessment"`
	Plan       string          `json:"plan"`
	ICD10Codes []ExtractedCode `json:"icd10_codes"`
	RawText    string          `json:"raw_text"`
}

var (
	// A section header is a line opening with an optional markdown heading
	// and bold markers, then the section name, or its initial and a colon.
	sectionHeader = regexp.MustCompile(`(?im)^[ \t]*(?:#{1,3}[ \t]*)?\*{0,2}[ \t]*(?:(subjective|objective|assessment|plan)\b|([soap])[ \t]*[:：])[ \t]*\*{0,2}[ \t]*[:：]?[ \t]*\*{0,2}`)
	icd10Code     = regexp.MustCompile(`([A-Z]\d{2}(?:\.\d{1,4})?)`)
)

// NoteGenerator writes SOAP notes from encounter transcripts.
type NoteGenerator struct {
	model   llm.Generator
	metrics *observability.Metrics
	log     zerolog.Logger
	timeout time.Duration
}

func NewNoteGenerator(model llm.Generator, metrics *observability.Metrics, log zerolog.Logger, timeout time.Duration) *NoteGenerator {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &NoteGenerator{model: model, metrics: metrics, log: log.With().Str("component", "note_generator").Logger(), timeout: timeout}
}

func (g *NoteGenerator) Generate(ctx context.Context, transcript string) (SOAPNote, error) {
	if strings.TrimSpace(transcript) == "" {
		return SOAPNote{}, fmt.Errorf("%w: transcript cannot be empty", ErrInvalidInput)
	}
	g.log.Info().Int("chars", len(transcript)).Msg("generating SOAP note")

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	start := time.Now()
	text, err := g.model.Generate(ctx, DocumentationSystem+"\n\n"+soapNoteExample, []llm.Message{{
		Role:    llm.RoleUser,
		Content: "Generate a SOAP note from this encounter transcript:\n\n" + transcript,
	}})
	g.metrics.ObserveModelLatency("soap_note", time.Since(start))
	if err != nil {
		g.metrics.IncModelFailure(llm.ProviderOf(err), "soap_note")
		return SOAPNote{}, fmt.Errorf("generate soap note: %w", err)
	}
	note := ParseSOAPNote(text)
	g.log.Info().Int("icd10_codes", len(note.ICD10Codes)).Msg("SOAP note generated")
	return note, nil
}

// ParseSOAPNote splits model output into its four sections. Text before the
// first header is ignored; a missing section is left empty.
func ParseSOAPNote(text string) SOAPNote {
	note := SOAPNote{RawText: text, ICD10Codes: ExtractICD10Codes(text)}

	headers := sectionHeader.FindAllStringSubmatchIndex(text, -1)
	seen := map[string]bool{}
	for i, h := range headers {
		name := ""
		switch {
		case h[2] >= 0:
			name = strings.ToLower(text[h[2]:h[3]])
		case h[4] >= 0:
			name = strings.ToLower(text[h[4]:h[5]])
		}
		end := len(text)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}
		body := strings.TrimSpace(text[h[1]:end])

		key := name[:1]
		if seen[key] {
			continue
		}
		seen[key] = true
		switch key {
		case "s":
			note.Subjective = body
		case "o":
			note.Objective = body
		case "a":
			note.Assessment = body
		case "p":
			note.Plan = body
		}
	}
	return note
}

// ExtractICD10Codes lists code-shaped tokens in order of first appearance.
func ExtractICD10Codes(text string) []ExtractedCode {
	out := []ExtractedCode{}
	seen := map[string]bool{}
	for _, code := range icd10Code.FindAllString(text, -1) {
		if seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, ExtractedCode{Code: code, Source: "auto-extracted"})
	}
	return out
}
