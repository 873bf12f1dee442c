package ambient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/antoniostano/careflow/internal/llm"
	"github.com/antoniostano/careflow/internal/observability"
)

var ErrInvalidInput = errors.New("invalid input")

const CodeSuggestionSystem = `You are a medical coding AI assistant. Given a clinical note, suggest ` +
	`appropriate ICD-10 and CPT codes.

For each suggested code, provide:
- Code number
- Description
- Confidence score (high/medium/low)
- Supporting evidence from the note

Rules:
- Only suggest codes supported by documentation in the note
- Flag codes that may need additional documentation
- Prefer specific codes over unspecified codes
- Include both primary and secondary diagnoses
- Suggest E/M level based on complexity documented

Output JSON format:
{
  "icd10_codes": [{"code": "...", "description": "...", "confidence": "...", "evidence": "..."}],
  "cpt_codes": [{"code": "...", "description": "...", "confidence": "...", "evidence": "..."}],
  "em_level": "...",
  "documentation_gaps": [...]
}`

const DefaultEncounterType = "office_visit"

type CodeSuggestion struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Confidence  string `json:"confidence"`
	Evidence    string `json:"evidence"`
}

type CodeSuggestions struct {
	ICD10Codes        []CodeSuggestion `json:"icd10_codes"`
	CPTCodes          []CodeSuggestion `json:"cpt_codes"`
	EMLevel           string           `json:"em_level"`
	DocumentationGaps []string         `json:"documentation_gaps"`
}

func emptySuggestions() CodeSuggestions {
	return CodeSuggestions{ICD10Codes: []CodeSuggestion{}, CPTCodes: []CodeSuggestion{}, DocumentationGaps: []string{}}
}

// CodeSuggester proposes billing codes for a clinical note.
type CodeSuggester struct {
	model   llm.Generator
	metrics *observability.Metrics
	log     zerolog.Logger
	timeout time.Duration
}

func NewCodeSuggester(model llm.Generator, metrics *observability.Metrics, log zerolog.Logger, timeout time.Duration) *CodeSuggester {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &CodeSuggester{model: model, metrics: metrics, log: log.With().Str("component", "code_suggester").Logger(), timeout: timeout}
}

// Suggest returns an empty result, not an error, when the model answers with
// something unparseable.
func (c *CodeSuggester) Suggest(ctx context.Context, noteText, encounterType string) (CodeSuggestions, error) {
	if strings.TrimSpace(noteText) == "" {
		return CodeSuggestions{}, fmt.Errorf("%w: note text cannot be empty", ErrInvalidInput)
	}
	if strings.TrimSpace(encounterType) == "" {
		encounterType = DefaultEncounterType
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	start := time.Now()
	text, err := c.model.Generate(ctx, CodeSuggestionSystem, []llm.Message{{
		Role: llm.RoleUser,
		Content: "Analyze this clinical note and suggest ICD-10 and CPT codes.\n" +
			"Encounter type: " + encounterType + "\n\n" +
			"Clinical Note:\n" + noteText,
	}})
	c.metrics.ObserveModelLatency("code_suggestion", time.Since(start))
	if err != nil {
		c.metrics.IncModelFailure(llm.ProviderOf(err), "code_suggestion")
		return CodeSuggestions{}, fmt.Errorf("suggest codes: %w", err)
	}

	data := llm.ExtractJSON(text)
	if len(data) == 0 {
		c.log.Warn().Msg("could not parse code suggestions")
		return emptySuggestions(), nil
	}

	out := emptySuggestions()
	out.ICD10Codes = suggestionList(data["icd10_codes"])
	out.CPTCodes = suggestionList(data["cpt_codes"])
	out.EMLevel, _ = data["em_level"].(string)
	if gaps, ok := data["documentation_gaps"].([]any); ok {
		for _, g := range gaps {
			if s, ok := g.(string); ok {
				out.DocumentationGaps = append(out.DocumentationGaps, s)
			}
		}
	}
	c.log.Info().Int("icd10", len(out.ICD10Codes)).Int("cpt", len(out.CPTCodes)).Msg("codes suggested")
	return out, nil
}

func suggestionList(v any) []CodeSuggestion {
	arr, _ := v.([]any)
	out := make([]CodeSuggestion, 0, len(arr))
	for _, item := range arr {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		s := CodeSuggestion{Confidence: "low"}
		s.Code, _ = m["code"].(string)
		s.Description, _ = m["description"].(string)
		s.Evidence, _ = m["evidence"].(string)
		if conf, ok := m["confidence"].(string); ok && conf != "" {
			s.Confidence = conf
		}
		out = append(out, s)
	}
	return out
}
