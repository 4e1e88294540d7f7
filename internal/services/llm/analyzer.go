package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"callpipe/internal/alignment"
	"callpipe/internal/services"
)

// QualityPrompt is the system prompt for transcript quality analysis.
const QualityPrompt = `You are a QA Compliance Officer for a Pay-Per-Call marketing operation.

Analyze the provided call transcript and evaluate it for:

1. PII Leakage: did anyone share sensitive personal information (SSN, credit card numbers, bank accounts, medical info)?
2. Hostility/Abuse: was there hostility, inappropriate language, threats, or unprofessional behavior from either party?
3. Sales Success: did the call result in a sale, appointment, or conversion?
4. Compliance Issues: TCPA violations, deceptive practices, failure to disclose, or other regulatory concerns, including every rule listed by the user.
5. Overall Quality: professionalism, communication clarity, and proper call handling.

Scoring guidelines:
- 90-100: excellent call. Professional, compliant, successful outcome.
- 70-89: good call. Minor issues but acceptable quality.
- 50-69: problematic call. Multiple issues requiring review.
- 0-49: critical issues. Major compliance violations or abuse.

Set flagged=true if the score is below 70, any PII was leaked, any hostility was detected, or compliance risk is high or critical.

Respond with JSON only:
{"score": 0-100, "flagged": bool, "summary": "1-2 sentences", "issues": [{"rule_id": "", "severity": "", "detail": ""}],
 "pii_detected": bool, "hostility_detected": bool, "sales_success": bool,
 "customer_sentiment": "positive|neutral|negative", "compliance_risk": "low|medium|high|critical"}`

const maxSummaryLength = 500

// Analyzer scores transcripts with a chat model.
type Analyzer struct {
	client *Client
}

var _ services.QualityAnalyzer = (*Analyzer)(nil)

// NewAnalyzer wraps client as a quality analyzer.
func NewAnalyzer(client *Client) *Analyzer {
	return &Analyzer{client: client}
}

// Model returns the model that produced verdicts, for provenance.
func (a *Analyzer) Model() string {
	return a.client.Model()
}

// HealthCheck verifies the model endpoint answers.
func (a *Analyzer) HealthCheck(ctx context.Context) error {
	return a.client.HealthCheck(ctx)
}

// Analyze requests a verdict for input and normalizes it.
func (a *Analyzer) Analyze(ctx context.Context, input services.QualityInput) (services.QualityResult, error) {
	transcript := strings.TrimSpace(input.Transcript)
	if transcript == "" {
		return services.QualityResult{}, services.Wrap(services.ErrValidation, serviceName, "analyze", "empty transcript", nil)
	}
	content, err := a.client.CompleteJSON(ctx, QualityPrompt, BuildUserPrompt(input))
	if err != nil {
		return services.QualityResult{}, err
	}
	var parsed qualityResponse
	if err := DecodeLLMJSON(content, &parsed); err != nil {
		return services.QualityResult{}, services.Wrap(services.ErrTransient, serviceName, "analyze", "parse verdict", err)
	}
	return parsed.normalize(), nil
}

// BuildUserPrompt renders the transcript together with campaign, speaker
// participation and rule context.
func BuildUserPrompt(input services.QualityInput) string {
	var b strings.Builder
	if campaign := strings.TrimSpace(input.Campaign); campaign != "" {
		fmt.Fprintf(&b, "Campaign: %s\n\n", campaign)
	}
	if len(input.Rules) > 0 {
		b.WriteString("Rules:\n")
		for _, rule := range input.Rules {
			severity := rule.Severity
			if severity == "" {
				severity = "medium"
			}
			fmt.Fprintf(&b, "- [%s] (%s) %s\n", rule.ID, severity, strings.TrimSpace(rule.Description))
		}
		b.WriteString("\n")
	}
	if len(input.Segments) > 0 {
		summary := alignment.SpeakerSummary(input.Segments)
		speakers := make([]string, 0, len(summary))
		for speaker := range summary {
			speakers = append(speakers, speaker)
		}
		sort.Strings(speakers)
		b.WriteString("Speakers:\n")
		for _, speaker := range speakers {
			stats := summary[speaker]
			fmt.Fprintf(&b, "- %s: %.1fs, %d words, %.1f%% of talk time\n", speaker, stats.Duration, stats.Words, stats.Percentage)
		}
		b.WriteString("\nTranscript by speaker:\n")
		for _, seg := range input.Segments {
			if strings.TrimSpace(seg.Text) == "" {
				continue
			}
			fmt.Fprintf(&b, "%s: %s\n", seg.Speaker, seg.Text)
		}
		return strings.TrimSpace(b.String())
	}
	b.WriteString("Analyze this call transcript:\n\n")
	b.WriteString(strings.TrimSpace(input.Transcript))
	return b.String()
}

type qualityResponse struct {
	Score             float64         `json:"score"`
	Flagged           bool            `json:"flagged"`
	Summary           string          `json:"summary"`
	Issues            []issueResponse `json:"issues"`
	PIIDetected       bool            `json:"pii_detected"`
	HostilityDetected bool            `json:"hostility_detected"`
	SalesSuccess      bool            `json:"sales_success"`
	CustomerSentiment string          `json:"customer_sentiment"`
	ComplianceRisk    string          `json:"compliance_risk"`
}

// issueResponse accepts either a bare string or an issue object.
type issueResponse services.QualityIssue

func (i *issueResponse) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*i = issueResponse{Detail: text}
		return nil
	}
	var issue services.QualityIssue
	if err := json.Unmarshal(data, &issue); err != nil {
		return err
	}
	*i = issueResponse(issue)
	return nil
}

func (r qualityResponse) normalize() services.QualityResult {
	score := int(r.Score + 0.5)
	score = max(0, min(100, score))
	summary := strings.TrimSpace(r.Summary)
	if runes := []rune(summary); len(runes) > maxSummaryLength {
		summary = string(runes[:maxSummaryLength])
	}
	issues := make([]services.QualityIssue, 0, len(r.Issues))
	for _, issue := range r.Issues {
		issue.Detail = strings.TrimSpace(issue.Detail)
		if issue.Detail == "" {
			continue
		}
		issues = append(issues, services.QualityIssue(issue))
	}
	return services.QualityResult{
		Score:             score,
		Flagged:           r.Flagged,
		Summary:           summary,
		Issues:            issues,
		PIIDetected:       r.PIIDetected,
		HostilityDetected: r.HostilityDetected,
		SalesSuccess:      r.SalesSuccess,
		CustomerSentiment: normalizeChoice(r.CustomerSentiment, "neutral", "positive", "neutral", "negative"),
		ComplianceRisk:    normalizeChoice(r.ComplianceRisk, "low", "low", "medium", "high", "critical"),
	}
}

func normalizeChoice(value, fallback string, allowed ...string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range allowed {
		if value == candidate {
			return value
		}
	}
	return fallback
}
