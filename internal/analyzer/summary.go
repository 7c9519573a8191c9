package analyzer

import (
	"bytes"
	"encoding/json"
	"strings"

	"scanpilot/internal/models"
	scanerrors "scanpilot/pkg/errors"
)

// Summary is a validated analyzer response. Every field has been range
// checked; nothing in here was defaulted.
type Summary struct {
	IssueCount    int
	CriticalCount int
	RiskScore     int
	ShortSummary  string
	LongSummary   string
	Findings      []models.Finding
}

type rawFinding struct {
	Host           string  `json:"host"`
	Port           *int    `json:"port"`
	Service        *string `json:"service"`
	Severity       string  `json:"severity"`
	Tool           string  `json:"tool"`
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	Recommendation string  `json:"recommendation"`
}

type rawSummary struct {
	IssueCount    *int         `json:"issueCount"`
	CriticalCount *int         `json:"criticalCount"`
	RiskScore     *int         `json:"riskScore"`
	ShortSummary  *string      `json:"shortSummary"`
	LongSummary   *string      `json:"longSummary"`
	Findings      []rawFinding `json:"findings"`
}

// Parse decodes and validates a model response against the summary
// contract. tools is the requested tool list; findings must name one of them.
func Parse(response string, target string, tools []string) (*Summary, error) {
	payload, ok := extractJSON(response)
	if !ok {
		return nil, scanerrors.Malformed("response does not contain a JSON object")
	}

	var raw rawSummary
	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	if err := dec.Decode(&raw); err != nil {
		return nil, scanerrors.Malformed("response is not valid summary JSON: %v", err)
	}

	switch {
	case raw.IssueCount == nil:
		return nil, scanerrors.Malformed("missing required field issueCount")
	case raw.CriticalCount == nil:
		return nil, scanerrors.Malformed("missing required field criticalCount")
	case raw.RiskScore == nil:
		return nil, scanerrors.Malformed("missing required field riskScore")
	case raw.ShortSummary == nil || strings.TrimSpace(*raw.ShortSummary) == "":
		return nil, scanerrors.Malformed("missing required field shortSummary")
	case raw.LongSummary == nil || strings.TrimSpace(*raw.LongSummary) == "":
		return nil, scanerrors.Malformed("missing required field longSummary")
	}

	issues, critical, risk := *raw.IssueCount, *raw.CriticalCount, *raw.RiskScore
	switch {
	case issues < 0:
		return nil, scanerrors.Malformed("issueCount %d is negative", issues)
	case critical < 0:
		return nil, scanerrors.Malformed("criticalCount %d is negative", critical)
	case critical > issues:
		return nil, scanerrors.Malformed("criticalCount %d exceeds issueCount %d", critical, issues)
	case risk < 0 || risk > 100:
		return nil, scanerrors.Malformed("riskScore %d outside [0,100]", risk)
	case len(raw.Findings) > issues:
		return nil, scanerrors.Malformed("%d findings reported for issueCount %d", len(raw.Findings), issues)
	}

	findings := make([]models.Finding, 0, len(raw.Findings))
	for i, rf := range raw.Findings {
		finding, err := convertFinding(i, rf, target, tools)
		if err != nil {
			return nil, err
		}
		findings = append(findings, finding)
	}

	return &Summary{
		IssueCount:    issues,
		CriticalCount: critical,
		RiskScore:     risk,
		ShortSummary:  strings.TrimSpace(*raw.ShortSummary),
		LongSummary:   strings.TrimSpace(*raw.LongSummary),
		Findings:      findings,
	}, nil
}

func convertFinding(index int, rf rawFinding, target string, tools []string) (models.Finding, error) {
	severity, ok := models.ParseSeverity(rf.Severity)
	if !ok {
		return models.Finding{}, scanerrors.Malformed("finding %d has unknown severity %q", index, rf.Severity)
	}
	if strings.TrimSpace(rf.Title) == "" {
		return models.Finding{}, scanerrors.Malformed("finding %d has no title", index)
	}
	if rf.Port != nil && (*rf.Port < 1 || *rf.Port > 65535) {
		return models.Finding{}, scanerrors.Malformed("finding %d has invalid port %d", index, *rf.Port)
	}

	tool := matchTool(rf.Tool, tools)
	if tool == "" {
		return models.Finding{}, scanerrors.Malformed("finding %d names tool %q which was not run", index, rf.Tool)
	}

	host := strings.TrimSpace(rf.Host)
	if host == "" {
		host = target
	}

	return models.Finding{
		Host:           host,
		Port:           rf.Port,
		Service:        rf.Service,
		Severity:       severity,
		Tool:           tool,
		Status:         models.FindingStatusOpen,
		Title:          strings.TrimSpace(rf.Title),
		Description:    strings.TrimSpace(rf.Description),
		Recommendation: strings.TrimSpace(rf.Recommendation),
	}, nil
}

// matchTool resolves the tool a finding names. An omitted tool is only
// unambiguous when a single tool ran.
func matchTool(name string, tools []string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		if len(tools) == 1 {
			return tools[0]
		}
		return ""
	}
	for _, t := range tools {
		if strings.EqualFold(t, name) {
			return t
		}
	}
	return ""
}

// extractJSON tolerates a fenced code block or prose around the object.
func extractJSON(response string) (string, bool) {
	text := strings.TrimSpace(response)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if end := strings.LastIndex(text, "```"); end >= 0 {
			text = text[:end]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}
