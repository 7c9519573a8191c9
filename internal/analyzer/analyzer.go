// Package analyzer turns merged scanner output into a validated summary by
// asking a language model for a fixed JSON structure.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"scanpilot/internal/models"
	scanerrors "scanpilot/pkg/errors"
	"scanpilot/pkg/logger"
)

const (
	DefaultTimeout = 90 * time.Second

	// prompts carry at most this much raw tool output
	maxOutputInPrompt = 120_000
)

// Summarizer is the third-party language model capability.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

type Request struct {
	Target string
	Tools  []string
	Output string
}

type Analyzer struct {
	summarizer Summarizer
	timeout    time.Duration
	logger     *logger.Logger
}

func New(summarizer Summarizer, timeout time.Duration, log *logger.Logger) *Analyzer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Analyzer{summarizer: summarizer, timeout: timeout, logger: log}
}

// Analyze returns a validated Summary, or an error that is
// ErrAnalyzerUnreachable or ErrAnalyzerMalformed.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Summary, error) {
	response, err := a.ask(ctx, BuildPrompt(req))
	if err != nil {
		return nil, err
	}

	summary, err := Parse(response, req.Target, req.Tools)
	if err != nil {
		a.logger.WithFields(logger.Fields{"target": req.Target, "error": err}).Warn("Rejected analyzer response")
		return nil, err
	}

	a.logger.WithFields(logger.Fields{
		"target":   req.Target,
		"issues":   summary.IssueCount,
		"critical": summary.CriticalCount,
		"risk":     summary.RiskScore,
	}).Info("Analyzer summary accepted")
	return summary, nil
}

// Chat answers a free-text question, grounded in a scan's stored summary
// when one is given.
func (a *Analyzer) Chat(ctx context.Context, question string, scan *models.Scan) (string, error) {
	answer, err := a.ask(ctx, BuildChatPrompt(question, scan))
	if err != nil {
		return "", err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", scanerrors.Malformed("empty chat answer")
	}
	return answer, nil
}

func (a *Analyzer) ask(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	response, err := a.summarizer.Summarize(ctx, prompt)
	if err != nil {
		var analyzerErr *scanerrors.AnalyzerError
		if errors.As(err, &analyzerErr) {
			return "", err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "", scanerrors.Unreachable(fmt.Sprintf("no response within %s", a.timeout), err)
		}
		return "", scanerrors.Unreachable("summarization request failed", err)
	}
	return response, nil
}

func BuildPrompt(req Request) string {
	output := req.Output
	if len(output) > maxOutputInPrompt {
		cut := maxOutputInPrompt
		for cut > 0 && !utf8.RuneStart(output[cut]) {
			cut--
		}
		output = output[:cut] + "\n[output truncated]"
	}

	var b strings.Builder
	b.WriteString("You are a cybersecurity analyst. Analyze the security scan output below.\n")
	fmt.Fprintf(&b, "Target: %s\n", req.Target)
	fmt.Fprintf(&b, "Tools: %s\n\n", strings.Join(req.Tools, ", "))
	b.WriteString("Respond with exactly one JSON object and nothing else, using this schema:\n")
	b.WriteString(`{
  "issueCount": <non-negative integer, number of distinct vulnerabilities>,
  "criticalCount": <non-negative integer, at most issueCount>,
  "riskScore": <integer 0-100>,
  "shortSummary": "<one sentence>",
  "longSummary": "<executive summary with remediation steps>",
  "findings": [
    {
      "host": "<host>",
      "port": <integer or null>,
      "service": "<service or null>",
      "severity": "Critical|High|Medium|Low|Info",
      "tool": "<one of the tools above>",
      "title": "<short title>",
      "description": "<what was found>",
      "recommendation": "<how to fix it>"
    }
  ]
}`)
	b.WriteString("\nBlocks for tools that timed out, were not installed or failed contain no scan data; do not invent findings for them.\n\n")
	b.WriteString("SCAN OUTPUT:\n")
	b.WriteString(output)
	return b.String()
}

func BuildChatPrompt(question string, scan *models.Scan) string {
	var b strings.Builder
	b.WriteString("You are a cybersecurity assistant helping an engineer triage scan results. Answer concisely in plain text.\n\n")
	if scan != nil {
		fmt.Fprintf(&b, "Scan %s of %s using %s, status %s.\n", scan.ID, scan.Target, strings.Join(scan.Tools, ", "), scan.Status)
		if scan.Status == models.ScanStatusCompleted || scan.Status == models.ScanStatusClean {
			fmt.Fprintf(&b, "Issues: %d, critical: %d, risk score: %d.\n", scan.Issues, scan.Critical, scan.RiskScore)
		}
		if scan.AISummary != "" {
			fmt.Fprintf(&b, "Stored analysis:\n%s\n", scan.AISummary)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Question: %s\n", question)
	return b.String()
}
