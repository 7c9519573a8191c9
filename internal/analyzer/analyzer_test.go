package analyzer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"scanpilot/internal/models"
	scanerrors "scanpilot/pkg/errors"
	"scanpilot/pkg/logger"
	"scanpilot/pkg/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validResponse = `{
  "issueCount": 2,
  "criticalCount": 1,
  "riskScore": 72,
  "shortSummary": "Outdated OpenSSH and an exposed admin panel.",
  "longSummary": "Upgrade OpenSSH and restrict /admin to the VPN.",
  "findings": [
    {"host": "10.0.0.5", "port": 22, "service": "ssh", "severity": "critical", "tool": "nmap",
     "title": "OpenSSH 7.2 vulnerable", "description": "CVE-2016-6210", "recommendation": "Upgrade"},
    {"severity": "Medium", "tool": "Nikto", "title": "Admin panel exposed"}
  ]
}`

func TestParse(t *testing.T) {
	tools := []string{"Nmap", "Nikto"}

	tests := []struct {
		name     string
		response string
		reason   string
	}{
		{name: "critical exceeds issues", response: `{"issueCount":2,"criticalCount":5,"riskScore":10,"shortSummary":"s","longSummary":"l"}`, reason: "criticalCount 5 exceeds issueCount 2"},
		{name: "risk above range", response: `{"issueCount":1,"criticalCount":0,"riskScore":101,"shortSummary":"s","longSummary":"l"}`, reason: "riskScore 101 outside [0,100]"},
		{name: "negative issues", response: `{"issueCount":-1,"criticalCount":0,"riskScore":1,"shortSummary":"s","longSummary":"l"}`, reason: "issueCount -1 is negative"},
		{name: "missing risk", response: `{"issueCount":0,"criticalCount":0,"shortSummary":"s","longSummary":"l"}`, reason: "missing required field riskScore"},
		{name: "null summary", response: `{"issueCount":0,"criticalCount":0,"riskScore":0,"shortSummary":null,"longSummary":"l"}`, reason: "missing required field shortSummary"},
		{name: "float count", response: `{"issueCount":1.5,"criticalCount":0,"riskScore":0,"shortSummary":"s","longSummary":"l"}`, reason: "not valid summary JSON"},
		{name: "prose only", response: "Risk level: HIGH\nSummary: bad things", reason: "does not contain a JSON object"},
		{name: "unknown severity", response: `{"issueCount":1,"criticalCount":0,"riskScore":5,"shortSummary":"s","longSummary":"l","findings":[{"severity":"Severe","tool":"Nmap","title":"t"}]}`, reason: "unknown severity"},
		{name: "tool not run", response: `{"issueCount":1,"criticalCount":0,"riskScore":5,"shortSummary":"s","longSummary":"l","findings":[{"severity":"Low","tool":"OpenVAS","title":"t"}]}`, reason: "which was not run"},
		{name: "more findings than issues", response: `{"issueCount":0,"criticalCount":0,"riskScore":5,"shortSummary":"s","longSummary":"l","findings":[{"severity":"Low","tool":"Nmap","title":"t"}]}`, reason: "1 findings reported for issueCount 0"},
		{name: "bad port", response: `{"issueCount":1,"criticalCount":0,"riskScore":5,"shortSummary":"s","longSummary":"l","findings":[{"severity":"Low","tool":"Nmap","title":"t","port":70000}]}`, reason: "invalid port 70000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary, err := Parse(tt.response, "10.0.0.5", tools)
			assert.Nil(t, summary)
			require.Error(t, err)
			assert.True(t, errors.Is(err, scanerrors.ErrAnalyzerMalformed))
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestParseValidResponse(t *testing.T) {
	summary, err := Parse("```json\n"+validResponse+"\n```", "10.0.0.5", []string{"Nmap", "Nikto"})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.IssueCount)
	assert.Equal(t, 1, summary.CriticalCount)
	assert.Equal(t, 72, summary.RiskScore)
	require.Len(t, summary.Findings, 2)

	first := summary.Findings[0]
	assert.Equal(t, models.SeverityCritical, first.Severity)
	assert.Equal(t, "Nmap", first.Tool)
	require.NotNil(t, first.Port)
	assert.Equal(t, 22, *first.Port)
	assert.Equal(t, models.FindingStatusOpen, first.Status)

	second := summary.Findings[1]
	assert.Equal(t, "10.0.0.5", second.Host, "host defaults to the scan target")
	assert.Nil(t, second.Port)
}

func TestParseCleanResponse(t *testing.T) {
	summary, err := Parse(`Here you go: {"issueCount":0,"criticalCount":0,"riskScore":0,"shortSummary":"Nothing found","longSummary":"All tools timed out; no data."}`, "host", []string{"Nmap"})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.IssueCount)
	assert.Empty(t, summary.Findings)
}

func TestAnalyze(t *testing.T) {
	req := Request{Target: "10.0.0.5", Tools: []string{"Nmap", "Nikto"}, Output: "=== Nmap ===\nOPEN_PORT=80"}

	t.Run("accepted", func(t *testing.T) {
		summarizer := &testutil.MockSummarizer{Response: validResponse}
		a := New(summarizer, time.Second, logger.Discard())

		summary, err := a.Analyze(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, 72, summary.RiskScore)

		prompts := summarizer.Prompts()
		require.Len(t, prompts, 1)
		assert.Contains(t, prompts[0], "Target: 10.0.0.5")
		assert.Contains(t, prompts[0], "OPEN_PORT=80")
	})

	t.Run("transport failure", func(t *testing.T) {
		a := New(&testutil.MockSummarizer{Err: errors.New("401 invalid x-api-key")}, time.Second, logger.Discard())

		_, err := a.Analyze(context.Background(), req)
		assert.True(t, errors.Is(err, scanerrors.ErrAnalyzerUnreachable))
		assert.Contains(t, err.Error(), "401 invalid x-api-key")
	})

	t.Run("slow service", func(t *testing.T) {
		a := New(&testutil.MockSummarizer{Response: validResponse, Delay: time.Second}, 20*time.Millisecond, logger.Discard())

		_, err := a.Analyze(context.Background(), req)
		assert.True(t, errors.Is(err, scanerrors.ErrAnalyzerUnreachable))
		assert.Contains(t, err.Error(), "no response within 20ms")
	})

	t.Run("unconfigured", func(t *testing.T) {
		a := New(UnconfiguredSummarizer{}, time.Second, logger.Discard())

		_, err := a.Analyze(context.Background(), req)
		assert.True(t, errors.Is(err, scanerrors.ErrAnalyzerUnreachable))
		assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
	})

	t.Run("malformed", func(t *testing.T) {
		a := New(&testutil.MockSummarizer{Response: `{"issueCount":2,"criticalCount":5,"riskScore":50,"shortSummary":"s","longSummary":"l"}`}, time.Second, logger.Discard())

		_, err := a.Analyze(context.Background(), req)
		assert.True(t, errors.Is(err, scanerrors.ErrAnalyzerMalformed))
	})
}

func TestChatPromptIncludesStoredSummary(t *testing.T) {
	summarizer := &testutil.MockSummarizer{Response: "  Patch OpenSSH first.  "}
	a := New(summarizer, time.Second, logger.Discard())

	scan := &models.Scan{ID: "s1", Target: "10.0.0.5", Tools: []string{"Nmap"}, Status: models.ScanStatusCompleted, Issues: 2, Critical: 1, RiskScore: 72, AISummary: "Upgrade OpenSSH."}
	answer, err := a.Chat(context.Background(), "What should I fix first?", scan)
	require.NoError(t, err)
	assert.Equal(t, "Patch OpenSSH first.", answer)

	prompt := summarizer.Prompts()[0]
	assert.Contains(t, prompt, "risk score: 72")
	assert.Contains(t, prompt, "Upgrade OpenSSH.")
	assert.Contains(t, prompt, "Question: What should I fix first?")
}

func TestNewAnthropicSummarizerRequiresKey(t *testing.T) {
	_, err := NewAnthropicSummarizer(AnthropicConfig{})
	assert.True(t, errors.Is(err, scanerrors.ErrInvalidConfig))

	s, err := NewAnthropicSummarizer(AnthropicConfig{APIKey: "sk-test", RequestsPerMinute: 30})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, s.model)
	assert.EqualValues(t, DefaultMaxTokens, s.maxTokens)
}

func TestBuildPromptTruncatesOnRuneBoundary(t *testing.T) {
	// a three-byte rune straddles the limit
	output := strings.Repeat("a", maxOutputInPrompt-1) + "€" + "after-limit"

	prompt := BuildPrompt(Request{Target: "host", Tools: []string{"Nmap"}, Output: output})

	assert.True(t, utf8.ValidString(prompt))
	assert.Contains(t, prompt, strings.Repeat("a", maxOutputInPrompt-1)+"\n[output truncated]")
	assert.NotContains(t, prompt, "after-limit")
}

func TestBuildPromptKeepsShortOutput(t *testing.T) {
	prompt := BuildPrompt(Request{Target: "host", Tools: []string{"Nmap"}, Output: "22/tcp open ssh"})

	assert.Contains(t, prompt, "22/tcp open ssh")
	assert.NotContains(t, prompt, "[output truncated]")
}
