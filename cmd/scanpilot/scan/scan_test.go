package scan

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"scanpilot/internal/app"
	"scanpilot/internal/config"
	"scanpilot/pkg/testutil"
	"scanpilot/pkg/tools"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Load(config.LoadOptions{SearchPaths: []string{dir}, EnvFile: filepath.Join(dir, ".env")})
	require.NoError(t, err)
	return cfg
}

func TestRunPrintsSummary(t *testing.T) {
	commands := testutil.NewMockCommandRunner()
	commands.SetResponse("nmap", testutil.CommandResponse{Stdout: "22/tcp open ssh"})
	summarizer := &testutil.MockSummarizer{Response: `{"issueCount":1,"criticalCount":0,"riskScore":40,"shortSummary":"SSH exposed","longSummary":"Restrict SSH to the VPN.",
		"findings":[{"port":22,"severity":"Medium","tool":"Nmap","title":"SSH reachable"}]}`}

	var out bytes.Buffer
	err := runWith(context.Background(), testConfig(t), &Config{Target: "10.0.0.5", Tools: []string{"nmap"}},
		app.Options{CommandRunner: commands, Summarizer: summarizer}, &out)
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "Status:   Completed")
	assert.Contains(t, text, "Issues:   1 (0 critical), risk 40/100")
	assert.Contains(t, text, "[Medium] SSH reachable (10.0.0.5:22, Nmap)")
}

func TestRunReportsFailure(t *testing.T) {
	summarizer := &testutil.MockSummarizer{Response: "not json"}

	var out bytes.Buffer
	err := runWith(context.Background(), testConfig(t), &Config{Target: "10.0.0.5", Tools: []string{"nmap"}},
		app.Options{CommandRunner: testutil.NewMockCommandRunner(), Summarizer: summarizer}, &out)
	require.Error(t, err)
	assert.Contains(t, out.String(), "Status:   Failed")
}

func TestRunUnknownTool(t *testing.T) {
	var out bytes.Buffer
	err := runWith(context.Background(), testConfig(t), &Config{Target: "10.0.0.5", Tools: []string{"metasploit"}},
		app.Options{CommandRunner: testutil.NewMockCommandRunner(), Summarizer: &testutil.MockSummarizer{}}, &out)
	assert.Error(t, err)
	assert.Empty(t, out.String())
}

func TestPrintTools(t *testing.T) {
	var out bytes.Buffer
	printTools(&out, tools.DefaultDefinitions())
	assert.Contains(t, out.String(), "• Nmap")
	assert.Contains(t, out.String(), "Timeout: 1m0s")
}
