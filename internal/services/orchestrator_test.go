package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"scanpilot/internal/analyzer"
	"scanpilot/internal/metrics"
	"scanpilot/internal/models"
	"scanpilot/internal/notification"
	"scanpilot/internal/registry"
	"scanpilot/pkg/engine"
	scanerrors "scanpilot/pkg/errors"
	"scanpilot/pkg/logger"
	"scanpilot/pkg/runner"
	"scanpilot/pkg/testutil"
	"scanpilot/pkg/tools"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoIssues = `{"issueCount":2,"criticalCount":1,"riskScore":80,"shortSummary":"Two issues","longSummary":"Patch OpenSSH and close port 8080.",
  "findings":[{"port":22,"severity":"Critical","tool":"Nmap","title":"Old OpenSSH"},{"severity":"Low","tool":"Nikto","title":"Server banner"}]}`

const noIssues = `{"issueCount":0,"criticalCount":0,"riskScore":0,"shortSummary":"Nothing found","longSummary":"No exposed services."}`

type fakeNotifier struct {
	mu       sync.Mutex
	messages []notification.Message
}

func (n *fakeNotifier) Send(msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return nil
}

func (n *fakeNotifier) Close() error { return nil }

func (n *fakeNotifier) Messages() []notification.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification.Message(nil), n.messages...)
}

type testEnv struct {
	orch     *Orchestrator
	registry *registry.Registry
	runner   *testutil.MockCommandRunner
}

func newTestEnv(t *testing.T, a engine.Analyzer, executorOpts []engine.OptFunc, opts ...Option) *testEnv {
	t.Helper()
	log := logger.Discard()
	reg := registry.New(log)
	mock := testutil.NewMockCommandRunner()

	catalog, err := tools.NewCatalog([]tools.Definition{
		{Name: "Nmap", Command: "nmap", Args: []string{"-sV", tools.TargetPlaceholder}},
		{Name: "Nikto", Command: "nikto", Args: []string{"-h", tools.URLPlaceholder}},
	})
	require.NoError(t, err)

	executorOpts = append([]engine.OptFunc{engine.WithCancellationChecker(reg)}, executorOpts...)
	executor := engine.NewExecutor(runner.NewToolRunner(mock, log), a, log, executorOpts...)

	orch := NewOrchestrator(reg, catalog, executor, log, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})
	return &testEnv{orch: orch, registry: reg, runner: mock}
}

func summarizing(response string) engine.Analyzer {
	return analyzer.New(&testutil.MockSummarizer{Response: response}, time.Second, logger.Discard())
}

func wait(t *testing.T, o *Orchestrator, id string) *models.Scan {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	scan, err := o.Wait(ctx, id)
	require.NoError(t, err)
	return scan
}

func TestScanRoundTrip(t *testing.T) {
	notifier := &fakeNotifier{}
	m := metrics.New()
	env := newTestEnv(t, summarizing(twoIssues), nil, WithNotifier(notifier), WithMetrics(m))

	release := make(chan struct{})
	env.runner.SetResponse("nmap", testutil.CommandResponse{Stdout: "22/tcp open ssh OpenSSH 7.2", Block: release})
	env.runner.SetResponse("nikto", testutil.CommandResponse{Stdout: "+ Server: Apache"})

	started, err := env.orch.StartScan(context.Background(), " 10.0.0.5 ", []string{"nmap", "NIKTO", "Nmap"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", started.Target)
	assert.Equal(t, []string{"Nmap", "Nikto"}, started.Tools, "tools are canonical and de-duplicated")

	inFlight, err := env.orch.GetScan(started.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusInProgress, inFlight.Status)
	assert.Nil(t, inFlight.DurationSeconds)
	assert.Nil(t, inFlight.DurationMinutes)

	close(release)
	final := wait(t, env.orch, started.ID)

	assert.Equal(t, models.ScanStatusCompleted, final.Status)
	assert.Equal(t, 2, final.Issues)
	assert.Equal(t, 1, final.Critical)
	assert.Equal(t, 80, final.RiskScore)
	assert.Equal(t, "Two issues", final.Summary)
	require.NotNil(t, final.DurationSeconds)
	require.NotNil(t, final.DurationMinutes)
	assert.GreaterOrEqual(t, *final.DurationMinutes, 1)

	findings, err := env.orch.ListFindings(started.ID)
	require.NoError(t, err)
	require.Len(t, findings, 2)
	assert.Equal(t, started.ID, findings[0].ScanID)
	assert.NotEmpty(t, findings[0].ID)
	assert.Equal(t, models.SeverityCritical, findings[0].Severity)

	messages := notifier.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "critical", messages[0].Severity)
}

func TestCleanScan(t *testing.T) {
	env := newTestEnv(t, summarizing(noIssues), nil)

	scan, err := env.orch.StartScan(context.Background(), "example.com", []string{"Nikto"})
	require.NoError(t, err)

	final := wait(t, env.orch, scan.ID)
	assert.Equal(t, models.ScanStatusClean, final.Status)
	assert.Equal(t, 0, final.Issues)
	assert.Equal(t, []string{"nikto"}, env.runner.ExecutedNames())
	assert.Equal(t, []string{"-h", "http://example.com"}, env.runner.GetExecutedCommands()[0].Args)
}

func TestStartScanValidation(t *testing.T) {
	env := newTestEnv(t, summarizing(noIssues), nil)

	_, err := env.orch.StartScan(context.Background(), "  ", []string{"Nmap"})
	assert.True(t, errors.Is(err, scanerrors.ErrInvalidRequest))

	_, err = env.orch.StartScan(context.Background(), "host", nil)
	assert.True(t, errors.Is(err, scanerrors.ErrInvalidRequest))

	_, err = env.orch.StartScan(context.Background(), "host", []string{"Nmap", "Metasploit"})
	assert.True(t, errors.Is(err, scanerrors.ErrUnknownTool))

	assert.Empty(t, env.orch.ListScans(), "rejected requests never create records")
}

func TestCancelQueuedScan(t *testing.T) {
	log := logger.Discard()
	env := newTestEnv(t, summarizing(noIssues), nil, WithQueue(engine.NewQueue(1, log)))

	release := make(chan struct{})
	env.runner.SetResponse("nmap", testutil.CommandResponse{Stdout: "open", Block: release})

	first, err := env.orch.StartScan(context.Background(), "a.example", []string{"Nmap"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(env.runner.GetExecutedCommands()) == 1 }, time.Second, time.Millisecond)

	second, err := env.orch.StartScan(context.Background(), "b.example", []string{"Nmap", "Nikto"})
	require.NoError(t, err)
	task, ok := env.orch.Task(second.ID)
	require.True(t, ok)

	cancelled, err := env.orch.CancelScan(second.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	final := wait(t, env.orch, second.ID)
	assert.Equal(t, models.ScanStatusFailed, final.Status)
	assert.Equal(t, engine.CancelledReason, final.Summary)
	assert.ErrorIs(t, task.Outcome().Err, scanerrors.ErrScanCancelled)
	assert.Equal(t, 0, final.Issues)
	findings, err := env.orch.ListFindings(second.ID)
	require.NoError(t, err)
	assert.Empty(t, findings)

	close(release)
	assert.Equal(t, models.ScanStatusClean, wait(t, env.orch, first.ID).Status)
	assert.Len(t, env.runner.GetExecutedCommands(), 1, "the cancelled scan never dispatched a tool")
}

func TestCancelBetweenTools(t *testing.T) {
	env := newTestEnv(t, summarizing(noIssues), []engine.OptFunc{engine.WithFanOut(1)})

	release := make(chan struct{})
	env.runner.SetResponse("nmap", testutil.CommandResponse{Stdout: "open", Block: release})

	scan, err := env.orch.StartScan(context.Background(), "host", []string{"Nmap", "Nikto"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(env.runner.GetExecutedCommands()) == 1 }, time.Second, time.Millisecond)
	task, ok := env.orch.Task(scan.ID)
	require.True(t, ok)

	cancelled, err := env.orch.CancelScan(scan.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	// the running tool is allowed to finish
	close(release)

	final := wait(t, env.orch, scan.ID)
	assert.Equal(t, models.ScanStatusFailed, final.Status)
	assert.Equal(t, engine.CancelledReason, final.Summary)
	assert.Contains(t, final.AISummary, "1 tool(s) had started")
	assert.Contains(t, final.AISummary, "Partial output:\n=== Nmap ===\nNmap: open")
	assert.Equal(t, []string{"nmap"}, env.runner.ExecutedNames())

	outcome := task.Outcome()
	assert.ErrorIs(t, outcome.Err, scanerrors.ErrScanCancelled)
	assert.Equal(t, runner.ResultOutput, outcome.ToolResults[0].Kind, "the running tool was not interrupted")
}

// interruptionCounter records tools whose context ended before they returned.
type interruptionCounter struct {
	mu          sync.Mutex
	interrupted int
}

func (c *interruptionCounter) Run(ctx context.Context, def tools.Definition, target string, timeout time.Duration) runner.Result {
	select {
	case <-time.After(time.Millisecond):
		return runner.Result{Tool: def.Name, Kind: runner.ResultOutput, Output: "open"}
	case <-ctx.Done():
		c.mu.Lock()
		c.interrupted++
		c.mu.Unlock()
		return runner.Result{Tool: def.Name, Kind: runner.ResultExecutionError, Message: "invocation cancelled"}
	}
}

func TestCancelRacingDequeueNeverKillsRunningTools(t *testing.T) {
	log := logger.Discard()
	reg := registry.New(log)
	catalog, err := tools.NewCatalog([]tools.Definition{{Name: "Nmap", Command: "nmap"}})
	require.NoError(t, err)

	invoker := &interruptionCounter{}
	executor := engine.NewExecutor(invoker, summarizing(noIssues), log, engine.WithCancellationChecker(reg))
	orch := NewOrchestrator(reg, catalog, executor, log)
	defer orch.Shutdown(context.Background())

	for i := 0; i < 200; i++ {
		scan, err := orch.StartScan(context.Background(), fmt.Sprintf("10.0.0.%d", i%250), []string{"Nmap"})
		require.NoError(t, err)
		_, err = orch.CancelScan(scan.ID)
		require.NoError(t, err)

		final := wait(t, orch, scan.ID)
		assert.NotEqual(t, models.ScanStatusInProgress, final.Status)
	}

	invoker.mu.Lock()
	defer invoker.mu.Unlock()
	assert.Zero(t, invoker.interrupted, "cancellation only stops dispatch")
}

func TestCancelTerminalAndUnknownScans(t *testing.T) {
	env := newTestEnv(t, summarizing(noIssues), nil)

	scan, err := env.orch.StartScan(context.Background(), "host", []string{"Nmap"})
	require.NoError(t, err)
	final := wait(t, env.orch, scan.ID)
	require.Equal(t, models.ScanStatusClean, final.Status)

	cancelled, err := env.orch.CancelScan(scan.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)

	again, err := env.orch.GetScan(scan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusClean, again.Status, "cancelling a finished scan changes nothing")

	_, err = env.orch.CancelScan("missing")
	assert.True(t, errors.Is(err, scanerrors.ErrUnknownScanID))

	_, err = env.orch.Wait(context.Background(), "missing")
	assert.True(t, errors.Is(err, scanerrors.ErrUnknownScanID))
}

func TestAnalyzerFailureFailsScan(t *testing.T) {
	env := newTestEnv(t, summarizing(`{"issueCount":2,"criticalCount":5,"riskScore":50,"shortSummary":"s","longSummary":"l"}`), nil)

	scan, err := env.orch.StartScan(context.Background(), "host", []string{"Nmap"})
	require.NoError(t, err)

	final := wait(t, env.orch, scan.ID)
	assert.Equal(t, models.ScanStatusFailed, final.Status)
	assert.Contains(t, final.Summary, "criticalCount 5 exceeds issueCount 2")
	assert.Equal(t, 0, final.Issues)
	assert.Equal(t, 0, final.RiskScore)
}

type panickingAnalyzer struct{}

func (panickingAnalyzer) Analyze(context.Context, analyzer.Request) (*analyzer.Summary, error) {
	panic("boom")
}

func TestPanicInScanIsRecovered(t *testing.T) {
	env := newTestEnv(t, panickingAnalyzer{}, nil)

	scan, err := env.orch.StartScan(context.Background(), "host", []string{"Nmap"})
	require.NoError(t, err)

	final := wait(t, env.orch, scan.ID)
	assert.Equal(t, models.ScanStatusFailed, final.Status)
	assert.Contains(t, final.Summary, "panic in background scan: boom")
}

func TestShutdownFailsRunningScans(t *testing.T) {
	env := newTestEnv(t, summarizing(noIssues), nil)
	env.runner.SetResponse("nmap", testutil.CommandResponse{Block: make(chan struct{})})

	scan, err := env.orch.StartScan(context.Background(), "host", []string{"Nmap"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(env.runner.GetExecutedCommands()) == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.orch.Shutdown(ctx))

	final, err := env.orch.GetScan(scan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusFailed, final.Status)
	assert.Equal(t, interruptedByShutdown, final.Summary)
}

func TestRecoverInterrupted(t *testing.T) {
	env := newTestEnv(t, summarizing(noIssues), nil)
	finished := time.Now()
	env.registry.Restore([]models.Scan{
		{ID: "stale", Target: "host", Status: models.ScanStatusInProgress, StartedAt: finished.Add(-time.Hour)},
		{ID: "done", Target: "host", Status: models.ScanStatusClean, StartedAt: finished.Add(-time.Hour), FinishedAt: &finished},
	}, nil)

	assert.Equal(t, 1, env.orch.RecoverInterrupted())

	stale, err := env.orch.GetScan("stale")
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusFailed, stale.Status)
	assert.Equal(t, interruptedByRestart, stale.Summary)
	require.NotNil(t, stale.DurationMinutes)
	assert.GreaterOrEqual(t, *stale.DurationMinutes, 60)

	done, err := env.orch.GetScan("done")
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusClean, done.Status)
}

func TestUpdateFindingStatus(t *testing.T) {
	env := newTestEnv(t, summarizing(twoIssues), nil)

	scan, err := env.orch.StartScan(context.Background(), "host", []string{"Nmap", "Nikto"})
	require.NoError(t, err)
	wait(t, env.orch, scan.ID)

	findings, err := env.orch.ListFindings("")
	require.NoError(t, err)
	require.NotEmpty(t, findings)

	updated, err := env.orch.UpdateFindingStatus(findings[0].ID, "resolved")
	require.NoError(t, err)
	assert.Equal(t, models.FindingStatusResolved, updated.Status)

	_, err = env.orch.UpdateFindingStatus(findings[0].ID, "ignored")
	assert.True(t, errors.Is(err, scanerrors.ErrInvalidRequest))
}

func TestConcurrentScans(t *testing.T) {
	env := newTestEnv(t, summarizing(noIssues), nil, WithQueue(engine.NewQueue(3, logger.Discard())))
	env.runner.SetResponse("nmap", testutil.CommandResponse{Stdout: "ok", Delay: 10 * time.Millisecond})

	ids := make([]string, 12)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			scan, err := env.orch.StartScan(context.Background(), fmt.Sprintf("10.0.0.%d", i), []string{"Nmap"})
			if assert.NoError(t, err) {
				ids[i] = scan.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, models.ScanStatusClean, wait(t, env.orch, id).Status)
	}
	assert.Len(t, env.orch.ListScans(), len(ids))
	assert.LessOrEqual(t, env.runner.MaxConcurrent(), 3)
}
