// Package engine runs the tools of one scan with bounded fan-out, merges
// their output in request order and hands it to the analyzer.
package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"scanpilot/internal/analyzer"
	scanerrors "scanpilot/pkg/errors"
	"scanpilot/pkg/logger"
	"scanpilot/pkg/runner"
	"scanpilot/pkg/tools"

	"golang.org/x/sync/semaphore"
)

const (
	DefaultFanOut = 4

	CancelledReason = "Scan cancelled"
)

type OutcomeKind string

const (
	OutcomeSuccess   OutcomeKind = "success"
	OutcomeCancelled OutcomeKind = "cancelled"
	OutcomeFailed    OutcomeKind = "failed"
)

// ToolReport is the per-tool trace kept on the outcome.
type ToolReport struct {
	Tool      string
	Kind      runner.ResultKind
	Message   string
	ExitCode  int
	Duration  time.Duration
	Truncated bool
}

// Outcome is what one execution produced. Summary is set only for
// OutcomeSuccess; Partial only for OutcomeCancelled. Err is nil on success
// and wraps ErrScanCancelled on cancellation.
type Outcome struct {
	Kind        OutcomeKind
	Summary     *analyzer.Summary
	Merged      string
	Partial     string
	Reason      string
	Err         error
	ToolResults []ToolReport
	Duration    time.Duration
}

// Invoker runs one tool; *runner.ToolRunner implements it.
type Invoker interface {
	Run(ctx context.Context, def tools.Definition, target string, timeout time.Duration) runner.Result
}

// Analyzer turns merged output into a summary; *analyzer.Analyzer implements it.
type Analyzer interface {
	Analyze(ctx context.Context, req analyzer.Request) (*analyzer.Summary, error)
}

// CancellationChecker reports whether a scan was asked to stop.
type CancellationChecker interface {
	IsCancellationRequested(scanID string) bool
}

// Observer receives timing for metrics. All methods must be safe for
// concurrent use.
type Observer interface {
	ToolFinished(tool string, kind runner.ResultKind, d time.Duration)
	ScanFinished(kind OutcomeKind, d time.Duration)
}

type Executor struct {
	invoker     Invoker
	analyzer    Analyzer
	checker     CancellationChecker
	observer    Observer
	fanOut      int
	toolTimeout time.Duration
	scanLogDir  string
	logger      *logger.Logger
}

type OptFunc func(*Executor)

func WithFanOut(n int) OptFunc {
	return func(e *Executor) {
		if n > 0 {
			e.fanOut = n
		}
	}
}

// WithToolTimeout overrides every definition's own timeout. Zero keeps the
// per-definition values.
func WithToolTimeout(d time.Duration) OptFunc {
	return func(e *Executor) {
		e.toolTimeout = d
	}
}

func WithCancellationChecker(c CancellationChecker) OptFunc {
	return func(e *Executor) {
		e.checker = c
	}
}

func WithObserver(o Observer) OptFunc {
	return func(e *Executor) {
		e.observer = o
	}
}

// WithScanLogDir writes every tool's raw output to <dir>/<scanID>.log.
func WithScanLogDir(dir string) OptFunc {
	return func(e *Executor) {
		e.scanLogDir = dir
	}
}

func NewExecutor(invoker Invoker, a Analyzer, log *logger.Logger, opts ...OptFunc) *Executor {
	e := &Executor{
		invoker:  invoker,
		analyzer: a,
		fanOut:   DefaultFanOut,
		logger:   log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) FanOut() int {
	return e.fanOut
}

func (e *Executor) cancelRequested(ctx context.Context, scanID string) bool {
	if ctx.Err() != nil {
		return true
	}
	return e.checker != nil && e.checker.IsCancellationRequested(scanID)
}

// Execute runs defs against target. Cancellation is observed only between
// dispatches: in-flight tools finish, but anything that completes after the
// cutoff is left out of the partial merge.
func (e *Executor) Execute(ctx context.Context, scanID, target string, defs []tools.Definition) (outcome Outcome) {
	start := time.Now()
	log := e.logger.WithFields(logger.Fields{"scan_id": scanID, "target": target})

	scanLog := e.openScanLog(scanID)
	defer func() {
		outcome.Duration = time.Since(start)
		if e.observer != nil {
			e.observer.ScanFinished(outcome.Kind, outcome.Duration)
		}
		if scanLog != nil {
			scanLog.LogScanResult(string(outcome.Kind), outcome.Reason)
			scanLog.Close()
		}
	}()

	var (
		mu        sync.Mutex
		results   = make([]*runner.Result, len(defs))
		wg        sync.WaitGroup
		cutoff    []bool
		cancelled bool
	)

	sem := semaphore.NewWeighted(int64(e.fanOut))
	for i, def := range defs {
		if err := sem.Acquire(ctx, 1); err != nil {
			cancelled = true
			break
		}
		if e.cancelRequested(ctx, scanID) {
			sem.Release(1)
			cancelled = true
			break
		}

		wg.Add(1)
		go func(i int, def tools.Definition) {
			defer wg.Done()
			defer sem.Release(1)

			res := e.invoker.Run(ctx, def, target, e.toolTimeout)
			if e.observer != nil {
				e.observer.ToolFinished(res.Tool, res.Kind, res.Duration)
			}
			if scanLog != nil {
				body := res.Output
				if !res.Succeeded() {
					body = res.Message
				}
				scanLog.LogToolOutput(res.Tool, string(res.Kind), body)
			}

			mu.Lock()
			results[i] = &res
			mu.Unlock()
		}(i, def)
	}

	if cancelled {
		mu.Lock()
		cutoff = make([]bool, len(results))
		for i, res := range results {
			cutoff[i] = res != nil
		}
		mu.Unlock()
	}

	wg.Wait()
	reports := toolReports(results)

	if cancelled {
		partial := make([]*runner.Result, len(results))
		for i, done := range cutoff {
			if done {
				partial[i] = results[i]
			}
		}
		log.WithField("completed_tools", countDone(cutoff)).Info("Scan cancelled before all tools were dispatched")
		return Outcome{
			Kind:        OutcomeCancelled,
			Partial:     Merge(partial),
			Reason:      CancelledReason,
			Err:         scanerrors.ErrScanCancelled,
			ToolResults: reports,
		}
	}

	merged := Merge(results)
	if ctx.Err() != nil {
		log.Info("Scan context ended while tools were running")
		return Outcome{
			Kind:        OutcomeCancelled,
			Partial:     merged,
			Reason:      CancelledReason,
			Err:         fmt.Errorf("%w: %w", scanerrors.ErrScanCancelled, ctx.Err()),
			ToolResults: reports,
		}
	}

	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}

	summary, err := e.analyzer.Analyze(ctx, analyzer.Request{Target: target, Tools: names, Output: merged})
	if err != nil {
		log.WithError(err).Warn("Analyzer failed, scan will be marked failed")
		return Outcome{
			Kind:        OutcomeFailed,
			Merged:      merged,
			Reason:      err.Error(),
			Err:         err,
			ToolResults: reports,
		}
	}

	return Outcome{
		Kind:        OutcomeSuccess,
		Summary:     summary,
		Merged:      merged,
		ToolResults: reports,
	}
}

func (e *Executor) openScanLog(scanID string) *logger.ScanLogger {
	if e.scanLogDir == "" {
		return nil
	}
	scanLog, err := logger.NewScanLogger(scanID, e.scanLogDir, e.logger.GetLevel(), io.Discard)
	if err != nil {
		e.logger.WithFields(logger.Fields{"scan_id": scanID, "error": err}).Warn("Scan log unavailable")
		return nil
	}
	return scanLog
}

func toolReports(results []*runner.Result) []ToolReport {
	reports := make([]ToolReport, 0, len(results))
	for _, res := range results {
		if res == nil {
			continue
		}
		reports = append(reports, ToolReport{
			Tool:      res.Tool,
			Kind:      res.Kind,
			Message:   res.Message,
			ExitCode:  res.ExitCode,
			Duration:  res.Duration,
			Truncated: res.Truncated,
		})
	}
	return reports
}

func countDone(cutoff []bool) int {
	n := 0
	for _, done := range cutoff {
		if done {
			n++
		}
	}
	return n
}
