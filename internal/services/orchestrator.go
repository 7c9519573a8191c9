package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"scanpilot/internal/metrics"
	"scanpilot/internal/models"
	"scanpilot/internal/notification"
	"scanpilot/internal/registry"
	"scanpilot/pkg/engine"
	scanerrors "scanpilot/pkg/errors"
	"scanpilot/pkg/logger"
	"scanpilot/pkg/tools"

	"github.com/google/uuid"
)

const (
	interruptedByRestart  = "Scan interrupted by server restart"
	interruptedByShutdown = "Scan interrupted by server shutdown"
)

// Task is the handle of one running scan.
type Task struct {
	ScanID string

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	queued  atomic.Bool
	outcome engine.Outcome
}

func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Outcome is only valid once Done is closed.
func (t *Task) Outcome() engine.Outcome {
	<-t.done
	return t.outcome
}

type ScanServiceMethods interface {
	StartScan(ctx context.Context, target string, toolNames []string) (*models.Scan, error)
	CancelScan(id string) (bool, error)
	GetScan(id string) (*models.Scan, error)
	ListScans() []*models.Scan
	ListFindings(scanID string) ([]*models.Finding, error)
	UpdateFindingStatus(id, status string) (*models.Finding, error)
	Tools() []tools.Definition
}

// Compile-time interface check.
var _ ScanServiceMethods = (*Orchestrator)(nil)

// Orchestrator is the facade over registry, executor and analyzer.
type Orchestrator struct {
	registry *registry.Registry
	catalog  *tools.Catalog
	executor *engine.Executor
	queue    *engine.Queue
	status   *ScanStatusManager
	notifier notification.Notifier
	metrics  *metrics.Metrics
	logger   *logger.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	tasks   sync.Map // scan id -> *Task
	wg      sync.WaitGroup
}

type Option func(*Orchestrator)

func WithQueue(q *engine.Queue) Option {
	return func(o *Orchestrator) {
		o.queue = q
	}
}

func WithNotifier(n notification.Notifier) Option {
	return func(o *Orchestrator) {
		o.notifier = n
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

func NewOrchestrator(reg *registry.Registry, catalog *tools.Catalog, executor *engine.Executor, log *logger.Logger, opts ...Option) *Orchestrator {
	ctx, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		registry: reg,
		catalog:  catalog,
		executor: executor,
		status:   newScanStatusManager(reg, log),
		logger:   log,
		baseCtx:  ctx,
		stop:     stop,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.queue == nil {
		o.queue = engine.NewQueue(0, log)
	}
	return o
}

// StartScan records a new In Progress scan and launches it in the
// background. The returned record is the initial snapshot.
func (o *Orchestrator) StartScan(ctx context.Context, target string, toolNames []string) (*models.Scan, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("%w: target is required", scanerrors.ErrInvalidRequest)
	}
	if len(toolNames) == 0 {
		return nil, fmt.Errorf("%w: at least one tool is required", scanerrors.ErrInvalidRequest)
	}

	defs, err := o.catalog.Resolve(toolNames)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}

	scan := &models.Scan{
		ID:        uuid.New().String(),
		Target:    target,
		Tools:     names,
		StartedAt: time.Now(),
		Status:    models.ScanStatusInProgress,
		Owner:     models.DefaultOwner,
	}
	if err := o.registry.Create(scan); err != nil {
		return nil, err
	}

	taskCtx, cancel := context.WithCancel(o.baseCtx)
	task := &Task{ScanID: scan.ID, ctx: taskCtx, cancel: cancel, done: make(chan struct{})}
	task.queued.Store(true)
	o.tasks.Store(scan.ID, task)

	if o.metrics != nil {
		o.metrics.ScanStarted()
	}

	o.logger.WithContext(context.WithValue(ctx, logger.ScanIDKey, scan.ID)).WithFields(map[string]interface{}{
		"target": target,
		"tools":  names,
	}).Info("Scan accepted")

	o.wg.Add(1)
	go o.run(task, scan.Clone(), defs)

	return scan.Clone(), nil
}

func (o *Orchestrator) run(task *Task, scan *models.Scan, defs []tools.Definition) {
	defer o.wg.Done()
	defer close(task.done)
	defer o.tasks.Delete(task.ScanID)
	defer task.cancel()

	defer func() {
		if r := recover(); r != nil {
			panicMsg := fmt.Sprintf("panic in background scan: %v", r)
			o.logger.WithFields(logger.Fields{"scan_id": scan.ID, "panic": r}).Error(panicMsg)
			task.outcome = engine.Outcome{Kind: engine.OutcomeFailed, Reason: panicMsg, Err: errors.New(panicMsg)}
			o.finish(scan.ID, task.outcome)
		}
	}()

	cancelledInQueue := engine.Outcome{
		Kind:   engine.OutcomeCancelled,
		Reason: engine.CancelledReason,
		Err:    fmt.Errorf("%w while queued", scanerrors.ErrScanCancelled),
	}

	var outcome engine.Outcome
	err := o.queue.Run(task.ctx, func() {
		// CancelScan claims the flag first when it cancels a queued scan.
		if !task.queued.CompareAndSwap(true, false) {
			outcome = cancelledInQueue
			return
		}
		outcome = o.executor.Execute(task.ctx, scan.ID, scan.Target, defs)
	})
	if err != nil {
		outcome = cancelledInQueue
	}

	task.outcome = outcome
	o.finish(scan.ID, outcome)
}

func (o *Orchestrator) finish(scanID string, outcome engine.Outcome) {
	var scan *models.Scan

	switch {
	case outcome.Kind == engine.OutcomeSuccess:
		var err error
		scan, err = o.status.MarkCompleted(scanID, outcome.Summary)
		if err != nil {
			o.logger.WithFields(logger.Fields{"scan_id": scanID, "error": err}).Error("Failed to finalize scan")
			scan = o.status.MarkFailedWithReason(scanID, fmt.Sprintf("Failed to store analysis: %v", err))
		}
	case o.baseCtx.Err() != nil:
		scan = o.status.MarkFailedWithReason(scanID, interruptedByShutdown)
	case outcome.Kind == engine.OutcomeCancelled:
		scan = o.status.MarkCancelled(scanID, outcome)
	default:
		scan = o.status.MarkFailedWithReason(scanID, outcome.Reason)
	}

	if scan == nil {
		return
	}
	if o.metrics != nil {
		o.metrics.ScanTerminal(string(scan.Status))
	}
	o.notify(scan)
}

func (o *Orchestrator) notify(scan *models.Scan) {
	if o.notifier == nil {
		return
	}
	err := o.notifier.Send(notification.ScanMessage(scan))
	if err != nil {
		o.logger.WithFields(logger.Fields{"scan_id": scan.ID, "error": err}).Warn("Failed to send scan notification")
	}
	if o.metrics != nil {
		o.metrics.NotificationSent(err)
	}
}

// CancelScan requests cancellation. It reports false for scans that are
// already terminal. Running tools are never interrupted; the executor stops
// at its next dispatch.
func (o *Orchestrator) CancelScan(id string) (bool, error) {
	ok, err := o.registry.SetCancellationRequested(id)
	if err != nil || !ok {
		return ok, err
	}

	if value, exists := o.tasks.Load(id); exists {
		task := value.(*Task)
		if task.queued.CompareAndSwap(true, false) {
			task.cancel()
		}
	}

	o.logger.WithFields(logger.Fields{"scan_id": id}).Info("Scan cancellation requested")
	return true, nil
}

// Wait blocks until the scan is terminal and returns its final record.
func (o *Orchestrator) Wait(ctx context.Context, id string) (*models.Scan, error) {
	if value, exists := o.tasks.Load(id); exists {
		select {
		case <-value.(*Task).Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	scan, err := o.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if !scan.Status.Terminal() {
		return nil, fmt.Errorf("scan %s has no running task", id)
	}
	return scan, nil
}

// Task returns the live handle of a running scan.
func (o *Orchestrator) Task(id string) (*Task, bool) {
	value, exists := o.tasks.Load(id)
	if !exists {
		return nil, false
	}
	return value.(*Task), true
}

func (o *Orchestrator) GetScan(id string) (*models.Scan, error) {
	return o.registry.Get(id)
}

func (o *Orchestrator) ListScans() []*models.Scan {
	return o.registry.List()
}

func (o *Orchestrator) ListFindings(scanID string) ([]*models.Finding, error) {
	return o.registry.ListFindings(scanID)
}

func (o *Orchestrator) UpdateFindingStatus(id, status string) (*models.Finding, error) {
	parsed, ok := models.ParseFindingStatus(status)
	if !ok {
		return nil, fmt.Errorf("%w: unknown finding status %q", scanerrors.ErrInvalidRequest, status)
	}
	return o.registry.UpdateFindingStatus(id, parsed)
}

func (o *Orchestrator) Tools() []tools.Definition {
	return o.catalog.List()
}

// RecoverInterrupted fails every In Progress scan that has no task in this
// process, which after a restart means all of them.
func (o *Orchestrator) RecoverInterrupted() int {
	recovered := 0
	for _, scan := range o.registry.List() {
		if scan.Status != models.ScanStatusInProgress {
			continue
		}
		if _, running := o.tasks.Load(scan.ID); running {
			continue
		}
		if o.status.MarkFailedWithReason(scan.ID, interruptedByRestart) != nil {
			recovered++
		}
	}
	if recovered > 0 {
		o.logger.WithFields(logger.Fields{"scans": recovered}).Warn("Marked interrupted scans as failed")
	}
	return recovered
}

// Shutdown cancels every running scan and waits for their records to be
// finalized.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stop()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for running scans: %w", ctx.Err())
	}

	if o.notifier != nil {
		if err := o.notifier.Close(); err != nil {
			o.logger.WithError(err).Warn("Failed to close notifier")
		}
	}
	return nil
}
