// Package registry holds scan and finding records and enforces the scan
// lifecycle. Each scan id owns its own lock and an immutable snapshot, so
// writers to different scans never contend and readers never block.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"scanpilot/internal/models"
	scanerrors "scanpilot/pkg/errors"
	"scanpilot/pkg/logger"
)

// Persister is the optional durable store behind the registry. Calls for one
// scan id are serialized by the registry in the order they were applied.
type Persister interface {
	SaveScan(scan *models.Scan) error
	UpdateScan(scan *models.Scan) error
	SaveFinding(finding *models.Finding) error
	UpdateFinding(finding *models.Finding) error
}

// ScanUpdate is the terminal state written by the completion path.
type ScanUpdate struct {
	Status     models.ScanStatus
	Issues     int
	Critical   int
	RiskScore  int
	Summary    string
	AISummary  string
	FinishedAt time.Time
}

type entry struct {
	mu       sync.Mutex
	scan     atomic.Pointer[models.Scan]
	findings atomic.Pointer[[]*models.Finding]

	// cancellation flag; only meaningful while active
	active          atomic.Bool
	cancelRequested atomic.Bool
}

type Registry struct {
	scans     sync.Map // scan id -> *entry
	findings  sync.Map // finding id -> scan id
	persister Persister
	logger    *logger.Logger
}

type Option func(*Registry)

func WithPersister(p Persister) Option {
	return func(r *Registry) {
		r.persister = p
	}
}

func New(log *logger.Logger, opts ...Option) *Registry {
	r := &Registry{logger: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) load(id string) (*entry, error) {
	value, ok := r.scans.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", scanerrors.ErrUnknownScanID, id)
	}
	return value.(*entry), nil
}

// Create inserts a new In Progress scan and opens its cancellation flag.
func (r *Registry) Create(scan *models.Scan) error {
	if scan == nil || scan.ID == "" {
		return fmt.Errorf("%w: scan id is required", scanerrors.ErrInvalidRequest)
	}
	if scan.Status != models.ScanStatusInProgress {
		return fmt.Errorf("%w: new scans must be %q, got %q", scanerrors.ErrInvalidTransition, models.ScanStatusInProgress, scan.Status)
	}

	e := &entry{}
	snapshot := scan.Clone()
	e.scan.Store(snapshot)
	e.findings.Store(&[]*models.Finding{})
	e.active.Store(true)

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, loaded := r.scans.LoadOrStore(scan.ID, e); loaded {
		return fmt.Errorf("%w: scan %s already exists", scanerrors.ErrInvalidRequest, scan.ID)
	}

	if r.persister != nil {
		if err := r.persister.SaveScan(snapshot.Clone()); err != nil {
			r.logger.WithFields(logger.Fields{"scan_id": scan.ID, "error": err}).Error("Failed to persist new scan")
		}
	}
	return nil
}

func (r *Registry) Get(id string) (*models.Scan, error) {
	e, err := r.load(id)
	if err != nil {
		return nil, err
	}
	return e.scan.Load().Clone(), nil
}

// List returns every scan, newest first.
func (r *Registry) List() []*models.Scan {
	scans := make([]*models.Scan, 0)
	r.scans.Range(func(_, value any) bool {
		scans = append(scans, value.(*entry).scan.Load().Clone())
		return true
	})
	sort.Slice(scans, func(i, j int) bool {
		if scans[i].StartedAt.Equal(scans[j].StartedAt) {
			return scans[i].ID < scans[j].ID
		}
		return scans[i].StartedAt.After(scans[j].StartedAt)
	})
	return scans
}

// UpdateStatus moves an In Progress scan to a terminal status as one atomic
// replace of the record. Terminal records reject every further update.
func (r *Registry) UpdateStatus(id string, update ScanUpdate) (*models.Scan, error) {
	e, err := r.load(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.scan.Load()
	if err := validateTransition(current, update); err != nil {
		return nil, err
	}

	next := current.Clone()
	next.Status = update.Status
	next.Issues = update.Issues
	next.Critical = update.Critical
	next.RiskScore = update.RiskScore
	next.Summary = update.Summary
	next.AISummary = update.AISummary
	finishedAt := update.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now()
	}
	next.Finish(finishedAt)

	e.scan.Store(next)
	e.active.Store(false)
	e.cancelRequested.Store(false)

	if r.persister != nil {
		if err := r.persister.UpdateScan(next.Clone()); err != nil {
			r.logger.WithFields(logger.Fields{"scan_id": id, "status": next.Status, "error": err}).Error("Failed to persist scan status")
		}
	}
	return next.Clone(), nil
}

func validateTransition(current *models.Scan, update ScanUpdate) error {
	if current.Status.Terminal() {
		return fmt.Errorf("%w: scan %s is already %s", scanerrors.ErrInvalidTransition, current.ID, current.Status)
	}
	if !update.Status.Terminal() {
		return fmt.Errorf("%w: %s -> %q", scanerrors.ErrInvalidTransition, current.Status, update.Status)
	}
	if update.Issues < 0 || update.Critical < 0 || update.Critical > update.Issues {
		return fmt.Errorf("%w: inconsistent counts issues=%d critical=%d", scanerrors.ErrInvalidTransition, update.Issues, update.Critical)
	}
	if update.RiskScore < 0 || update.RiskScore > 100 {
		return fmt.Errorf("%w: risk score %d outside [0,100]", scanerrors.ErrInvalidTransition, update.RiskScore)
	}

	switch update.Status {
	case models.ScanStatusCompleted:
		if update.Issues == 0 {
			return fmt.Errorf("%w: %s requires issues > 0", scanerrors.ErrInvalidTransition, update.Status)
		}
	case models.ScanStatusClean:
		if update.Issues != 0 {
			return fmt.Errorf("%w: %s requires zero issues", scanerrors.ErrInvalidTransition, update.Status)
		}
	}
	return nil
}

// AppendFinding attaches a finding to its scan. The finding must carry an id.
func (r *Registry) AppendFinding(finding *models.Finding) error {
	if finding == nil || finding.ID == "" {
		return fmt.Errorf("%w: finding id is required", scanerrors.ErrInvalidRequest)
	}
	e, err := r.load(finding.ScanID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, loaded := r.findings.LoadOrStore(finding.ID, finding.ScanID); loaded {
		return fmt.Errorf("%w: finding %s already exists", scanerrors.ErrInvalidRequest, finding.ID)
	}

	stored := finding.Clone()
	current := *e.findings.Load()
	next := make([]*models.Finding, len(current), len(current)+1)
	copy(next, current)
	next = append(next, stored)
	e.findings.Store(&next)

	if r.persister != nil {
		if err := r.persister.SaveFinding(stored.Clone()); err != nil {
			r.logger.WithFields(logger.Fields{"scan_id": finding.ScanID, "finding_id": finding.ID, "error": err}).Error("Failed to persist finding")
		}
	}
	return nil
}

// ListFindings returns the findings of one scan, or of every scan (newest
// scan first) when scanID is empty.
func (r *Registry) ListFindings(scanID string) ([]*models.Finding, error) {
	if scanID != "" {
		e, err := r.load(scanID)
		if err != nil {
			return nil, err
		}
		return cloneFindings(*e.findings.Load()), nil
	}

	result := make([]*models.Finding, 0)
	for _, scan := range r.List() {
		if value, ok := r.scans.Load(scan.ID); ok {
			result = append(result, cloneFindings(*value.(*entry).findings.Load())...)
		}
	}
	return result, nil
}

func cloneFindings(findings []*models.Finding) []*models.Finding {
	out := make([]*models.Finding, len(findings))
	for i, f := range findings {
		out[i] = f.Clone()
	}
	return out
}

func (r *Registry) UpdateFindingStatus(findingID string, status models.FindingStatus) (*models.Finding, error) {
	value, ok := r.findings.Load(findingID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", scanerrors.ErrUnknownFinding, findingID)
	}
	e, err := r.load(value.(string))
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	current := *e.findings.Load()
	next := make([]*models.Finding, len(current))
	copy(next, current)

	var updated *models.Finding
	for i, f := range next {
		if f.ID == findingID {
			updated = f.Clone()
			updated.Status = status
			next[i] = updated
			break
		}
	}
	if updated == nil {
		return nil, fmt.Errorf("%w: %s", scanerrors.ErrUnknownFinding, findingID)
	}
	e.findings.Store(&next)

	if r.persister != nil {
		if err := r.persister.UpdateFinding(updated.Clone()); err != nil {
			r.logger.WithFields(logger.Fields{"finding_id": findingID, "error": err}).Error("Failed to persist finding status")
		}
	}
	return updated.Clone(), nil
}

// SetCancellationRequested raises the scan's cancellation flag. It reports
// false, without error, when the scan already reached a terminal status.
// The registry never transitions the record itself; the executor observes
// the flag and reports the outcome.
func (r *Registry) SetCancellationRequested(id string) (bool, error) {
	e, err := r.load(id)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active.Load() || e.scan.Load().Status.Terminal() {
		return false, nil
	}
	e.cancelRequested.Store(true)
	return true, nil
}

// IsCancellationRequested is lock free; unknown ids are never cancelled.
func (r *Registry) IsCancellationRequested(id string) bool {
	value, ok := r.scans.Load(id)
	if !ok {
		return false
	}
	e := value.(*entry)
	return e.active.Load() && e.cancelRequested.Load()
}

// Restore loads previously persisted records without writing them back.
func (r *Registry) Restore(scans []models.Scan, findings []models.Finding) {
	byScan := make(map[string][]*models.Finding)
	for i := range findings {
		f := findings[i].Clone()
		byScan[f.ScanID] = append(byScan[f.ScanID], f)
	}

	for i := range scans {
		scan := scans[i].Clone()
		e := &entry{}
		e.scan.Store(scan)
		list := byScan[scan.ID]
		if list == nil {
			list = []*models.Finding{}
		}
		e.findings.Store(&list)
		e.active.Store(!scan.Status.Terminal())

		if _, loaded := r.scans.LoadOrStore(scan.ID, e); loaded {
			continue
		}
		for _, f := range list {
			r.findings.Store(f.ID, scan.ID)
		}
	}

	r.logger.WithFields(logger.Fields{"scans": len(scans), "findings": len(findings)}).Info("Registry restored from store")
}
