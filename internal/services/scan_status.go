package services

import (
	"fmt"
	"time"

	"scanpilot/internal/analyzer"
	"scanpilot/internal/models"
	"scanpilot/internal/registry"
	"scanpilot/pkg/engine"
	"scanpilot/pkg/logger"

	"github.com/google/uuid"
)

// ScanStatusManager writes the terminal record for a scan. It is the only
// place that moves a scan out of In Progress.
type ScanStatusManager struct {
	registry *registry.Registry
	logger   *logger.Logger
	now      func() time.Time
}

func newScanStatusManager(reg *registry.Registry, log *logger.Logger) *ScanStatusManager {
	return &ScanStatusManager{
		registry: reg,
		logger:   log,
		now:      time.Now,
	}
}

// MarkCompleted stores an accepted analyzer summary. Findings are attached
// before the status flips so a terminal scan is never seen without them.
func (m *ScanStatusManager) MarkCompleted(scanID string, summary *analyzer.Summary) (*models.Scan, error) {
	for i := range summary.Findings {
		finding := summary.Findings[i]
		finding.ID = uuid.New().String()
		finding.ScanID = scanID
		if err := m.registry.AppendFinding(&finding); err != nil {
			return nil, fmt.Errorf("append finding: %w", err)
		}
	}

	status := models.ScanStatusCompleted
	if summary.IssueCount == 0 {
		status = models.ScanStatusClean
	}

	scan, err := m.registry.UpdateStatus(scanID, registry.ScanUpdate{
		Status:     status,
		Issues:     summary.IssueCount,
		Critical:   summary.CriticalCount,
		RiskScore:  summary.RiskScore,
		Summary:    summary.ShortSummary,
		AISummary:  summary.LongSummary,
		FinishedAt: m.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("persist scan completion: %w", err)
	}

	m.logger.WithFields(logger.Fields{
		"scan_id":  scanID,
		"status":   scan.Status,
		"issues":   scan.Issues,
		"critical": scan.Critical,
		"risk":     scan.RiskScore,
	}).Info("Scan completed")
	return scan, nil
}

// MarkCancelled records a cancelled scan as Failed. Counts stay at zero and
// the partial merge of completed tools is kept in the detail.
func (m *ScanStatusManager) MarkCancelled(scanID string, outcome engine.Outcome) *models.Scan {
	detail := fmt.Sprintf("%s before all tools ran; %d tool(s) had started.", engine.CancelledReason, len(outcome.ToolResults))
	if outcome.Partial != "" {
		detail += "\n\nPartial output:\n" + outcome.Partial
	}
	return m.markFailed(scanID, outcome.Reason, detail)
}

func (m *ScanStatusManager) MarkFailedWithReason(scanID string, reason string) *models.Scan {
	return m.markFailed(scanID, reason, reason)
}

func (m *ScanStatusManager) markFailed(scanID, summary, detail string) *models.Scan {
	scan, err := m.registry.UpdateStatus(scanID, registry.ScanUpdate{
		Status:     models.ScanStatusFailed,
		Summary:    summary,
		AISummary:  detail,
		FinishedAt: m.now(),
	})
	if err != nil {
		m.logger.WithFields(logger.Fields{"error": err, "scan_id": scanID}).Error("Failed to persist failed scan status")
		return nil
	}

	m.logger.WithFields(logger.Fields{
		"scan_id": scanID,
		"reason":  summary,
	}).Warn("Scan marked as failed")
	return scan
}
