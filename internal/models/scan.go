package models

import "time"

type ScanStatus string

const (
	ScanStatusInProgress ScanStatus = "In Progress"
	ScanStatusCompleted  ScanStatus = "Completed"
	ScanStatusClean      ScanStatus = "Clean"
	ScanStatusFailed     ScanStatus = "Failed"
)

func (s ScanStatus) Terminal() bool {
	return s == ScanStatusCompleted || s == ScanStatusClean || s == ScanStatusFailed
}

func (s ScanStatus) Valid() bool {
	return s == ScanStatusInProgress || s.Terminal()
}

const DefaultOwner = "system"

// Scan is one request to assess a target with an ordered set of tools.
// Issues, Critical and RiskScore are placeholders until the status is
// Completed or Clean; the duration fields stay nil until terminal.
type Scan struct {
	ID              string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Target          string     `gorm:"index" json:"target"`
	Tools           []string   `gorm:"serializer:json" json:"tools"`
	StartedAt       time.Time  `gorm:"index" json:"startedAt"`
	Status          ScanStatus `gorm:"type:varchar(32);index" json:"status"`
	Issues          int        `json:"issues"`
	Critical        int        `json:"critical"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty"`
	DurationSeconds *int64     `json:"durationSeconds"`
	DurationMinutes *int       `json:"durationMinutes"`
	Owner           string     `json:"owner"`
	RiskScore       int        `json:"riskScore"`
	Summary         string     `json:"summary"`
	AISummary       string     `gorm:"type:text" json:"aiSummary"`
}

// Clone returns a deep copy so callers can never alias registry state.
func (s *Scan) Clone() *Scan {
	if s == nil {
		return nil
	}
	c := *s
	c.Tools = append([]string(nil), s.Tools...)
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		c.FinishedAt = &t
	}
	if s.DurationSeconds != nil {
		d := *s.DurationSeconds
		c.DurationSeconds = &d
	}
	if s.DurationMinutes != nil {
		d := *s.DurationMinutes
		c.DurationMinutes = &d
	}
	return &c
}

// Finish stamps the terminal timestamps. Minutes round up so any finished
// scan reports at least one minute in the dashboard.
func (s *Scan) Finish(at time.Time) {
	finished := at
	s.FinishedAt = &finished

	elapsed := at.Sub(s.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	seconds := int64(elapsed.Round(time.Second) / time.Second)
	minutes := int((elapsed + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	s.DurationSeconds = &seconds
	s.DurationMinutes = &minutes
}
