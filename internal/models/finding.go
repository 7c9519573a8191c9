package models

import (
	"strings"
	"time"
)

type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
	SeverityInfo     Severity = "Info"
)

var severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// ParseSeverity accepts any casing of the five levels.
func ParseSeverity(value string) (Severity, bool) {
	for _, s := range severities {
		if strings.EqualFold(strings.TrimSpace(value), string(s)) {
			return s, true
		}
	}
	return "", false
}

type FindingStatus string

const (
	FindingStatusOpen       FindingStatus = "Open"
	FindingStatusInProgress FindingStatus = "In Progress"
	FindingStatusResolved   FindingStatus = "Resolved"
)

func ParseFindingStatus(value string) (FindingStatus, bool) {
	for _, s := range []FindingStatus{FindingStatusOpen, FindingStatusInProgress, FindingStatusResolved} {
		if strings.EqualFold(strings.TrimSpace(value), string(s)) {
			return s, true
		}
	}
	return "", false
}

type Finding struct {
	ID             string        `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ScanID         string        `gorm:"type:varchar(36);index" json:"scanId"`
	Host           string        `json:"host"`
	Port           *int          `json:"port,omitempty"`
	Service        *string       `json:"service,omitempty"`
	Severity       Severity      `gorm:"type:varchar(16)" json:"severity"`
	Tool           string        `json:"tool"`
	Status         FindingStatus `gorm:"type:varchar(16)" json:"status"`
	Title          string        `json:"title"`
	Description    string        `gorm:"type:text" json:"description"`
	Recommendation string        `gorm:"type:text" json:"recommendation"`
	CreatedAt      time.Time     `json:"-"`
}

func (f *Finding) Clone() *Finding {
	if f == nil {
		return nil
	}
	c := *f
	if f.Port != nil {
		p := *f.Port
		c.Port = &p
	}
	if f.Service != nil {
		s := *f.Service
		c.Service = &s
	}
	return &c
}
