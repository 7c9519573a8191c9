package templates

import (
	"strings"

	"scanpilot/internal/models"
)

const (
	dashboardLimit = 20
	timeLayout     = "2006-01-02 15:04"
)

func recentScans(scans []*models.Scan) []*models.Scan {
	if len(scans) > dashboardLimit {
		return scans[:dashboardLimit]
	}
	return scans
}

// statusClass turns "In Progress" into a usable CSS class name.
func statusClass(status models.ScanStatus) string {
	return strings.ReplaceAll(string(status), " ", "")
}
