package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanFinish(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		elapsed time.Duration
		seconds int64
		minutes int
	}{
		{name: "sub-minute rounds up", elapsed: 12 * time.Second, seconds: 12, minutes: 1},
		{name: "exact minutes", elapsed: 3 * time.Minute, seconds: 180, minutes: 3},
		{name: "partial minute", elapsed: 3*time.Minute + time.Second, seconds: 181, minutes: 4},
		{name: "clock skew clamps", elapsed: -time.Second, seconds: 0, minutes: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scan := &Scan{StartedAt: start}
			scan.Finish(start.Add(tt.elapsed))

			require.NotNil(t, scan.DurationSeconds)
			require.NotNil(t, scan.DurationMinutes)
			assert.Equal(t, tt.seconds, *scan.DurationSeconds)
			assert.Equal(t, tt.minutes, *scan.DurationMinutes)
		})
	}
}

func TestScanCloneIsDeep(t *testing.T) {
	scan := &Scan{ID: "a", Tools: []string{"Nmap"}}
	scan.Finish(time.Now())

	clone := scan.Clone()
	clone.Tools[0] = "Nikto"
	*clone.DurationMinutes = 99

	assert.Equal(t, "Nmap", scan.Tools[0])
	assert.NotEqual(t, 99, *scan.DurationMinutes)
}

func TestParseEnums(t *testing.T) {
	sev, ok := ParseSeverity("critical")
	assert.True(t, ok)
	assert.Equal(t, SeverityCritical, sev)

	_, ok = ParseSeverity("severe")
	assert.False(t, ok)

	status, ok := ParseFindingStatus("in progress")
	assert.True(t, ok)
	assert.Equal(t, FindingStatusInProgress, status)

	assert.True(t, ScanStatusClean.Terminal())
	assert.False(t, ScanStatusInProgress.Terminal())
	assert.False(t, ScanStatus("Queued").Valid())
}
