package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/legis-cli/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	done := now.Add(2 * time.Minute)
	runs := []model.Run{
		{
			ID:          "abc12345-6789-0000-0000-000000000000",
			Status:      model.RunStatusComplete,
			StartedAt:   now,
			CompletedAt: &done,
			Summary:     &model.RunSummary{Processed: 120, Persisted: 118, Skipped: 3},
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Status:    model.RunStatusRunning,
			StartedAt: now.Add(-1 * time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "running")
	assert.Contains(t, output, "2025-06-15 10:30:00")
	assert.Contains(t, output, "2m0s")
	assert.Contains(t, output, "118")
}

func TestFormatRunsList_FailedRun(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{{
		ID:        "abc12345",
		Status:    model.RunStatusFailed,
		StartedAt: now,
		Error:     strings.Repeat("store unavailable ", 5),
	}}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "failed")
	assert.Contains(t, output, "store unavailable")
	assert.Contains(t, output, "…")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "iniciativa", truncate("iniciativa", 10))
	assert.Equal(t, "inic…", truncate("iniciativa", 5))
	assert.Equal(t, "ñañ…", truncate("ñañaña", 4))
}

func TestComputeRunStats(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	a := now.Add(2 * time.Minute)
	b := now.Add(4 * time.Minute)
	runs := []model.Run{
		{Status: model.RunStatusComplete, StartedAt: now, CompletedAt: &a, Summary: &model.RunSummary{Processed: 10, Persisted: 9, PersistFailures: 1}},
		{Status: model.RunStatusFailed, StartedAt: now, CompletedAt: &b, Summary: &model.RunSummary{Processed: 5, Persisted: 0, PersistFailures: 5}},
		{Status: model.RunStatusRunning, StartedAt: now},
	}

	s := computeRunStats(runs)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Complete)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Running)
	assert.Equal(t, 15, s.Processed)
	assert.Equal(t, 9, s.Persisted)
	assert.Equal(t, 6, s.Failures)
	assert.Equal(t, 3*time.Minute, s.AvgDuration)
}

func TestComputeRunStats_Empty(t *testing.T) {
	s := computeRunStats(nil)
	assert.Zero(t, s.Total)
	assert.Zero(t, s.AvgDuration)

	var buf bytes.Buffer
	formatRunStats(&buf, s)
	assert.Contains(t, buf.String(), "Runs")
	assert.Contains(t, buf.String(), "0s")
}
