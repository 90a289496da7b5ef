//go:build !integration

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/secfin/internal/runlog"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	done := now.Add(2 * time.Minute)
	runs := []runlog.Entry{
		{
			ID:          "abc12345-6789-0000-0000-000000000000",
			Partition:   "2024Q1",
			Mode:        "json",
			Status:      runlog.StatusComplete,
			StartedAt:   now,
			CompletedAt: &done,
			Counts:      runlog.Counts{Emitted: 6120, Skipped: 3},
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Partition: "2024Q2",
			Mode:      "parquet",
			Status:    runlog.StatusRunning,
			StartedAt: now.Add(-1 * time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "PARTITION")
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "2024Q1")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "6120")
	assert.Contains(t, output, "2m0s")
	assert.Contains(t, output, "running")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "abc12345")
}

func TestFormatRunsList_FailedRun(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	done := now.Add(30 * time.Second)
	runs := []runlog.Entry{
		{
			ID:          "abc12345-6789-0000-0000-000000000000",
			Partition:   "2019Q3",
			Mode:        "json",
			Status:      runlog.StatusFailed,
			StartedAt:   now,
			CompletedAt: &done,
			Error:       "fsds: archive not found: raw/2019q3.zip and a lot more text after it",
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "failed (fsds: archive not found")
	assert.Contains(t, output, "...")
	assert.NotContains(t, output, "a lot more text")
}

func TestRunsStats(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	d1 := now.Add(60 * time.Second)
	d2 := now.Add(120 * time.Second)

	runs := []runlog.Entry{
		{ID: "1", Status: runlog.StatusComplete, StartedAt: now, CompletedAt: &d1, Counts: runlog.Counts{Emitted: 10, FactsDropped: 2}},
		{ID: "2", Status: runlog.StatusComplete, StartedAt: now, CompletedAt: &d2, Counts: runlog.Counts{Emitted: 5, Skipped: 1}},
		{ID: "3", Status: runlog.StatusFailed, StartedAt: now, CompletedAt: &d1},
		{ID: "4", Status: runlog.StatusRunning, StartedAt: now},
	}

	s := computeRunStats(runs)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Complete)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Running)
	assert.Equal(t, int64(15), s.Emitted)
	assert.Equal(t, int64(1), s.Skipped)
	assert.Equal(t, int64(2), s.FactsDropped)
	assert.InDelta(t, 90.0, s.AvgDurSecs, 0.01)
}

func TestRunsStats_Empty(t *testing.T) {
	s := computeRunStats(nil)
	assert.Equal(t, 0, s.Total)
	assert.Zero(t, s.AvgDurSecs)
}

func TestFormatRunStats(t *testing.T) {
	var buf bytes.Buffer
	formatRunStats(&buf, runStats{Total: 3, Complete: 2, Failed: 1, Emitted: 40, AvgDurSecs: 12.5})

	output := buf.String()
	assert.Contains(t, output, "Total runs:")
	assert.Contains(t, output, "Documents emitted:")
	assert.Contains(t, output, "40")
	assert.Contains(t, output, "12.5s")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}
