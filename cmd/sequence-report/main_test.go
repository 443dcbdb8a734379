package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/sequence.report/internal/vision/history"
	"github.com/banshee-data/sequence.report/internal/vision/pipeline"
	"github.com/banshee-data/sequence.report/internal/vision/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const recording = `{"classes":["cap","bottle"]}
{"frame":1,"boxes":[[0,10,40,50]],"scores":[0.9],"classes":[0]}
{"frame":2,"boxes":[[2,10,42,50]],"scores":[0.9],"classes":[0]}
{"frame":3,"boxes":[[4,10,44,50],[300,10,340,50]],"scores":[0.9,0.9],"classes":[0,1]}
{"frame":4,"boxes":[[6,10,46,50],[302,10,342,50]],"scores":[0.9,0.9],"classes":[0,1]}
`

const tuning = `hit_counter_max: 4
initialization_delay: 1
tolerance_limit: 0
`

func writeFixtures(t *testing.T) (dir, input, cfg string) {
	t.Helper()
	dir = t.TempDir()
	input = filepath.Join(dir, "detections.jsonl")
	cfg = filepath.Join(dir, "tuning.yaml")
	require.NoError(t, os.WriteFile(input, []byte(recording), 0644))
	require.NoError(t, os.WriteFile(cfg, []byte(tuning), 0644))
	return dir, input, cfg
}

func decodeSummary(t *testing.T, out []byte) pipeline.Summary {
	t.Helper()
	var s pipeline.Summary
	require.NoError(t, json.Unmarshal(out, &s), "stdout: %s", out)
	return s
}

func TestParseFlagsDefaults(t *testing.T) {
	o, err := parseFlags([]string{"-input", "x.jsonl"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "euclidean", o.distance)
	assert.Equal(t, -1, o.tolerance)
	assert.Equal(t, "info", o.logLevel)
	assert.Equal(t, 30.0, o.fps)
	assert.Empty(t, o.listen)
	assert.False(t, o.showVersion)
}

func TestParseFlagsErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing input", nil, "-input is required"},
		{"unknown distance", []string{"-input", "x", "-distance", "manhattan"}, "unknown -distance"},
		{"unknown flag", []string{"-bogus"}, "flag provided but not defined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args, &bytes.Buffer{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestHelpFlag(t *testing.T) {
	var stderr bytes.Buffer
	_, err := parseFlags([]string{"-h"}, &stderr)
	assert.ErrorIs(t, err, flag.ErrHelp)
	assert.Contains(t, stderr.String(), "-expected")
}

func TestVersionFlag(t *testing.T) {
	var stdout bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-version"}, nil, &stdout, &bytes.Buffer{}))
	assert.NotEmpty(t, strings.TrimSpace(stdout.String()))
}

func TestLoadTuningOverrides(t *testing.T) {
	_, _, cfg := writeFixtures(t)
	o := options{configPath: cfg, expected: "bottle, cap", tolerance: 2, assignment: "hungarian"}
	tc, err := loadTuning(o)
	require.NoError(t, err)
	assert.Equal(t, []string{"bottle", "cap"}, tc.GetExpectedOrder())
	assert.Equal(t, 2, tc.GetToleranceLimit())
	assert.Equal(t, "hungarian", tc.GetAssignment())
	assert.Equal(t, 4, tc.GetHitCounterMax())
}

func TestLoadTuningRejectsInvalidOverride(t *testing.T) {
	_, _, cfg := writeFixtures(t)
	_, err := loadTuning(options{configPath: cfg, tolerance: -1, assignment: "auction"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assignment")
}

func TestRunInOrder(t *testing.T) {
	dir, input, cfg := writeFixtures(t)
	csvPath := filepath.Join(dir, "history.csv")
	plotDir := filepath.Join(dir, "plots")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{
		"-config", cfg, "-input", input, "-expected", "cap,bottle",
		"-csv", csvPath, "-plots", plotDir, "-fps", "10",
	}, nil, &stdout, &stderr)
	require.NoError(t, err, "stderr: %s", stderr.String())

	s := decodeSummary(t, stdout.Bytes())
	assert.Equal(t, 4, s.Frames)
	assert.False(t, s.OrderBroken)
	assert.Equal(t, []string{"cap", "bottle"}, s.AppearanceOrder)

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	recs, err := history.ReadCSV(f)
	require.NoError(t, err)
	assert.Len(t, recs, s.Records)

	for _, name := range []string{"track_001.png", "track_002.png"} {
		_, err := os.Stat(filepath.Join(plotDir, name))
		assert.NoError(t, err, name)
	}
}

func TestRunBrokenOrderFromStdin(t *testing.T) {
	_, _, cfg := writeFixtures(t)
	var stdout bytes.Buffer
	err := run(context.Background(), []string{
		"-config", cfg, "-input", "-", "-expected", "bottle,cap",
	}, strings.NewReader(recording), &stdout, &bytes.Buffer{})
	require.NoError(t, err)

	s := decodeSummary(t, stdout.Bytes())
	assert.True(t, s.OrderBroken)
	assert.False(t, s.Correctness[1])
}

func TestRunRecordsSession(t *testing.T) {
	dir, input, cfg := writeFixtures(t)
	dbPath := filepath.Join(dir, "sessions.db")

	var stdout bytes.Buffer
	require.NoError(t, run(context.Background(), []string{
		"-config", cfg, "-input", input, "-expected", "cap,bottle", "-db", dbPath,
	}, nil, &stdout, &bytes.Buffer{}))

	store, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer store.Close()

	sessions, err := store.ListSessions(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, 4, sessions[0].Frames)
	assert.NotNil(t, sessions[0].FinishedAt)
	assert.Equal(t, []string{"cap", "bottle"}, sessions[0].ExpectedOrder)

	obs, err := store.GetObservations(context.Background(), sessions[0].ID)
	require.NoError(t, err)
	assert.Len(t, obs, decodeSummary(t, stdout.Bytes()).Records)
}

func TestRunCancelledStillReports(t *testing.T) {
	_, input, cfg := writeFixtures(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout bytes.Buffer
	err := run(ctx, []string{"-config", cfg, "-input", input, "-expected", "cap"}, nil, &stdout, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 0, decodeSummary(t, stdout.Bytes()).Frames)
}

func TestRunErrors(t *testing.T) {
	dir, input, cfg := writeFixtures(t)
	malformed := filepath.Join(dir, "bad.jsonl")
	require.NoError(t, os.WriteFile(malformed, []byte(`{"frame":1,"boxes":"nope"}`+"\n"), 0644))

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing file", []string{"-config", cfg, "-input", filepath.Join(dir, "none.jsonl"), "-expected", "cap"}, "open input"},
		{"no expected order", []string{"-config", cfg, "-input", input}, "expected order is empty"},
		{"bad log level", []string{"-input", input, "-log-level", "loud"}, "invalid -log-level"},
		{"iou with pixel threshold", []string{"-config", cfg, "-input", input, "-expected", "cap", "-distance", "iou"}, "distance_threshold"},
		{"malformed recording", []string{"-config", cfg, "-input", malformed, "-expected", "cap"}, "malformed recording"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(context.Background(), tt.args, nil, &bytes.Buffer{}, &bytes.Buffer{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLogFileRotation(t *testing.T) {
	dir, input, cfg := writeFixtures(t)
	logPath := filepath.Join(dir, "sequence.log")
	require.NoError(t, run(context.Background(), []string{
		"-config", cfg, "-input", input, "-expected", "cap,bottle", "-log-file", logPath,
	}, nil, &bytes.Buffer{}, &bytes.Buffer{}))

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "session complete")
}
