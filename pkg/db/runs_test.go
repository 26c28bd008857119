package db

import (
	"errors"
	"testing"
	"time"

	"github.com/dtnitsch/site-harvest/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// Use in-memory database for tests; one connection so every query sees the same database
	database := &DB{path: ":memory:"}
	var err error
	database.DB, err = openDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	database.SetMaxOpenConns(1)

	if err := database.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	return database
}

func TestCreateAndFinishRun(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	started := time.Date(2025, 6, 12, 10, 0, 0, 0, time.UTC)
	if err := db.CreateRun("run-1", "harvest", "example.org", "20250612", "/tmp/mirror", started); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	run, err := db.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != StatusRunning {
		t.Errorf("run.Status = %q, want %q", run.Status, StatusRunning)
	}
	if !run.FinishedAt.IsZero() {
		t.Errorf("run.FinishedAt = %v, want zero", run.FinishedAt)
	}
	if !run.StartedAt.Equal(started) {
		t.Errorf("run.StartedAt = %v, want %v", run.StartedAt, started)
	}

	finished := started.Add(5 * time.Minute)
	if err := db.FinishRun("run-1", StatusPartialFailure, 12, 2, 4096, finished); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}

	run, err = db.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != StatusPartialFailure || run.FileCount != 12 || run.FailedCount != 2 || run.TotalBytes != 4096 {
		t.Errorf("finished run = %+v", run)
	}
	if !run.FinishedAt.Equal(finished) {
		t.Errorf("run.FinishedAt = %v, want %v", run.FinishedAt, finished)
	}
}

func TestFinishRun_Unknown(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	err := db.FinishRun("nope", StatusSuccess, 0, 0, 0, time.Now())
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("FinishRun() error = %v, want ErrRunNotFound", err)
	}
}

func TestListRuns(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	base := time.Date(2025, 6, 12, 10, 0, 0, 0, time.UTC)
	runs := []struct {
		id     string
		domain string
		offset time.Duration
	}{
		{"run-a", "example.org", 0},
		{"run-b", "other.net", time.Hour},
		{"run-c", "example.org", 2 * time.Hour},
	}
	for _, r := range runs {
		if err := db.CreateRun(r.id, "harvest", r.domain, "2025", "out", base.Add(r.offset)); err != nil {
			t.Fatalf("CreateRun(%s) error = %v", r.id, err)
		}
	}

	tests := []struct {
		name   string
		domain string
		limit  int
		want   []string
	}{
		{"all newest first", "", 0, []string{"run-c", "run-b", "run-a"}},
		{"limited", "", 2, []string{"run-c", "run-b"}},
		{"by domain", "example.org", 0, []string{"run-c", "run-a"}},
		{"unknown domain", "nowhere.test", 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.ListRuns(tt.domain, tt.limit)
			if err != nil {
				t.Fatalf("ListRuns() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ListRuns() returned %d runs, want %d", len(got), len(tt.want))
			}
			for i, r := range got {
				if r.RunID != tt.want[i] {
					t.Errorf("ListRuns()[%d] = %s, want %s", i, r.RunID, tt.want[i])
				}
			}
		})
	}

	latest, err := db.LatestRun()
	if err != nil {
		t.Fatalf("LatestRun() error = %v", err)
	}
	if latest.RunID != "run-c" {
		t.Errorf("LatestRun() = %s, want run-c", latest.RunID)
	}
}

func TestGetRun_Prefix(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	now := time.Now()
	for _, id := range []string{"3f2a9c10-aaaa", "3f2b0000-bbbb"} {
		if err := db.CreateRun(id, "harvest", "example.org", "2025", "out", now); err != nil {
			t.Fatalf("CreateRun() error = %v", err)
		}
	}

	tests := []struct {
		name    string
		prefix  string
		want    string
		wantErr bool
	}{
		{"unique prefix", "3f2a", "3f2a9c10-aaaa", false},
		{"full id", "3f2b0000-bbbb", "3f2b0000-bbbb", false},
		{"ambiguous", "3f2", "", true},
		{"unknown", "ffff", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run, err := db.GetRun(tt.prefix)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetRun(%q) error = %v, wantErr %v", tt.prefix, err, tt.wantErr)
			}
			if !tt.wantErr && run.RunID != tt.want {
				t.Errorf("GetRun(%q) = %s, want %s", tt.prefix, run.RunID, tt.want)
			}
		})
	}
}

func TestLatestRun_Empty(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if _, err := db.LatestRun(); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("LatestRun() error = %v, want ErrRunNotFound", err)
	}
}

func TestAssignmentsAndFailures(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if err := db.CreateRun("run-1", "harvest", "example.org", "2025", "out", time.Now()); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	assignments := []Assignment{
		{Identity: "http://example.org/about", Path: "about/index.html"},
		{Identity: "http://example.org/", Path: "index.html"},
	}
	if err := db.InsertAssignments("run-1", assignments); err != nil {
		t.Fatalf("InsertAssignments() error = %v", err)
	}

	got, err := db.GetRunAssignments("run-1")
	if err != nil {
		t.Fatalf("GetRunAssignments() error = %v", err)
	}
	if len(got) != 2 || got[0].Identity != "http://example.org/" || got[0].Path != "index.html" {
		t.Errorf("GetRunAssignments() = %+v", got)
	}

	failures := []models.Failure{
		{URL: "http://example.org/b", Phase: models.PhaseCDXDownload, Error: "404"},
		{URL: "http://example.org/a", Phase: "asset_round_1", Error: "timeout"},
	}
	if err := db.InsertFailures("run-1", failures); err != nil {
		t.Fatalf("InsertFailures() error = %v", err)
	}

	all, err := db.GetRunFailures("run-1", "")
	if err != nil {
		t.Fatalf("GetRunFailures() error = %v", err)
	}
	if len(all) != 2 || all[0] != failures[0] || all[1] != failures[1] {
		t.Errorf("GetRunFailures() = %+v, want %+v", all, failures)
	}

	byPhase, err := db.GetRunFailures("run-1", "asset_round_1")
	if err != nil {
		t.Fatalf("GetRunFailures() error = %v", err)
	}
	if len(byPhase) != 1 || byPhase[0].URL != "http://example.org/a" {
		t.Errorf("GetRunFailures(asset_round_1) = %+v", byPhase)
	}
}

func TestInsertAssignments_UnknownRun(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	err := db.InsertAssignments("missing", []Assignment{{Identity: "http://example.org/", Path: "index.html"}})
	if err == nil {
		t.Fatal("InsertAssignments() for unknown run succeeded, want foreign key error")
	}

	got, err := db.GetRunAssignments("missing")
	if err != nil {
		t.Fatalf("GetRunAssignments() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("failed transaction left %d assignments", len(got))
	}
}
