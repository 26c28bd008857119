package db

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/site-harvest/models"
	dbpkg "github.com/dtnitsch/site-harvest/pkg/db"
)

func seedLedger(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	database, err := dbpkg.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer database.Close()

	start := time.Date(2025, 6, 12, 10, 0, 0, 0, time.UTC)
	runs := []struct {
		id       string
		domain   string
		failures []models.Failure
	}{
		{"aaaaaaaa-1111", "example.org", nil},
		{"bbbbbbbb-2222", "example.org", []models.Failure{
			{URL: "http://example.org/gone", Phase: models.PhaseCDXDownload, Error: "404 Not Found"},
			{URL: "http://example.org/img/x.png", Phase: "asset_round_1", Error: "404 Not Found"},
			{URL: "http://example.org/img/y.png", Phase: "asset_round_1"},
		}},
	}
	for i, r := range runs {
		started := start.Add(time.Duration(i) * time.Hour)
		if err := database.CreateRun(r.id, "harvest", r.domain, "20250612", "/tmp/mirror", started); err != nil {
			t.Fatalf("create run: %v", err)
		}
		if err := database.InsertFailures(r.id, r.failures); err != nil {
			t.Fatalf("insert failures: %v", err)
		}
		status := dbpkg.StatusSuccess
		if len(r.failures) > 0 {
			status = dbpkg.StatusPartialFailure
		}
		if err := database.FinishRun(r.id, status, 10, len(r.failures), 4096, started.Add(time.Minute)); err != nil {
			t.Fatalf("finish run: %v", err)
		}
	}
	return path
}

func runCommand(t *testing.T, action cli.ActionFunc, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	app := &cli.App{
		Name:   "site-harvest",
		Writer: &out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db"},
			&cli.StringFlag{Name: "domain"},
			&cli.IntFlag{Name: "limit", Value: 20},
			&cli.StringFlag{Name: "phase"},
		},
		Action: action,
	}
	if err := app.Run(append([]string{"site-harvest"}, args...)); err != nil {
		t.Fatalf("run %v: %v", args, err)
	}
	return out.String()
}

func TestRunsAction(t *testing.T) {
	path := seedLedger(t)

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"list", []string{"--db", path}, []string{"aaaaaaaa", "bbbbbbbb", "Total: 2 runs"}},
		{"limit", []string{"--db", path, "--limit", "1"}, []string{"bbbbbbbb", "Total: 1 runs"}},
		{"other domain", []string{"--db", path, "--domain", "other.net"}, []string{"No runs found"}},
		{"details", []string{"--db", path, "bbbb"}, []string{"Run bbbbbbbb-2222", "Status:      partial_failure", "1. asset_round_1: 2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := runCommand(t, RunsAction, tt.args...)
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Fatalf("output missing %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestFailuresAction(t *testing.T) {
	path := seedLedger(t)

	out := runCommand(t, FailuresAction, "--db", path)
	if !strings.Contains(out, "# Run: bbbbbbbb-2222") {
		t.Fatalf("latest run not used:\n%s", out)
	}
	if !strings.Contains(out, "Total: 3 failures") {
		t.Fatalf("unexpected output:\n%s", out)
	}

	out = runCommand(t, FailuresAction, "--db", path, "--phase", models.PhaseCDXDownload, "bbbb")
	if !strings.Contains(out, "[cdx_download] http://example.org/gone") || strings.Contains(out, "img/x.png") {
		t.Fatalf("phase filter not applied:\n%s", out)
	}

	out = runCommand(t, FailuresAction, "--db", path, "aaaa")
	if !strings.Contains(out, "No failures recorded") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestShortID(t *testing.T) {
	if got := ShortID("0123456789abcdef"); got != "01234567" {
		t.Fatalf("ShortID = %q", got)
	}
	if got := ShortID("abc"); got != "abc" {
		t.Fatalf("ShortID = %q", got)
	}
}
