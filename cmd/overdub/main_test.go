package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigInitWritesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")

	out, err := runCommand(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if !strings.Contains(out, target) {
		t.Fatalf("output does not mention target path: %s", out)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read sample config: %v", err)
	}
	if !strings.Contains(string(data), "[speechlab]") {
		t.Fatal("sample config missing speechlab section")
	}

	// Second init without --overwrite must refuse.
	if _, err := runCommand(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected error for existing config")
	}
}

func TestJobsListRendersTable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/jobs" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"jobs": []map[string]any{
				{"id": "job-1", "kind": "dub", "status": "completed", "attempts": 1},
			},
		})
	}))
	defer server.Close()

	out, err := runCommand(t, "jobs", "list", "--server", server.URL)
	if err != nil {
		t.Fatalf("jobs list failed: %v", err)
	}
	if !strings.Contains(out, "job-1") || !strings.Contains(out, "completed") {
		t.Fatalf("table output missing job row: %s", out)
	}
}

func TestJobsClearRejectsUnknownScope(t *testing.T) {
	_, err := runCommand(t, "jobs", "clear", "--scope", "everything", "--server", "http://127.0.0.1:1")
	if err == nil {
		t.Fatal("expected scope validation error")
	}
}

func TestStatusJSONOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"running":     true,
			"queueDbPath": "/tmp/jobs.db",
			"jobs":        map[string]int{"pending": 2},
		})
	}))
	defer server.Close()

	out, err := runCommand(t, "status", "--json", "--server", server.URL)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	var status statusView
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, out)
	}
	if !status.Running || status.Jobs["pending"] != 2 {
		t.Fatalf("unexpected status %+v", status)
	}
}
