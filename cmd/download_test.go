package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tanq16/splitdl/internal/config"
	"github.com/tanq16/splitdl/internal/downloaders/segmented"
	"github.com/tanq16/splitdl/internal/runstate"
)

func TestPromptRun(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantURL   string
		wantParts int
		wantErr   bool
	}{
		{"url and parts", "https://example.com/a.iso\n6\n", "https://example.com/a.iso", 6, false},
		{"default parts", "https://example.com/a.iso\n\n", "https://example.com/a.iso", 4, false},
		{"eof after url", "https://example.com/a.iso", "https://example.com/a.iso", 4, false},
		{"bad url", "not a url\n3\n", "", 0, true},
		{"bad parts", "https://example.com/a.iso\nzero\n", "", 0, true},
		{"zero parts", "https://example.com/a.iso\n0\n", "", 0, true},
		{"empty input", "", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			url, parts, err := promptRun(strings.NewReader(tt.input), &out, 4)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s/%d", url, parts)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if url != tt.wantURL || parts != tt.wantParts {
				t.Errorf("got %s/%d, want %s/%d", url, parts, tt.wantURL, tt.wantParts)
			}
			if !strings.Contains(out.String(), "URL:") {
				t.Error("prompt not written")
			}
		})
	}
}

func TestFormatSegmentStatus(t *testing.T) {
	tests := []struct {
		name   string
		st     segmented.SegmentStatus
		length int64
		want   string
	}{
		{"missing", segmented.SegmentStatus{Index: 1, Recorded: -1}, 0, "not started"},
		{"partial", segmented.SegmentStatus{Index: 2, Exists: true, OnDisk: 100, Recorded: 100}, 333, "30.0%"},
		{"stale checkpoint", segmented.SegmentStatus{Index: 3, Exists: true, OnDisk: 120, Recorded: 100}, 0, "checkpoint says 100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatSegmentStatus(tt.st, tt.length); !strings.Contains(got, tt.want) {
				t.Errorf("got %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Parts:            3,
		DownloadDir:      filepath.Join(dir, "Downloads"),
		StateFile:        filepath.Join(dir, "download_info.txt"),
		ChunkSize:        128,
		Timeout:          "5s",
		KeepAliveTimeout: "5s",
		Retry:            config.RetryConfig{Attempts: 1, Backoff: "1ms", MaxBackoff: "1ms"},
		Debug:            true,
	}
}

func TestRunDownloadFromArgument(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 100)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "data.bin", time.Time{}, bytes.NewReader(data))
	}))
	defer server.Close()
	cfg = testConfig(t)

	if err := runDownload(context.Background(), []string{server.URL + "/data.bin"}, strings.NewReader("")); err != nil {
		t.Fatalf("runDownload: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(cfg.DownloadDir, "data.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("downloaded content mismatch")
	}
	if runstate.NewStore(cfg.StateFile).Exists() {
		t.Error("run-state should be gone after success")
	}
}

func TestRunDownloadResumesStoredRun(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefghij"), 50)
	var mu sync.Mutex
	var requested []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rng := r.Header.Get("Range"); rng != "" {
			mu.Lock()
			requested = append(requested, r.URL.Path)
			mu.Unlock()
		}
		http.ServeContent(w, r, "data.bin", time.Time{}, bytes.NewReader(data))
	}))
	defer server.Close()
	cfg = testConfig(t)
	store := runstate.NewStore(cfg.StateFile)
	if err := store.Save(runstate.RunState{URL: server.URL + "/stored.bin", Parts: 2}); err != nil {
		t.Fatal(err)
	}

	if err := runDownload(context.Background(), []string{server.URL + "/other.bin"}, strings.NewReader("")); err != nil {
		t.Fatalf("runDownload: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.DownloadDir, "stored.bin")); err != nil {
		t.Errorf("stored URL should have been downloaded: %v", err)
	}
	for _, path := range requested {
		if path != "/stored.bin" {
			t.Errorf("unexpected request for %s", path)
		}
	}
	if len(requested) != 2 {
		t.Errorf("expected 2 range requests from the stored part count, got %d", len(requested))
	}
}

func TestRunDownloadMalformedState(t *testing.T) {
	cfg = testConfig(t)
	if err := os.WriteFile(cfg.StateFile, []byte("only-one-line\n"), 0644); err != nil {
		t.Fatal(err)
	}
	err := runDownload(context.Background(), nil, strings.NewReader(""))
	if err == nil || !strings.Contains(err.Error(), "splitdl clean") {
		t.Fatalf("expected a hint to clean, got %v", err)
	}
}
