package segmented

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFetchSegment(t *testing.T) {
	data := randomData(1000)
	server := newRangeServer(t, data, nil)
	dest := filepath.Join(t.TempDir(), "file.bin")
	seg := Segment{Index: 2, Start: 333, End: 665}

	var events eventLog
	var checkpointErrs []string
	fetcher := &Fetcher{
		Client:    testClient(),
		URL:       server.fileURL(),
		ChunkSize: 64,
		OnEvent: func(ev Event) {
			events.record(ev)
			if ev.Kind != EventProgress {
				return
			}
			// the checkpoint is persisted before the event is emitted
			recorded, err := ReadProgress(ProgressPath(dest, 2))
			if err != nil || recorded != ev.Written {
				checkpointErrs = append(checkpointErrs, "progress file out of step")
			}
		},
	}
	if err := fetcher.Fetch(context.Background(), seg, dest); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	got := mustReadFile(t, SegmentPath(dest, 2))
	if !bytes.Equal(got, data[333:666]) {
		t.Errorf("segment content mismatch: got %d bytes", len(got))
	}
	if fileExists(ProgressPath(dest, 2)) {
		t.Error("progress file should be removed after completion")
	}
	if ranges := server.recordedRanges(); len(ranges) != 1 || ranges[0] != "bytes=333-665" {
		t.Errorf("unexpected ranges %v", ranges)
	}
	if len(checkpointErrs) > 0 {
		t.Errorf("%d progress events without matching checkpoint", len(checkpointErrs))
	}
	if events.count(EventProgress) == 0 {
		t.Error("expected progress events")
	}
	if events.count(EventSegmentDone) != 1 {
		t.Errorf("expected one segment-done event, got %d", events.count(EventSegmentDone))
	}
}

func TestFetchCompleteSegmentIsNoop(t *testing.T) {
	data := randomData(1000)
	server := newRangeServer(t, data, nil)
	dest := filepath.Join(t.TempDir(), "file.bin")
	seg := Segment{Index: 1, Start: 0, End: 332}
	if err := os.WriteFile(SegmentPath(dest, 1), data[:333], 0644); err != nil {
		t.Fatal(err)
	}

	fetcher := &Fetcher{Client: testClient(), URL: server.fileURL()}
	for i := 0; i < 2; i++ {
		if err := fetcher.Fetch(context.Background(), seg, dest); err != nil {
			t.Fatalf("Fetch #%d: %v", i+1, err)
		}
	}

	if ranges := server.recordedRanges(); len(ranges) != 0 {
		t.Errorf("expected no requests, got %v", ranges)
	}
	if got := mustReadFile(t, SegmentPath(dest, 1)); !bytes.Equal(got, data[:333]) {
		t.Error("complete segment file was modified")
	}
}

func TestFetchResumesFromFileSize(t *testing.T) {
	data := randomData(1000)
	server := newRangeServer(t, data, nil)
	dest := filepath.Join(t.TempDir(), "file.bin")
	seg := Segment{Index: 2, Start: 333, End: 665}
	if err := os.WriteFile(SegmentPath(dest, 2), data[333:433], 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ProgressPath(dest, 2), []byte("100"), 0644); err != nil {
		t.Fatal(err)
	}

	fetcher := &Fetcher{Client: testClient(), URL: server.fileURL(), ChunkSize: 50}
	if err := fetcher.Fetch(context.Background(), seg, dest); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if ranges := server.recordedRanges(); len(ranges) != 1 || ranges[0] != "bytes=433-665" {
		t.Errorf("expected resumed range bytes=433-665, got %v", ranges)
	}
	got := mustReadFile(t, SegmentPath(dest, 2))
	if int64(len(got)) != seg.Length() {
		t.Fatalf("expected %d bytes, got %d", seg.Length(), len(got))
	}
	if !bytes.Equal(got, data[333:666]) {
		t.Error("resumed segment content mismatch")
	}
}

func TestFetchNeverWritesPastPlannedLength(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-9/100")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(bytes.Repeat([]byte("x"), 50))
	}))
	defer server.Close()
	dest := filepath.Join(t.TempDir(), "file.bin")

	fetcher := &Fetcher{Client: testClient(), URL: server.URL, ChunkSize: 8}
	if err := fetcher.Fetch(context.Background(), Segment{Index: 1, Start: 0, End: 9}, dest); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	info, err := os.Stat(SegmentPath(dest, 1))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 10 {
		t.Errorf("expected 10 bytes on disk, got %d", info.Size())
	}
}

func TestFetchTruncatesOversizedFile(t *testing.T) {
	server := newRangeServer(t, randomData(100), nil)
	dest := filepath.Join(t.TempDir(), "file.bin")
	if err := os.WriteFile(SegmentPath(dest, 1), bytes.Repeat([]byte("y"), 15), 0644); err != nil {
		t.Fatal(err)
	}
	fetcher := &Fetcher{Client: testClient(), URL: server.fileURL()}
	if err := fetcher.Fetch(context.Background(), Segment{Index: 1, Start: 0, End: 9}, dest); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	info, err := os.Stat(SegmentPath(dest, 1))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 10 {
		t.Errorf("expected oversized file truncated to 10, got %d", info.Size())
	}
	if len(server.recordedRanges()) != 0 {
		t.Error("expected no network request")
	}
}

func TestFetchShortBodyKeepsPartialFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-9/10")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("abcde"))
	}))
	defer server.Close()
	dest := filepath.Join(t.TempDir(), "file.bin")

	fetcher := &Fetcher{Client: testClient(), URL: server.URL}
	err := fetcher.Fetch(context.Background(), Segment{Index: 1, Start: 0, End: 9}, dest)
	if !errors.Is(err, ErrShortSegment) {
		t.Fatalf("expected ErrShortSegment, got %v", err)
	}
	if got := mustReadFile(t, SegmentPath(dest, 1)); string(got) != "abcde" {
		t.Errorf("expected partial file to stay, got %q", got)
	}
	recorded, err := ReadProgress(ProgressPath(dest, 1))
	if err != nil {
		t.Fatalf("ReadProgress: %v", err)
	}
	if recorded != 5 {
		t.Errorf("expected progress 5, got %d", recorded)
	}
}

func TestFetchFailsWhenBodyStalls(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-99/100")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(bytes.Repeat([]byte("s"), 10))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)
	dest := filepath.Join(t.TempDir(), "file.bin")

	fetcher := &Fetcher{Client: testClient(), URL: server.URL, IdleTimeout: 100 * time.Millisecond}
	done := make(chan error, 1)
	go func() {
		done <- fetcher.Fetch(context.Background(), Segment{Index: 1, Start: 0, End: 99}, dest)
	}()

	var err error
	select {
	case err = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Fetch did not give up on a stalled body")
	}
	if !errors.Is(err, ErrStalled) {
		t.Fatalf("expected ErrStalled, got %v", err)
	}
	if isTerminal(err) {
		t.Error("a stalled segment should be retryable")
	}
	if got := mustReadFile(t, SegmentPath(dest, 1)); len(got) != 10 {
		t.Errorf("expected the 10 received bytes kept, got %d", len(got))
	}
	recorded, err := ReadProgress(ProgressPath(dest, 1))
	if err != nil {
		t.Fatalf("ReadProgress: %v", err)
	}
	if recorded != 10 {
		t.Errorf("expected progress 10, got %d", recorded)
	}
}

func TestFetchRejectsBadResponses(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "range ignored",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write(bytes.Repeat([]byte("z"), 100))
			},
			wantErr: ErrRangeNotSupported,
		},
		{
			name: "missing content range",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusPartialContent)
				w.Write([]byte("0123456789"))
			},
			wantErr: ErrRangeNotSupported,
		},
		{
			name: "wrong start",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Range", "bytes 0-9/100")
				w.WriteHeader(http.StatusPartialContent)
				w.Write([]byte("0123456789"))
			},
			wantErr: ErrRangeNotSupported,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			wantErr: ErrUnexpectedStatus,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()
			dest := filepath.Join(t.TempDir(), "file.bin")

			fetcher := &Fetcher{Client: testClient(), URL: server.URL}
			err := fetcher.Fetch(context.Background(), Segment{Index: 2, Start: 10, End: 19}, dest)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if fileExists(SegmentPath(dest, 2)) {
				t.Error("no part file should be created for a rejected response")
			}
		})
	}
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		header            string
		start, end, total int64
		wantErr           bool
	}{
		{"bytes 0-99/1000", 0, 99, 1000, false},
		{"bytes 333-665/*", 333, 665, -1, false},
		{"bytes 5/10", 0, 0, 0, true},
		{"bytes a-9/10", 0, 0, 0, true},
		{"garbage", 0, 0, 0, true},
	}
	for _, tt := range tests {
		start, end, total, err := ParseContentRange(tt.header)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tt.header)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", tt.header, err)
			continue
		}
		if start != tt.start || end != tt.end || total != tt.total {
			t.Errorf("%q: got %d-%d/%d", tt.header, start, end, total)
		}
	}
}
