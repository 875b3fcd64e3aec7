package segmented

import (
	"bytes"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/tanq16/splitdl/internal/utils"
)

// rangeServer serves data with full Range support and records every ranged
// GET it receives.
type rangeServer struct {
	*httptest.Server
	mu     sync.Mutex
	ranges []string
	heads  int
}

// newRangeServer starts a server for data. fail, when non-nil, is consulted
// for every request; returning true answers 500 instead of content.
func newRangeServer(t *testing.T, data []byte, fail func(r *http.Request) bool) *rangeServer {
	t.Helper()
	rs := &rangeServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		if r.Method == http.MethodHead {
			rs.heads++
		} else if rng := r.Header.Get("Range"); rng != "" {
			rs.ranges = append(rs.ranges, rng)
		}
		rs.mu.Unlock()
		if fail != nil && fail(r) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		http.ServeContent(w, r, "file.bin", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *rangeServer) recordedRanges() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.ranges...)
}

func (rs *rangeServer) headCount() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.heads
}

func (rs *rangeServer) fileURL() string {
	return rs.URL + "/file.bin"
}

func randomData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(rand.Intn(256))
	}
	return data
}

func testClient() *utils.SplitHTTPClient {
	return utils.NewSplitHTTPClient(utils.HTTPClientConfig{Timeout: 5 * time.Second})
}

// eventLog collects engine events from concurrent segments.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) count(kind EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func mustReadFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s): %v", path, err)
	}
	return data
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
