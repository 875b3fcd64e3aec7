package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tanq16/splitdl/internal/downloaders/segmented"
)

type SegmentOutput struct {
	Index       int
	Written     int64
	Length      int64
	Status      string
	Message     string
	resumedFrom int64
	StartTime   time.Time
	LastUpdated time.Time
	Error       error
}

type ErrorReport struct {
	Segment int
	Error   error
	Time    time.Time
}

// Manager renders a live per-segment view of a download from engine
// events. On a non-terminal writer it only prints the final summary.
type Manager struct {
	out         io.Writer
	mutex       sync.RWMutex
	segments    map[int]*SegmentOutput
	dest        string
	totalSize   int64
	attempt     int
	startTime   time.Time
	notes       []string
	maxNotes    int
	merged      int
	completed   bool
	numLines    int
	errors      []ErrorReport
	doneCh      chan struct{}
	displayTick time.Duration
	displayWg   sync.WaitGroup
	interactive bool
	height      func() int
}

func NewManager(out io.Writer) *Manager {
	m := &Manager{
		out:         out,
		segments:    make(map[int]*SegmentOutput),
		maxNotes:    5,
		doneCh:      make(chan struct{}),
		displayTick: 200 * time.Millisecond,
		startTime:   time.Now(),
		height:      func() int { return 24 },
	}
	if f, ok := out.(*os.File); ok && isTerminal(f) {
		m.interactive = true
		m.height = func() int { return terminalHeight(f) }
	}
	return m
}

// HandleEvent is a segmented.EventFunc.
func (m *Manager) HandleEvent(ev segmented.Event) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	now := time.Now()
	switch ev.Kind {
	case segmented.EventPlanned:
		// a restarted run replans every segment
		m.segments = make(map[int]*SegmentOutput, len(ev.Segments))
		m.errors = m.errors[:0]
		m.merged = 0
		m.dest = ev.Dest
		m.totalSize = ev.TotalSize
		m.attempt = ev.Attempt
		for _, seg := range ev.Segments {
			m.segments[seg.Index] = &SegmentOutput{
				Index:       seg.Index,
				Length:      seg.Length(),
				Status:      "pending",
				resumedFrom: -1,
				StartTime:   now,
				LastUpdated: now,
			}
		}
	case segmented.EventProgress:
		info := m.segment(ev.Segment, ev.Length, now)
		if info.resumedFrom < 0 {
			info.resumedFrom = ev.Written
			info.StartTime = now
		}
		info.Written = ev.Written
		info.Status = "active"
		info.LastUpdated = now
	case segmented.EventSegmentDone:
		info := m.segment(ev.Segment, ev.Length, now)
		if info.resumedFrom < 0 {
			info.resumedFrom = ev.Length
			info.Message = "already downloaded"
		}
		info.Written = ev.Length
		info.Status = "success"
		info.LastUpdated = now
	case segmented.EventSegmentFailed:
		info := m.segment(ev.Segment, ev.Length, now)
		info.Status = "error"
		info.Error = ev.Err
		info.LastUpdated = now
		m.errors = append(m.errors, ErrorReport{Segment: ev.Segment, Error: ev.Err, Time: now})
	case segmented.EventRetry:
		m.addNote(warningStyle.Render(fmt.Sprintf("%s Restarting (attempt %d): %v", StyleSymbols["warning"], ev.Attempt, ev.Err)))
	case segmented.EventMerged:
		m.merged++
	case segmented.EventMergeGap:
		m.addNote(warningStyle.Render(fmt.Sprintf("%s Part %d missing, skipped in merge", StyleSymbols["warning"], ev.Segment)))
	case segmented.EventComplete:
		m.completed = true
	}
}

func (m *Manager) segment(index int, length int64, now time.Time) *SegmentOutput {
	info, exists := m.segments[index]
	if !exists {
		info = &SegmentOutput{Index: index, Length: length, resumedFrom: -1, StartTime: now}
		m.segments[index] = info
	}
	return info
}

func (m *Manager) addNote(note string) {
	m.notes = append(m.notes, note)
	if len(m.notes) > m.maxNotes {
		m.notes = m.notes[len(m.notes)-m.maxNotes:]
	}
}

func (m *Manager) GetStatusIndicator(status string) string {
	switch status {
	case "success":
		return successStyle.Render(StyleSymbols["pass"])
	case "error":
		return errorStyle.Render(StyleSymbols["fail"])
	case "pending":
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func (m *Manager) sortedSegments() []*SegmentOutput {
	all := make([]*SegmentOutput, 0, len(m.segments))
	for _, info := range m.segments {
		all = append(all, info)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Index < all[j].Index
	})
	return all
}

// render returns the current view, at most maxLines long. Caller holds the
// read lock.
func (m *Manager) render(maxLines int) []string {
	indent := strings.Repeat(" ", 2)
	var lines []string
	if m.dest != "" {
		var written int64
		for _, info := range m.segments {
			written += info.Written
		}
		header := fmt.Sprintf("%s%s %s %s", indent, headerStyle.Render("Downloading"), detailStyle.Render(m.dest),
			debugStyle.Render(fmt.Sprintf("(%s of %s)", FormatBytes(uint64(written)), FormatBytes(uint64(m.totalSize)))))
		if m.attempt > 1 {
			header += " " + warningStyle.Render(fmt.Sprintf("attempt %d", m.attempt))
		}
		lines = append(lines, header)
	}
	for _, info := range m.sortedSegments() {
		elapsed := info.LastUpdated.Sub(info.StartTime)
		if info.Status == "active" {
			elapsed = time.Since(info.StartTime)
		}
		line := fmt.Sprintf("%s%s %s %s", indent, m.GetStatusIndicator(info.Status),
			debugStyle.Render(fmt.Sprintf("part %-3d", info.Index)), ProgressBar(info.Written, info.Length, 30))
		switch info.Status {
		case "error":
			line += errorStyle.Render(fmt.Sprintf("failed: %v", info.Error))
		case "pending":
			line += pendingStyle.Render("waiting")
		default:
			fetched := info.Written - max(info.resumedFrom, 0)
			line += debugStyle.Render(fmt.Sprintf("%s %s %s", FormatBytes(uint64(info.Written)), StyleSymbols["bullet"],
				FormatSpeed(fetched, elapsed.Seconds())))
			if info.Message != "" {
				line += " " + debugStyle.Render(info.Message)
			}
		}
		lines = append(lines, line)
	}
	for _, note := range m.notes {
		lines = append(lines, indent+note)
	}
	if maxLines > 0 && len(lines) > maxLines {
		hidden := len(lines) - maxLines + 1
		lines = append(lines[:maxLines-1], indent+infoStyle.Render(fmt.Sprintf("%d more lines hidden ...", hidden)))
	}
	return lines
}

func (m *Manager) updateDisplay() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}
	// leave room for the prompt
	lines := m.render(max(m.height()-3, 3))
	for _, line := range lines {
		fmt.Fprintln(m.out, line)
	}
	m.numLines = len(lines)
}

func (m *Manager) StartDisplay() {
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		if !m.interactive {
			<-m.doneCh
			m.ShowSummary()
			return
		}
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				m.ShowSummary()
				return
			}
		}
	}()
}

func (m *Manager) StopDisplay() {
	close(m.doneCh)
	m.displayWg.Wait()
}

func (m *Manager) displayErrors() {
	if len(m.errors) == 0 {
		return
	}
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, strings.Repeat(" ", 2)+errorStyle.Bold(true).Render("Errors:"))
	for i, err := range m.errors {
		fmt.Fprintf(m.out, "%s%s %s %s\n",
			strings.Repeat(" ", 2+2),
			errorStyle.Render(fmt.Sprintf("%d.", i+1)),
			debugStyle.Render(fmt.Sprintf("[%s]", err.Time.Format("15:04:05"))),
			errorStyle.Render(fmt.Sprintf("Part %d: %v", err.Segment, err.Error)))
	}
}

func (m *Manager) ShowSummary() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	indent := strings.Repeat(" ", 2)
	fmt.Fprintln(m.out)
	var success, failures int
	for _, info := range m.segments {
		switch info.Status {
		case "success":
			success++
		case "error":
			failures++
		}
	}
	fmt.Fprintln(m.out, indent+success2Style.Render(fmt.Sprintf("Completed %d of %d parts", success, len(m.segments))))
	if failures > 0 {
		fmt.Fprintln(m.out, indent+errorStyle.Render(fmt.Sprintf("Failed %d of %d parts", failures, len(m.segments))))
	}
	if !m.interactive {
		for _, note := range m.notes {
			fmt.Fprintln(m.out, indent+note)
		}
	}
	if m.completed {
		elapsed := time.Since(m.startTime).Round(time.Second)
		fmt.Fprintf(m.out, "%s%s %s %s\n", indent, successStyle.Render(StyleSymbols["pass"]+" Saved"), detailStyle.Render(m.dest),
			debugStyle.Render(fmt.Sprintf("(%s, %d parts merged in %s)", FormatBytes(uint64(m.totalSize)), m.merged, elapsed)))
	}
	m.displayErrors()
	fmt.Fprintln(m.out)
}
