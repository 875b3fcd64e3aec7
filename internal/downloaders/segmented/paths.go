package segmented

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tanq16/splitdl/internal/utils"
)

func SegmentPath(dest string, index int) string {
	return fmt.Sprintf("%s.part%d", dest, index)
}

func ProgressPath(dest string, index int) string {
	return fmt.Sprintf("%s.progress%d", dest, index)
}

// DestinationPath is where a download of rawURL lands inside dir.
func DestinationPath(dir, rawURL string) string {
	return filepath.Join(dir, utils.FileNameFromURL(rawURL))
}

// ReadProgress returns the byte count recorded in a progress file.
func ReadProgress(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

func writeProgress(path string, written int64) error {
	return os.WriteFile(path, []byte(strconv.FormatInt(written, 10)), 0644)
}

// SegmentStatus describes what is on disk for one segment.
type SegmentStatus struct {
	Index    int
	Exists   bool
	OnDisk   int64
	Recorded int64 // -1 without a progress file
}

// Inspect reports the on-disk state of every segment of dest.
func Inspect(dest string, parts int) []SegmentStatus {
	statuses := make([]SegmentStatus, 0, parts)
	for i := 1; i <= parts; i++ {
		st := SegmentStatus{Index: i, Recorded: -1}
		if info, err := os.Stat(SegmentPath(dest, i)); err == nil {
			st.Exists = true
			st.OnDisk = info.Size()
		}
		if n, err := ReadProgress(ProgressPath(dest, i)); err == nil {
			st.Recorded = n
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// RemoveArtifacts deletes every part and progress file of dest, including
// ones beyond parts left over from an earlier plan.
func RemoveArtifacts(dest string) (int, error) {
	dir := filepath.Dir(dest)
	base := filepath.Base(dest)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, base+".") {
			continue
		}
		rest := name[len(base):]
		if !utils.SegmentIDRegex.MatchString(rest) && !utils.ProgressIDRegex.MatchString(rest) {
			continue
		}
		if strings.Count(rest, ".") != 1 {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
