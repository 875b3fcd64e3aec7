package segmented

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/splitdl/internal/runstate"
)

// Merger concatenates finished segment files into the destination.
type Merger struct {
	// State is deleted once every part has been merged. May be nil.
	State *runstate.Store
	// Strict fails before touching dest when any part is missing instead of
	// skipping it.
	Strict  bool
	OnEvent EventFunc
}

// Merge writes parts 1..parts of dest, in index order, into a truncated dest
// and deletes each part after copying it. A failure midway leaves the
// parts not yet copied in place and a partial dest.
func (m *Merger) Merge(dest string, parts int) error {
	logger := log.With().Str("op", "segmented/merger").Str("dest", dest).Logger()
	if parts < 1 {
		return fmt.Errorf("%w: part count %d", ErrInvalidPlan, parts)
	}
	if m.Strict {
		for i := 1; i <= parts; i++ {
			if _, err := os.Stat(SegmentPath(dest, i)); err != nil {
				return fmt.Errorf("%w: part %d: %v", ErrMissingSegment, i, err)
			}
		}
	}

	destFile, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("error creating destination: %w", err)
	}
	defer destFile.Close()

	var totalWritten int64
	for i := 1; i <= parts; i++ {
		partPath := SegmentPath(dest, i)
		partFile, err := os.Open(partPath)
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn().Int("segment", i).Msg("Part is missing, merge skipped")
			os.Remove(ProgressPath(dest, i))
			m.OnEvent.emit(Event{Kind: EventMergeGap, Dest: dest, Segment: i})
			continue
		}
		if err != nil {
			return fmt.Errorf("error opening part %d: %w", i, err)
		}
		written, err := io.Copy(destFile, partFile)
		partFile.Close()
		if err != nil {
			return fmt.Errorf("error copying part %d: %w", i, err)
		}
		if err := os.Remove(partPath); err != nil {
			return fmt.Errorf("error removing part %d: %w", i, err)
		}
		os.Remove(ProgressPath(dest, i))
		totalWritten += written
		logger.Debug().Int("segment", i).Int64("bytes", written).Msg("Part merged")
		m.OnEvent.emit(Event{Kind: EventMerged, Dest: dest, Segment: i, Written: written})
	}
	if err := destFile.Close(); err != nil {
		return fmt.Errorf("error closing destination: %w", err)
	}
	if m.State != nil {
		if err := m.State.Delete(); err != nil {
			return err
		}
	}
	logger.Info().Int64("totalBytes", totalWritten).Int("parts", parts).Msg("All parts merged")
	return nil
}
