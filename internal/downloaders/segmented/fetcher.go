package segmented

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/splitdl/internal/utils"
)

// Fetcher downloads single segments of URL. One Fetcher is shared by all
// segments of a run; it holds no per-segment state.
type Fetcher struct {
	Client      utils.HTTPDoer
	URL         string
	ChunkSize   int
	// IdleTimeout fails the segment when no body bytes arrive for this long.
	// Zero disables it.
	IdleTimeout time.Duration
	OnEvent     EventFunc
}

// Fetch leaves "<dest>.part<N>" holding exactly seg.Length() bytes when it
// returns nil. Bytes already on disk are never requested again. On error
// the partial file stays in place for the next attempt.
func (f *Fetcher) Fetch(ctx context.Context, seg Segment, dest string) error {
	logger := log.With().Str("op", "segmented/fetcher").Int("segment", seg.Index).Logger()
	partPath := SegmentPath(dest, seg.Index)
	progressPath := ProgressPath(dest, seg.Index)
	length := seg.Length()

	resumeOffset := int64(0)
	if fileInfo, err := os.Stat(partPath); err == nil {
		resumeOffset = fileInfo.Size()
		if resumeOffset >= length {
			if resumeOffset > length {
				logger.Warn().Int64("size", resumeOffset).Int64("expected", length).Msg("Segment file longer than planned, truncating")
				if err := os.Truncate(partPath, length); err != nil {
					return fmt.Errorf("segment %d: truncate: %w", seg.Index, err)
				}
			}
			logger.Debug().Int64("size", length).Msg("Segment already downloaded, skipping")
			os.Remove(progressPath)
			f.OnEvent.emit(Event{Kind: EventSegmentDone, Segment: seg.Index, Written: length, Length: length})
			return nil
		}
		if resumeOffset > 0 {
			logger.Debug().Int64("offset", resumeOffset).Int64("total", length).Msg("Resuming incomplete segment")
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("segment %d: stat: %w", seg.Index, err)
	}

	startByte := seg.Start + resumeOffset
	rangeHeader := fmt.Sprintf("bytes=%d-%d", startByte, seg.End)
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var stalled atomic.Bool
	var watchdog *time.Timer
	if f.IdleTimeout > 0 {
		watchdog = time.AfterFunc(f.IdleTimeout, func() {
			stalled.Store(true)
			cancel()
		})
		defer watchdog.Stop()
	}
	stallErr := func() error {
		return fmt.Errorf("%w: segment %d: no data for %s", ErrStalled, seg.Index, f.IdleTimeout)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, f.URL, nil)
	if err != nil {
		return fmt.Errorf("segment %d: error creating request: %w", seg.Index, err)
	}
	req.Header.Set("Range", rangeHeader)
	req.Header.Set("Connection", "keep-alive")
	logger.Debug().Str("range", rangeHeader).Msg("Sending range request")
	resp, err := f.Client.Do(req)
	if err != nil {
		if stalled.Load() {
			return stallErr()
		}
		return fmt.Errorf("segment %d: %w", seg.Index, err)
	}
	defer resp.Body.Close()
	if err := checkRangeResponse(resp, startByte); err != nil {
		return fmt.Errorf("segment %d: %w", seg.Index, err)
	}

	partFile, err := os.OpenFile(partPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("segment %d: error opening part file: %w", seg.Index, err)
	}
	defer partFile.Close()

	written := resumeOffset
	if resumeOffset > 0 {
		f.OnEvent.emit(Event{Kind: EventProgress, Segment: seg.Index, Written: written, Length: length})
	}
	chunkSize := f.ChunkSize
	if chunkSize <= 0 {
		chunkSize = utils.DefaultChunkSize
	}
	buffer := make([]byte, chunkSize)
	for written < length {
		bytesRead, readErr := resp.Body.Read(buffer)
		if bytesRead > 0 {
			if watchdog != nil {
				watchdog.Reset(f.IdleTimeout)
			}
			// never write past the planned boundary
			if remaining := length - written; int64(bytesRead) > remaining {
				bytesRead = int(remaining)
			}
			if _, err := partFile.Write(buffer[:bytesRead]); err != nil {
				return fmt.Errorf("segment %d: error writing part file: %w", seg.Index, err)
			}
			written += int64(bytesRead)
			if err := writeProgress(progressPath, written); err != nil {
				return fmt.Errorf("segment %d: error writing progress: %w", seg.Index, err)
			}
			f.OnEvent.emit(Event{Kind: EventProgress, Segment: seg.Index, Written: written, Length: length})
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			if stalled.Load() {
				return stallErr()
			}
			return fmt.Errorf("segment %d: error reading body: %w", seg.Index, readErr)
		}
	}
	if err := partFile.Close(); err != nil {
		return fmt.Errorf("segment %d: error closing part file: %w", seg.Index, err)
	}
	if written < length {
		return fmt.Errorf("%w: segment %d has %d of %d bytes", ErrShortSegment, seg.Index, written, length)
	}
	if err := os.Remove(progressPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn().Err(err).Msg("Could not remove progress file")
	}
	logger.Debug().Int64("size", length).Int64("resumedFrom", resumeOffset).Msg("Segment download completed")
	f.OnEvent.emit(Event{Kind: EventSegmentDone, Segment: seg.Index, Written: length, Length: length})
	return nil
}

// checkRangeResponse rejects anything but a 206 whose Content-Range starts
// at the requested byte. A server that ignores Range and answers 200 would
// otherwise be written into the segment as if it were the requested slice.
func checkRangeResponse(resp *http.Response, startByte int64) error {
	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		return fmt.Errorf("%w: got 200 for a range request", ErrRangeNotSupported)
	default:
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	contentRange := resp.Header.Get("Content-Range")
	if contentRange == "" {
		return fmt.Errorf("%w: missing Content-Range header", ErrRangeNotSupported)
	}
	gotStart, _, _, err := ParseContentRange(contentRange)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRangeNotSupported, err)
	}
	if gotStart != startByte {
		return fmt.Errorf("%w: asked for byte %d, got %d", ErrRangeNotSupported, startByte, gotStart)
	}
	return nil
}
