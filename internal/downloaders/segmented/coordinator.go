package segmented

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tanq16/splitdl/internal/runstate"
	"github.com/tanq16/splitdl/internal/utils"
	"golang.org/x/sync/errgroup"
)

// RetryPolicy bounds whole-run restarts after a transfer failure.
type RetryPolicy struct {
	// Attempts is the total number of runs, the first one included.
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:   5,
		Backoff:    time.Second,
		MaxBackoff: 30 * time.Second,
	}
}

type Options struct {
	DownloadDir string
	ChunkSize   int
	// IdleTimeout fails a segment whose response stalls for this long.
	IdleTimeout time.Duration
	StrictMerge bool
	Retry       RetryPolicy
	OnEvent     EventFunc
}

// Coordinator drives one download at a time through the store it was given.
type Coordinator struct {
	client utils.HTTPDoer
	store  *runstate.Store
	opts   Options
}

func NewCoordinator(client utils.HTTPDoer, store *runstate.Store, opts Options) *Coordinator {
	if opts.DownloadDir == "" {
		opts.DownloadDir = utils.DefaultDownloadDir()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = utils.DefaultChunkSize
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = utils.DefaultRequestTimeout
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry.Attempts = 1
	}
	if opts.Retry.MaxBackoff < opts.Retry.Backoff {
		opts.Retry.MaxBackoff = opts.Retry.Backoff
	}
	return &Coordinator{client: client, store: store, opts: opts}
}

// Run downloads url in parts segments and returns the destination path. A
// stored run-state takes precedence over url and parts.
//
// Terminal errors (unknown size, invalid plan, no range support, corrupt
// run-state) remove the run-state and return at once. Other failures
// restart the whole run from run-state resolution until the retry policy
// is exhausted; the run-state is then left on disk for a later resume.
func (c *Coordinator) Run(ctx context.Context, url string, parts int) (string, error) {
	logger := utils.GetLogger("coordinator")
	requested := runstate.RunState{URL: url, Parts: parts}
	for attempt := 1; ; attempt++ {
		dest, err := c.attempt(ctx, &requested, attempt)
		if err == nil {
			return dest, nil
		}
		if isTerminal(err) {
			logger.Error().Err(err).Msg("Download aborted")
			if delErr := c.store.Delete(); delErr != nil {
				logger.Warn().Err(delErr).Msg("Could not remove run-state")
			}
			return "", err
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("download interrupted: %w", ctx.Err())
		}
		if attempt >= c.opts.Retry.Attempts {
			return "", fmt.Errorf("download failed after %d attempts: %w", attempt, err)
		}
		logger.Warn().Err(err).Int("attempt", attempt).Int("maxAttempts", c.opts.Retry.Attempts).Msg("Run failed, restarting")
		c.opts.OnEvent.emit(Event{Kind: EventRetry, Attempt: attempt + 1, Err: err})
		if err := c.backoff(ctx, attempt); err != nil {
			return "", fmt.Errorf("download interrupted: %w", err)
		}
		if err := c.store.Delete(); err != nil {
			return "", err
		}
	}
}

// attempt performs one full run. requested is updated to the resolved
// values so a restart keeps the same plan.
func (c *Coordinator) attempt(ctx context.Context, requested *runstate.RunState, attempt int) (string, error) {
	runID := uuid.NewString()
	logger := utils.GetLogger("coordinator").With().Str("run", runID).Int("attempt", attempt).Logger()
	emit := func(ev Event) {
		ev.RunID = runID
		ev.Attempt = attempt
		c.opts.OnEvent.emit(ev)
	}

	state, err := c.resolve(*requested, logger)
	if err != nil {
		return "", err
	}
	*requested = *state
	logger.Info().Str("url", state.URL).Int("parts", state.Parts).Msg("Starting download")

	info, err := Probe(ctx, c.client, state.URL)
	if err != nil {
		return "", fmt.Errorf("error getting file size: %w", err)
	}
	if !info.AcceptsRanges {
		logger.Debug().Msg("Server does not advertise byte ranges")
	}
	segments, err := Plan(info.Size, state.Parts)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(c.opts.DownloadDir, 0755); err != nil {
		return "", fmt.Errorf("error creating download directory: %w", err)
	}
	dest := DestinationPath(c.opts.DownloadDir, state.URL)
	logger.Debug().Str("dest", dest).Int64("size", info.Size).Msg("Segments planned")
	emit(Event{Kind: EventPlanned, Dest: dest, TotalSize: info.Size, Segments: segments})

	fetcher := &Fetcher{
		Client:      c.client,
		URL:         state.URL,
		ChunkSize:   c.opts.ChunkSize,
		IdleTimeout: c.opts.IdleTimeout,
		OnEvent:     emit,
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, seg := range segments {
		seg := seg
		g.Go(func() error {
			if err := fetcher.Fetch(gctx, seg, dest); err != nil {
				if gctx.Err() != nil && errors.Is(err, context.Canceled) {
					logger.Debug().Int("segment", seg.Index).Msg("Segment cancelled")
					return err
				}
				logger.Error().Err(err).Int("segment", seg.Index).Msg("Segment failed")
				emit(Event{Kind: EventSegmentFailed, Segment: seg.Index, Length: seg.Length(), Err: err})
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	logger.Info().Int("parts", len(segments)).Msg("All parts downloaded successfully")

	merger := &Merger{State: c.store, Strict: c.opts.StrictMerge, OnEvent: emit}
	if err := merger.Merge(dest, len(segments)); err != nil {
		return "", fmt.Errorf("error merging parts: %w", err)
	}
	if fileInfo, err := os.Stat(dest); err == nil && fileInfo.Size() != info.Size {
		logger.Warn().Int64("expected", info.Size).Int64("actual", fileInfo.Size()).Msg("Merged file size differs from remote size")
	}
	emit(Event{Kind: EventComplete, Dest: dest, TotalSize: info.Size})
	return dest, nil
}

// resolve loads the stored run-state or records requested before any
// network call.
func (c *Coordinator) resolve(requested runstate.RunState, logger zerolog.Logger) (*runstate.RunState, error) {
	stored, err := c.store.Load()
	if err != nil {
		return nil, err
	}
	state := &requested
	if stored != nil {
		if stored.URL != requested.URL || stored.Parts != requested.Parts {
			logger.Info().Str("url", stored.URL).Int("parts", stored.Parts).Msg("Resuming stored download")
		}
		state = stored
	}
	if err := utils.ValidateURL(state.URL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	if state.Parts < 1 {
		return nil, fmt.Errorf("%w: part count %d", ErrInvalidPlan, state.Parts)
	}
	if stored == nil {
		if err := c.store.Save(*state); err != nil {
			return nil, err
		}
	}
	return state, nil
}

// backoff waits exponentially longer per attempt with 0.5x-1.5x jitter.
func (c *Coordinator) backoff(ctx context.Context, attempt int) error {
	if c.opts.Retry.Backoff <= 0 {
		return ctx.Err()
	}
	wait := backoffDelay(c.opts.Retry.Backoff, c.opts.Retry.MaxBackoff, attempt)
	jitter := time.Duration(float64(wait) * (0.5 + rand.Float64()))
	timer := time.NewTimer(jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoffDelay doubles base once per earlier attempt and stops at limit.
func backoffDelay(base, limit time.Duration, attempt int) time.Duration {
	wait := base
	for i := 1; i < attempt && wait < limit; i++ {
		if wait > limit/2 {
			return limit
		}
		wait *= 2
	}
	return min(wait, limit)
}

func isTerminal(err error) bool {
	return errors.Is(err, ErrUnknownSize) ||
		errors.Is(err, ErrInvalidPlan) ||
		errors.Is(err, ErrRangeNotSupported) ||
		errors.Is(err, runstate.ErrMalformed)
}
