package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tanq16/splitdl/internal/config"
	"github.com/tanq16/splitdl/internal/downloaders/segmented"
	"github.com/tanq16/splitdl/internal/output"
	"github.com/tanq16/splitdl/internal/runstate"
	"github.com/tanq16/splitdl/internal/utils"
)

func runDownload(ctx context.Context, args []string, stdin io.Reader) error {
	store := runstate.NewStore(cfg.StateFile)
	stored, err := store.Load()
	if errors.Is(err, runstate.ErrMalformed) {
		return fmt.Errorf("%w (run `splitdl clean` to discard it)", err)
	}
	if err != nil {
		return err
	}

	url, parts := "", cfg.Parts
	switch {
	case stored != nil:
		if len(args) > 0 && args[0] != stored.URL {
			output.PrintWarning(fmt.Sprintf("%s Ignoring %s while a download is pending; run `splitdl clean` to discard it", output.StyleSymbols["warning"], args[0]))
		}
		output.PrintInfo(fmt.Sprintf("%s Resuming %s in %d parts", output.StyleSymbols["info"], stored.URL, stored.Parts))
		url, parts = stored.URL, stored.Parts
	case len(args) > 0:
		url = args[0]
	default:
		url, parts, err = promptRun(stdin, os.Stdout, cfg.Parts)
		if err != nil {
			return err
		}
	}

	coord, manager := newRun(cfg, store, parts)
	// keep the live display readable unless logs go to a file
	if cfg.LogFile == "" && !cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	}
	manager.StartDisplay()
	_, err = coord.Run(ctx, url, parts)
	manager.StopDisplay()
	if err != nil {
		if store.Exists() {
			output.PrintInfo(fmt.Sprintf("%s Progress saved; run splitdl again to resume", output.StyleSymbols["info"]))
		}
		return err
	}
	return nil
}

func newRun(conf *config.Config, store *runstate.Store, parts int) (*segmented.Coordinator, *output.Manager) {
	clientConfig := conf.HTTPClientConfig()
	clientConfig.HighThreadMode = parts > 5
	client := utils.NewSplitHTTPClient(clientConfig)
	manager := output.NewManager(os.Stdout)
	coord := segmented.NewCoordinator(client, store, segmented.Options{
		DownloadDir: conf.DownloadDir,
		ChunkSize:   conf.ChunkSize,
		IdleTimeout: conf.GetTimeout(),
		StrictMerge: conf.StrictMerge,
		Retry: segmented.RetryPolicy{
			Attempts:   conf.Retry.Attempts,
			Backoff:    conf.Retry.GetBackoff(),
			MaxBackoff: conf.Retry.GetMaxBackoff(),
		},
		OnEvent: manager.HandleEvent,
	})
	return coord, manager
}

// promptRun asks for the URL and part count. An empty part count keeps
// defaultParts.
func promptRun(in io.Reader, out io.Writer, defaultParts int) (string, int, error) {
	reader := bufio.NewReader(in)
	fmt.Fprint(out, output.FPending("URL: "))
	url, err := readLine(reader)
	if err != nil {
		return "", 0, fmt.Errorf("error reading URL: %w", err)
	}
	if err := utils.ValidateURL(url); err != nil {
		return "", 0, err
	}
	fmt.Fprint(out, output.FPending(fmt.Sprintf("Parts [%d]: ", defaultParts)))
	answer, err := readLine(reader)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", 0, fmt.Errorf("error reading part count: %w", err)
	}
	if answer == "" {
		return url, defaultParts, nil
	}
	parts, err := strconv.Atoi(answer)
	if err != nil || parts < 1 {
		return "", 0, fmt.Errorf("invalid part count %q", answer)
	}
	return url, parts, nil
}

func readLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if errors.Is(err, io.EOF) && line != "" {
		return line, nil
	}
	return line, err
}
