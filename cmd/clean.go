package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tanq16/splitdl/internal/downloaders/segmented"
	"github.com/tanq16/splitdl/internal/output"
	"github.com/tanq16/splitdl/internal/runstate"
	"github.com/tanq16/splitdl/internal/utils"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [URL]",
		Short: "Discard the pending download and its part files",
		Long: `clean removes the run-state file together with every part and progress file
of the pending download. With a URL it also removes leftovers of that URL's
destination in the download directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := runstate.NewStore(cfg.StateFile)
			var targets []string
			stored, err := store.Load()
			switch {
			case errors.Is(err, runstate.ErrMalformed):
				output.PrintWarning(fmt.Sprintf("%s Run-state is unreadable, removing it", output.StyleSymbols["warning"]))
			case err != nil:
				return err
			case stored != nil:
				targets = append(targets, segmented.DestinationPath(cfg.DownloadDir, stored.URL))
			}
			if len(args) > 0 {
				if err := utils.ValidateURL(args[0]); err != nil {
					return err
				}
				targets = append(targets, segmented.DestinationPath(cfg.DownloadDir, args[0]))
			}

			removed := 0
			for _, dest := range targets {
				n, err := segmented.RemoveArtifacts(dest)
				removed += n
				if err != nil {
					return fmt.Errorf("error cleaning %s: %w", dest, err)
				}
			}
			if err := store.Delete(); err != nil {
				return err
			}
			output.PrintSuccess(fmt.Sprintf("%s Removed run-state and %d temporary files", output.StyleSymbols["pass"], removed))
			return nil
		},
	}
}
