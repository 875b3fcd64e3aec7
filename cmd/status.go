package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tanq16/splitdl/internal/downloaders/segmented"
	"github.com/tanq16/splitdl/internal/output"
	"github.com/tanq16/splitdl/internal/runstate"
	"github.com/tanq16/splitdl/internal/utils"
)

func newStatusCmd() *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "status [--remote]",
		Short: "Show the pending download and the progress of each part",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := runstate.NewStore(cfg.StateFile)
			stored, err := store.Load()
			if err != nil {
				return err
			}
			if stored == nil {
				output.PrintInfo(fmt.Sprintf("%s No pending download in %s", output.StyleSymbols["info"], cfg.StateFile))
				return nil
			}
			dest := segmented.DestinationPath(cfg.DownloadDir, stored.URL)
			output.PrintHeader("Pending download")
			fmt.Printf("  %s %s\n", output.FDebug("url: "), output.FDetail(stored.URL))
			fmt.Printf("  %s %s\n", output.FDebug("dest:"), output.FDetail(dest))
			fmt.Printf("  %s %s\n", output.FDebug("parts:"), output.FDetail(fmt.Sprint(stored.Parts)))

			lengths := map[int]int64{}
			if remote {
				client := utils.NewSplitHTTPClient(cfg.HTTPClientConfig())
				info, err := segmented.Probe(cmd.Context(), client, stored.URL)
				if err != nil {
					output.PrintWarning(fmt.Sprintf("%s Could not probe remote size: %v", output.StyleSymbols["warning"], err))
				} else if segments, err := segmented.Plan(info.Size, stored.Parts); err == nil {
					fmt.Printf("  %s %s\n", output.FDebug("size:"), output.FDetail(output.FormatBytes(uint64(info.Size))))
					for _, seg := range segments {
						lengths[seg.Index] = seg.Length()
					}
				}
			}
			fmt.Println()
			for _, st := range segmented.Inspect(dest, stored.Parts) {
				fmt.Println("  " + formatSegmentStatus(st, lengths[st.Index]))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "Probe the server for the total size to show per-part completion")
	return cmd
}

// formatSegmentStatus renders one part; length is 0 when unknown.
func formatSegmentStatus(st segmented.SegmentStatus, length int64) string {
	label := output.FDebug(fmt.Sprintf("part %-3d", st.Index))
	if !st.Exists {
		return fmt.Sprintf("%s %s %s", output.FPending(output.StyleSymbols["pending"]), label, output.FPending("not started"))
	}
	var b strings.Builder
	symbol := output.FInfo(output.StyleSymbols["bullet"])
	if length > 0 && st.OnDisk >= length {
		symbol = output.FSuccess(output.StyleSymbols["pass"])
	}
	fmt.Fprintf(&b, "%s %s ", symbol, label)
	if length > 0 {
		b.WriteString(output.ProgressBar(st.OnDisk, length, 30))
	}
	b.WriteString(output.FDebug(output.FormatBytes(uint64(st.OnDisk)) + " on disk"))
	if st.Recorded >= 0 && st.Recorded != st.OnDisk {
		b.WriteString(" " + output.FWarning(fmt.Sprintf("(checkpoint says %d bytes)", st.Recorded)))
	}
	return b.String()
}
