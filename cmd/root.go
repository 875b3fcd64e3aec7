package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tanq16/splitdl/internal/config"
	"github.com/tanq16/splitdl/internal/output"
	"github.com/tanq16/splitdl/internal/utils"
)

var (
	cfgFile   string
	v         = viper.New()
	cfg       *config.Config
	logCloser io.Closer
)

var SplitdlVersion = "dev"

var rootCmd = &cobra.Command{
	Use:   "splitdl [URL]",
	Short: "splitdl downloads a file over HTTP in parallel byte ranges and resumes after interruption",
	Long: `splitdl splits a remote file into byte ranges, fetches them concurrently and
merges them into one file. An interrupted download is recorded in the state
file and resumed by running splitdl again, without arguments.`,
	Version:       SplitdlVersion,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		closer, err := utils.InitLogger(cfg.Debug, cfg.LogFile)
		if err != nil {
			return err
		}
		logCloser = closer
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		if err := runDownload(cmd.Context(), args, os.Stdin); err != nil {
			output.PrintError(fmt.Sprintf("%s %v", output.StyleSymbols["fail"], err))
			if logCloser != nil {
				logCloser.Close()
			}
			os.Exit(1)
		}
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		output.PrintError(fmt.Sprintf("%s %v", output.StyleSymbols["fail"], err))
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default "+config.DefaultConfigPath+" if present)")
	rootCmd.PersistentFlags().StringP("download-dir", "d", "~/Downloads", "Directory the merged file is written to")
	rootCmd.PersistentFlags().String("state-file", utils.DefaultStateFile, "Run-state file recording the pending download")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("log-file", "", "Write JSON logs to this file instead of stderr")

	rootCmd.Flags().IntP("parts", "c", utils.DefaultParts, "Number of byte ranges fetched in parallel (above 5 enables high-thread-mode)")
	rootCmd.Flags().Int("chunk-size", utils.DefaultChunkSize, "Read size in bytes; progress is checkpointed once per chunk")
	rootCmd.Flags().StringP("timeout", "t", "3m", "Max wait for response headers and between body reads of a part (eg. 30s, 5m)")
	rootCmd.Flags().StringP("keep-alive-timeout", "k", "90s", "Idle keep-alive timeout for client connections")
	rootCmd.Flags().StringP("user-agent", "a", utils.ToolUserAgent, "User agent")
	rootCmd.Flags().StringP("proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., http://proxy.example.com:8080)")
	rootCmd.Flags().String("proxy-username", "", "Proxy username (if not provided in proxy URL)")
	rootCmd.Flags().String("proxy-password", "", "Proxy password (if not provided in proxy URL)")
	rootCmd.Flags().StringArrayP("header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	rootCmd.Flags().Int("retries", 5, "Total attempts before giving up; the run-state is kept for a later resume")
	rootCmd.Flags().Bool("strict-merge", false, "Fail the merge when a part file is missing instead of skipping it")

	bindFlags(rootCmd, map[string]string{
		"download_dir":       "download-dir",
		"state_file":         "state-file",
		"debug":              "debug",
		"log_file":           "log-file",
		"parts":              "parts",
		"chunk_size":         "chunk-size",
		"timeout":            "timeout",
		"keep_alive_timeout": "keep-alive-timeout",
		"user_agent":         "user-agent",
		"proxy.url":          "proxy",
		"proxy.username":     "proxy-username",
		"proxy.password":     "proxy-password",
		"headers":            "header",
		"retry.attempts":     "retries",
		"strict_merge":       "strict-merge",
	})

	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newCleanCmd())
	rootCmd.AddCommand(newConfigCmd())
}

// bindFlags maps config keys onto flags of cmd, local or persistent.
func bindFlags(cmd *cobra.Command, keys map[string]string) {
	for key, name := range keys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			flag = cmd.PersistentFlags().Lookup(name)
		}
		if flag == nil {
			panic("unknown flag " + name)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			panic(err)
		}
	}
}
