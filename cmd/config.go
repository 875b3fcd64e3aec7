package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	var showSecrets bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			effective := *cfg
			if !showSecrets && effective.Proxy.Password != "" {
				effective.Proxy.Password = "********"
			}
			data, err := yaml.Marshal(&effective)
			if err != nil {
				return fmt.Errorf("error encoding config: %w", err)
			}
			if used := v.ConfigFileUsed(); used != "" {
				fmt.Printf("# loaded from %s\n", used)
			}
			fmt.Print(string(data))
			return nil
		},
	}

	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print the proxy password in clear text")
	return cmd
}
