package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/cronwatch/internal/core"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the cronwatch configuration",
	Long: `Commands for the configuration file stored in the cronwatch home
directory (CRONWATCH_HOME, default ~/.cronwatch).

Every key can be overridden with an environment variable named
CRONWATCH_<SECTION>_<KEY>, e.g. CRONWATCH_DAEMON_POLL_INTERVAL=10s.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write config.yaml with the default settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if ConfigMgr == nil {
			return fmt.Errorf("configuration manager not initialized")
		}
		path, err := ConfigMgr.WriteDefault(configForce)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, config.yaml and environment
overrides have been applied.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Config == nil {
			return fmt.Errorf("configuration not loaded")
		}
		data, err := core.RenderConfig(Config)
		if err != nil {
			return fmt.Errorf("rendering configuration: %w", err)
		}
		out := cmd.OutOrStdout()
		if ConfigMgr != nil {
			fmt.Fprintf(out, "# %s\n", ConfigMgr.ConfigPath())
		}
		_, err = out.Write(data)
		return err
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config.yaml")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
