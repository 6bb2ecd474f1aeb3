package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/G-Research/chunkpool/internal/chunkpool/configuration"
	"github.com/G-Research/chunkpool/internal/chunkpoolctl"
	"github.com/G-Research/chunkpool/internal/common"
)

const (
	CustomConfigLocation string = "config"
	defaultConfigPath    string = "./config/chunkpool"
)

// RootCmd is the root Cobra command that gets called from the main func.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "chunkpool",
		SilenceUsage: true,
		Short:        "Plans jobs over sorted input chunks",
	}

	cmd.PersistentFlags().StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")
	cmd.PersistentFlags().Bool("dump", false, "Print the full record of every job")

	cmd.AddCommand(
		planCmd(),
		snapshotCmd(),
		inspectCmd(),
	)

	return cmd
}

func loadConfig(userSpecifiedConfigs []string) (configuration.PoolConfig, error) {
	config := configuration.Default()
	if _, err := common.LoadConfig(&config, defaultConfigPath, userSpecifiedConfigs, configuration.SizeDecodeHook()); err != nil {
		return config, err
	}
	return config, config.Validate()
}

// newApp loads the configuration and reads the flags shared by all commands.
func newApp(cmd *cobra.Command) (*chunkpoolctl.App, error) {
	userSpecifiedConfigs, err := cmd.Flags().GetStringSlice(CustomConfigLocation)
	if err != nil {
		return nil, err
	}
	if len(userSpecifiedConfigs) == 0 {
		userSpecifiedConfigs = viper.GetStringSlice(CustomConfigLocation)
	}
	config, err := loadConfig(userSpecifiedConfigs)
	if err != nil {
		return nil, err
	}
	dump, err := cmd.Flags().GetBool("dump")
	if err != nil {
		return nil, err
	}
	return chunkpoolctl.New(&chunkpoolctl.Params{Config: config, Dump: dump}), nil
}
