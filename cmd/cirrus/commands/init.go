package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cirrusfs/cirrus/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a configuration file",
	Long: `Write a configuration file with default values.

By default, the configuration file is created at $XDG_CONFIG_HOME/cirrus/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  cirrus init

  # Initialize with custom path
  cirrus init --config /etc/cirrus/config.yaml

  # Force overwrite existing config
  cirrus init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
	}

	cfg := config.GetDefaultConfig()
	if err := config.SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file, in particular storage.root")
	fmt.Println("  2. Start the storage service with: cirrus start")
	return nil
}
