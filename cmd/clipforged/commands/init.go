package commands

import (
	"fmt"

	"github.com/clipforge/clipforge/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample ClipForge configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/clipforge/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  clipforged init

  # Initialize with custom path
  clipforged init --config /etc/clipforge/config.yaml

  # Force overwrite existing config
  clipforged init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Make sure ffmpeg and ffprobe are on the PATH (or set encoder paths)")
	fmt.Println("  3. Start the server with: clipforged start")
	fmt.Printf("  4. Or specify custom config: clipforged start --config %s\n", configPath)

	return nil
}
