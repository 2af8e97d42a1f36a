// Command mycochat runs the mushroom identification assistant, either as a web server or as a one-shot
// terminal question.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const rootLongDesc string = `Mycochat is a chat assistant for identifying mushrooms.

Run it using:
  mycochat serve                 Run the web interface
  mycochat ask "question"        Ask a single question in the terminal
  mycochat ask --image cap.jpg   Identify a mushroom from a photo`

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mycochat",
		Short:         "Mycochat - mushroom identification assistant",
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	cmd.PersistentFlags().StringP("config", "c", "", "Path to the config file (default: <user config dir>/mycochat/config.yaml)")
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAskCmd())

	return cmd
}

// commandConfig loads the config named by the --config flag, or the default location.
func commandConfig(cmd *cobra.Command) (config, bool, error) {
	debug, err := cmd.Flags().GetBool("debug")
	if err != nil {
		return config{}, false, fmt.Errorf("could not get debug flag: %w", err)
	}

	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config{}, false, fmt.Errorf("could not get config flag: %w", err)
	}
	if path == "" {
		dir, err := defaultConfigDir()
		if err != nil {
			return config{}, false, err
		}
		path = filepath.Join(dir, "config.yaml")
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return config{}, false, err
	}
	return cfg, debug, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
