package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rshade/epsscache/internal/config"
)

const defaultInitPath = "epss.yaml"

// newCacheInitCmd creates the cache init command.
func newCacheInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file with default values",
		Long: `Writes the built-in defaults as YAML so they can be edited. The file is
written to ./epss.yaml unless a path is given.`,
		Example: `  # Create ./epss.yaml
  epss cache init

  # Create the per-user file, overwriting an existing one
  epss cache init ~/.epss/config.yaml --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultInitPath
			if len(args) == 1 {
				path = config.ExpandHome(args[0])
			}
			return initConfigFile(cmd, path, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration file")
	return cmd
}

func initConfigFile(cmd *cobra.Command, path string, force bool) error {
	if !force {
		_, err := os.Stat(path)
		if err == nil {
			return errors.New("configuration file already exists, use --force to overwrite")
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("cannot access config path %s: %w", path, err)
		}
	}

	data, err := config.WriteYAML(config.Default())
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return fmt.Errorf("failed to create config directory: %w", mkErr)
		}
	}
	if writeErr := os.WriteFile(path, data, 0o600); writeErr != nil {
		return fmt.Errorf("failed to save configuration: %w", writeErr)
	}

	cmd.Printf("Configuration initialized at %s\n", path)
	return nil
}
