package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/torii"
)

func newServeCmd() *cobra.Command {
	var (
		manifestDir string
		mode        string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve registered tools over MCP on stdin/stdout",
		Long: `Serve loads tool manifests from a directory of *.json files and exposes
them over the Model Context Protocol on stdin/stdout.

The standalone server has no tool handlers, so the default mode is mock:
tools answer with their manifest fixtures. Real execution requires embedding
torii and registering handlers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			execMode := torii.ExecutionMode(mode)
			switch execMode {
			case torii.ModeMock, torii.ModeReal, torii.ModeDryRun:
			default:
				return fmt.Errorf("unknown mode %q", mode)
			}

			gate, err := torii.New(cmd.Context(),
				torii.WithLogger(logger),
				torii.WithVersion(version),
			)
			if err != nil {
				return err
			}
			defer func() { _ = gate.Close(cmd.Context()) }()

			if manifestDir == "" {
				manifestDir = os.Getenv("TORII_MANIFEST_DIR")
			}
			if manifestDir == "" {
				return fmt.Errorf("no manifest directory: set --manifests or TORII_MANIFEST_DIR")
			}
			n, err := loadManifests(gate, manifestDir)
			if err != nil {
				return err
			}
			logger.Info("serving tools over MCP", "tools", n, "mode", execMode)

			return gate.ServeMCP(execMode)
		},
	}

	cmd.Flags().StringVar(&manifestDir, "manifests", "", "directory of tool manifest *.json files")
	cmd.Flags().StringVar(&mode, "mode", string(torii.ModeMock), "execution mode: mock, real, or dry_run")
	return cmd
}

func loadManifests(gate *torii.Torii, dir string) (int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return 0, err
	}
	if len(paths) == 0 {
		return 0, fmt.Errorf("no manifest files in %s", dir)
	}

	for _, path := range paths {
		raw, err := os.ReadFile(path) //nolint:gosec // operator-supplied dir
		if err != nil {
			return 0, err
		}
		var m torii.ToolManifest
		if err := json.Unmarshal(raw, &m); err != nil {
			return 0, fmt.Errorf("%s: %w", path, err)
		}
		if err := gate.RegisterTool(m); err != nil {
			return 0, fmt.Errorf("%s: %w", path, err)
		}
	}
	return len(paths), nil
}
