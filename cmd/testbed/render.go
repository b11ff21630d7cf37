package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/harunnryd/testbed/internal/datastore"
	"github.com/harunnryd/testbed/internal/materializer"
	"github.com/harunnryd/testbed/internal/pathutil"

	"github.com/spf13/cobra"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render service configs without starting anything",
	Long: `Render every service config, the Procfile and the .env file into a directory
for a given datastore URI. Nothing is started; use it to inspect what a run
would hand to the services.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outDir, err := pathutil.Expand(mustGetString(cmd, "out"))
		if err != nil {
			return err
		}
		if outDir == "" {
			return fmt.Errorf("--out is required")
		}
		outDir, err = filepath.Abs(outDir)
		if err != nil {
			return err
		}

		handle, err := datastore.ParseURI(mustGetString(cmd, "datastore-uri"))
		if err != nil {
			return err
		}

		written, err := renderInto(outDir, handle)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Rendered %d files into %s (%d changed)\n",
			len(materializer.Topology)+2, outDir, written)
		return nil
	},
}

func renderInto(outDir string, handle *datastore.Handle) (int, error) {
	layout := materializer.Layout{RootPath: outDir, KeyDir: filepath.Join(outDir, "keys")}
	if err := os.MkdirAll(layout.KeyDir, 0700); err != nil {
		return 0, fmt.Errorf("create key directory: %w", err)
	}

	policy, err := materializer.PolicyFromConfig(cfg)
	if err != nil {
		return 0, err
	}
	bundle, err := materializer.Render(layout, handle, policy)
	if err != nil {
		return 0, err
	}
	if err := materializer.Verify(bundle, handle, layout); err != nil {
		return 0, err
	}
	return materializer.Write(bundle)
}

func init() {
	rootCmd.AddCommand(renderCmd)
	renderCmd.Flags().String("datastore-uri", "postgresql://hab@127.0.0.1:5432/test", "datastore connection URI to render against")
	renderCmd.Flags().String("out", "", "directory to render into")
}
