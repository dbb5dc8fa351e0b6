package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/goran-ethernal/ChainMapper/internal/config"
	"github.com/goran-ethernal/ChainMapper/internal/db"
	"github.com/goran-ethernal/ChainMapper/internal/logger"
	"github.com/goran-ethernal/ChainMapper/internal/poi"
	"github.com/goran-ethernal/ChainMapper/pkg/project"
	"github.com/spf13/cobra"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║           ChainMapper v%s              ║
║   Block Indexing with Proof-of-Index      ║
╚═══════════════════════════════════════════╝
`
)

var (
	configPath   string
	manifestPath string
	workers      int
	poiHeight    uint64
	poiVerify    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "indexer",
	Short: "ChainMapper - block indexing pipeline",
	Long: `ChainMapper indexes blocks up to the finalized height through user mapping handlers,
stores the resulting entities, follows reorgs and keeps a proof-of-index over everything
it has committed.`,
	Version: version,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Index the configured project",
	RunE:  runIndexer,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a project manifest and its mapping files",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := project.Load(manifestPath)
		if err != nil {
			return err
		}

		handlers := 0
		for _, ds := range p.Manifest.DataSources {
			handlers += len(ds.Mapping.Handlers)
		}

		fmt.Printf("✓ %s is valid\n", manifestPath)
		fmt.Printf("  name:        %s\n", p.Manifest.Name)
		fmt.Printf("  datasources: %d (%d handlers)\n", len(p.Manifest.DataSources), handlers)
		fmt.Printf("  templates:   %d\n", len(p.Manifest.Templates))
		fmt.Printf("  start block: %d\n", p.StartHeight())
		return nil
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, err := config.GenerateSchema()
		if err != nil {
			return fmt.Errorf("failed to generate schema: %w", err)
		}
		fmt.Println(string(schema))
		return nil
	},
}

var poiCmd = &cobra.Command{
	Use:   "poi",
	Short: "Print a proof-of-index record with its inclusion proof",
	Long: `Print the proof-of-index record of --height together with an inclusion proof against the
latest root. Without --height the latest record is printed. --verify recomputes every stored
root from the stored digests.`,
	RunE: runPOI,
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	runCmd.Flags().IntVar(&workers, "workers", 0, "number of worker-pool workers (0 = single process, overrides config)")

	validateCmd.Flags().StringVarP(&manifestPath, "manifest", "m", "project.yaml", "path to project manifest")

	poiCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	poiCmd.Flags().Uint64Var(&poiHeight, "height", 0, "height to prove")
	poiCmd.Flags().BoolVar(&poiVerify, "verify", false, "recompute stored roots from stored digests")

	rootCmd.AddCommand(runCmd, validateCmd, schemaCmd, poiCmd)
}

func runPOI(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := db.NewSQLiteDBFromConfig(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	ctx := context.Background()
	ledger := poi.NewLedger(database, logger.NewNopLogger())

	if poiVerify {
		height, ok, err := ledger.Rebuild(ctx)
		if err != nil {
			return fmt.Errorf("failed to rebuild ledger: %w", err)
		}
		if !ok {
			return fmt.Errorf("recorded root of height %d does not match the stored digests", height)
		}
		fmt.Println("✓ every recorded root matches the stored digests")
	}

	var out any
	if cmd.Flags().Changed("height") {
		out, err = ledger.ProofAt(ctx, poiHeight)
	} else {
		var rec *poi.Record
		rec, err = ledger.Last(ctx)
		if rec == nil && err == nil {
			return fmt.Errorf("nothing has been indexed yet")
		}
		out = rec
	}
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
