package main

import (
	"fmt"
	"os"

	"github.com/goran-ethernal/ChainMapper/internal/codegen"
	"github.com/spf13/cobra"
)

const version = "0.2.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	gen := &codegen.Generator{}

	cmd := &cobra.Command{
		Use:   "indexer-gen",
		Short: "Scaffold a mapping project from event signatures",
		Long: `indexer-gen writes a ready-to-run mapping project from Solidity event signatures:
a project.yaml with one log handler per event, a dist/index.js that decodes every
event into an entity, and a README.`,
		Version: version,
		Example: `  # USDC transfers and approvals on mainnet
  indexer-gen --name ERC20Token \
    --address 0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48 --chain-id 1 --start-block 6082465 \
    --event "Transfer(address indexed from, address indexed to, uint256 value)" \
    --event "Approval(address indexed owner, address indexed spender, uint256 value)"

  # print the files instead of writing them
  indexer-gen --name Pool --event "Swap(address indexed sender, int256 amount0, int256 amount1)" --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := gen.Generate()
			if err != nil {
				return err
			}
			if gen.DryRun {
				fmt.Println("\nDry run complete. No files were created.")
				return nil
			}
			gen.PrintSummary(files)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&gen.Name, "name", "n", "", "project name (required, PascalCase, e.g. 'ERC20Token')")
	f.StringArrayVarP(&gen.Events, "event", "e", nil, "event signature (required, repeatable)")
	f.StringVarP(&gen.Address, "address", "a", "", "contract address the datasource is bound to")
	f.StringVar(&gen.ChainID, "chain-id", "", "chain id written into the manifest")
	f.Uint64Var(&gen.StartBlock, "start-block", 1, "first block the datasource is active at")
	f.StringVarP(&gen.OutputDir, "output", "o", "", "output directory (default: ./projects/<name>)")
	f.BoolVarP(&gen.Force, "force", "f", false, "overwrite existing files")
	f.BoolVar(&gen.DryRun, "dry-run", false, "print what would be generated without writing files")

	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("event")

	return cmd
}
