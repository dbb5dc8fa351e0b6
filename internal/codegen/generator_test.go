package codegen

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainMapper/internal/chaintest"
	"github.com/goran-ethernal/ChainMapper/internal/dynamicds"
	"github.com/goran-ethernal/ChainMapper/internal/indexer"
	"github.com/goran-ethernal/ChainMapper/internal/logger"
	"github.com/goran-ethernal/ChainMapper/internal/sandbox"
	internalstore "github.com/goran-ethernal/ChainMapper/internal/store"
	"github.com/goran-ethernal/ChainMapper/pkg/chain"
	"github.com/goran-ethernal/ChainMapper/pkg/config"
	"github.com/goran-ethernal/ChainMapper/pkg/project"
	"github.com/goran-ethernal/ChainMapper/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tokenAddress = "0x00000000000000000000000000000000000000aa"

var erc20Events = []string{
	"Transfer(address indexed from, address indexed to, uint256 value)",
	"Approval(address indexed owner, address indexed spender, uint256 value)",
}

func TestGenerator_Validate(t *testing.T) {
	tests := []struct {
		name    string
		gen     *Generator
		wantErr bool
	}{
		{
			name: "valid configuration",
			gen:  &Generator{Name: "MyToken", Events: erc20Events[:1]},
		},
		{
			name:    "missing name",
			gen:     &Generator{Events: erc20Events[:1]},
			wantErr: true,
		},
		{
			name:    "missing events",
			gen:     &Generator{Name: "MyToken"},
			wantErr: true,
		},
		{
			name:    "lowercase name",
			gen:     &Generator{Name: "myToken", Events: erc20Events[:1]},
			wantErr: true,
		},
		{
			name:    "invalid address",
			gen:     &Generator{Name: "MyToken", Events: erc20Events[:1], Address: "0x1234"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.gen.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGenerator_ParseEvents(t *testing.T) {
	gen := &Generator{Events: append(erc20Events, "Transfer(address,address,uint256)")}
	_, err := gen.parseEvents()
	require.ErrorContains(t, err, "duplicate event name: Transfer")

	gen = &Generator{Events: []string{"Transfer(address,,uint256)"}}
	_, err = gen.parseEvents()
	require.ErrorContains(t, err, "#1")

	gen = &Generator{Events: erc20Events}
	events, err := gen.parseEvents()
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestGenerator_GenerateDryRun(t *testing.T) {
	outputDir := filepath.Join(t.TempDir(), "token")

	gen := &Generator{Name: "Token", Events: erc20Events, OutputDir: outputDir, DryRun: true}
	files, err := gen.Generate()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(outputDir, "project.yaml"), files.ManifestFile)

	_, err = os.Stat(outputDir)
	require.True(t, os.IsNotExist(err))
}

func TestGenerator_GenerateWithoutForce(t *testing.T) {
	outputDir := t.TempDir()

	gen := &Generator{Name: "Token", Events: erc20Events, OutputDir: outputDir}
	_, err := gen.Generate()
	require.ErrorContains(t, err, "already exists")

	gen.Force = true
	_, err = gen.Generate()
	require.NoError(t, err)
}

func TestGenerator_DefaultOutputDir(t *testing.T) {
	gen := &Generator{Name: "Erc20Token", Events: erc20Events, DryRun: true}
	_, err := gen.Generate()
	require.NoError(t, err)
	require.Equal(t, filepath.Join("projects", "erc20-token"), filepath.Clean(gen.OutputDir))
}

func TestGenerator_Manifest(t *testing.T) {
	outputDir := filepath.Join(t.TempDir(), "token")

	gen := &Generator{
		Name:       "Token",
		Events:     erc20Events,
		Address:    tokenAddress,
		ChainID:    "14",
		StartBlock: 42,
		OutputDir:  outputDir,
	}
	files, err := gen.Generate()
	require.NoError(t, err)

	p, err := project.Load(outputDir)
	require.NoError(t, err)

	require.Equal(t, "token", p.Manifest.Name)
	require.Equal(t, "14", p.Manifest.Network.ChainID)
	require.Len(t, p.Manifest.DataSources, 1)

	ds := p.Manifest.DataSources[0]
	require.Equal(t, "token", ds.Name)
	require.EqualValues(t, 42, ds.StartBlock)
	require.Equal(t, tokenAddress, ds.Options.Address)
	require.Len(t, ds.Mapping.Handlers, 2)
	require.Equal(t, "handleTransfer", ds.Mapping.Handlers[0].Handler)
	require.Equal(t, project.KindLogHandler, ds.Mapping.Handlers[0].Kind)

	readme, err := os.ReadFile(files.ReadmeFile)
	require.NoError(t, err)
	require.Contains(t, string(readme), "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
}

func TestGenerator_MappingDecodesLogs(t *testing.T) {
	outputDir := filepath.Join(t.TempDir(), "swap")

	gen := &Generator{
		Name: "Pool",
		Events: []string{
			"Swap(address indexed sender, bool exact, uint32 fee, uint256 amount, string memo)",
		},
		Address:   tokenAddress,
		OutputDir: outputDir,
	}
	_, err := gen.Generate()
	require.NoError(t, err)

	p, err := project.Load(outputDir)
	require.NoError(t, err)

	sender := common.HexToAddress("0x00000000000000000000000000000000000b0b00")
	swap, err := ParseEventSignature(gen.Events[0])
	require.NoError(t, err)

	var data []byte
	data = append(data, common.BigToHash(common.Big1).Bytes()...)
	data = append(data, common.BigToHash(common.Big3).Bytes()...)
	data = append(data, common.BigToHash(common.Big256).Bytes()...)
	data = append(data, common.BigToHash(common.Big32).Bytes()...)

	fc := chaintest.New(1, chaintest.WithContent(func(h uint64) ([]*chain.Transaction, []*chain.Log) {
		if h != 1 {
			return nil, nil
		}
		return nil, []*chain.Log{{
			Address: common.HexToAddress(tokenAddress),
			Topics:  []common.Hash{swap.Topic0(), common.BytesToHash(sender.Bytes())},
			Data:    data,
			TxHash:  common.Hash{0x01},
		}}
	}))

	log := logger.NewNopLogger()
	sandboxCfg := config.SandboxConfig{}
	sandboxCfg.ApplyDefaults()
	executor, err := sandbox.NewExecutor(sandboxCfg, p, log)
	require.NoError(t, err)

	mgr := indexer.NewManager(dynamicds.New(p.Manifest, log), executor, log)

	block, err := fc.GetBlockByHeight(context.Background(), 1)
	require.NoError(t, err)

	res, err := mgr.Process(context.Background(), block, internalstore.NewOverlay().View(emptyReader{}, 1))
	require.NoError(t, err)
	require.Len(t, res.Mutations, 1)

	m := res.Mutations[0]
	require.Equal(t, "Swap", m.Entity)
	require.Equal(t, common.Hash{0x01}.Hex()+"-0", m.ID)
	require.Equal(t, "0x00000000000000000000000000000000000b0b00", m.Data["sender"])
	require.Equal(t, true, m.Data["exact"])
	require.EqualValues(t, 3, m.Data["fee"])
	require.Equal(t, common.BigToHash(common.Big256).Hex(), m.Data["amount"])
	require.NotContains(t, m.Data, "memo")
}

type emptyReader struct{}

func (emptyReader) Get(context.Context, string, string) (map[string]any, bool, error) {
	return nil, false, nil
}

var _ store.Reader = emptyReader{}
