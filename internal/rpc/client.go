package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/goran-ethernal/ChainMapper/internal/logger"
	"github.com/goran-ethernal/ChainMapper/pkg/chain"
	"github.com/goran-ethernal/ChainMapper/pkg/config"
	"golang.org/x/sync/errgroup"
)

// Compile-time check to ensure Client implements chain.DataSource.
var _ chain.DataSource = (*Client)(nil)

const (
	maxHeaderBatch  = 100
	blockFetchLimit = 8
	specVersion     = "evm"
)

// Client is the JSON-RPC backed chain data source.
type Client struct {
	eth    *ethclient.Client
	rpc    *rpc.Client
	cfg     config.NetworkConfig
	chainID *big.Int
	signer  types.Signer
	log     *logger.Logger
}

// NewClient dials the configured endpoint and resolves the chain id.
func NewClient(ctx context.Context, cfg config.NetworkConfig, log *logger.Logger) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.RPCURL, err)
	}

	c, err := newClient(ctx, rpcClient, cfg, log)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}

	return c, nil
}

func newClient(ctx context.Context, rpcClient *rpc.Client, cfg config.NetworkConfig, log *logger.Logger) (*Client, error) {
	c := &Client{
		eth: ethclient.NewClient(rpcClient),
		rpc: rpcClient,
		cfg: cfg,
		log: log.WithComponent("rpc"),
	}

	var chainID *big.Int
	err := c.call(ctx, "eth_chainId", func() error {
		var err error
		chainID, err = c.eth.ChainID(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}

	if cfg.ChainID != 0 && chainID.Uint64() != cfg.ChainID {
		return nil, fmt.Errorf("chain id mismatch: endpoint reports %s, configured %d", chainID, cfg.ChainID)
	}

	c.chainID = chainID
	c.signer = types.LatestSignerForChainID(chainID)
	c.log.Infof("connected to chain %s (finality: %s)", chainID, cfg.Finality)

	return c, nil
}

// ChainID returns the chain id reported by the endpoint.
func (c *Client) ChainID() uint64 {
	return c.chainID.Uint64()
}

// Close closes the RPC client connection.
func (c *Client) Close() {
	c.eth.Close()
}

// GetFinalizedHeight returns the height considered final under the configured finality mode.
func (c *Client) GetFinalizedHeight(ctx context.Context) (uint64, error) {
	var (
		header *types.Header
		tag    *big.Int
	)

	switch c.cfg.Finality {
	case config.FinalitySafe:
		tag = big.NewInt(int64(rpc.SafeBlockNumber))
	case config.FinalityLatest:
		tag = nil
	default:
		tag = big.NewInt(int64(rpc.FinalizedBlockNumber))
	}

	err := c.call(ctx, "eth_getBlockByNumber", func() error {
		var err error
		header, err = c.eth.HeaderByNumber(ctx, tag)
		return err
	})
	if err != nil {
		return 0, err
	}

	height := header.Number.Uint64()
	if c.cfg.Finality == config.FinalityLatest {
		if height < c.cfg.FinalizedLag {
			return 0, nil
		}
		height -= c.cfg.FinalizedLag
	}

	return height, nil
}

// GetBlockByHeight fetches one block with its transactions and logs.
func (c *Client) GetBlockByHeight(ctx context.Context, h uint64) (*chain.Block, error) {
	raw, err := c.fetchBlock(ctx, h)
	if err != nil {
		return nil, err
	}

	logs, err := c.fetchLogs(ctx, h, h)
	if err != nil {
		return nil, err
	}

	return c.toBlock(raw, logs[h]), nil
}

// GetBlocksInRange fetches [lo, hi]. Bodies are fetched concurrently and logs with a single
// eth_getLogs call that is split when the node rejects the result size.
func (c *Client) GetBlocksInRange(ctx context.Context, lo, hi uint64) ([]*chain.Block, error) {
	if hi < lo {
		return nil, fmt.Errorf("invalid range [%d, %d]", lo, hi)
	}

	raws := make([]*types.Block, hi-lo+1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(blockFetchLimit)
	for h := lo; h <= hi; h++ {
		g.Go(func() error {
			b, err := c.fetchBlock(gctx, h)
			if err != nil {
				return err
			}
			raws[h-lo] = b
			return nil
		})
	}

	var logs map[uint64][]*chain.Log
	g.Go(func() error {
		var err error
		logs, err = c.fetchLogs(gctx, lo, hi)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	blocks := make([]*chain.Block, len(raws))
	for i, raw := range raws {
		blocks[i] = c.toBlock(raw, logs[raw.NumberU64()])
	}

	return blocks, nil
}

// GetHeaders returns the canonical headers at the given heights using batched calls.
func (c *Client) GetHeaders(ctx context.Context, heights []uint64) ([]chain.Header, error) {
	out := make([]chain.Header, 0, len(heights))

	for i := 0; i < len(heights); i += maxHeaderBatch {
		end := min(i+maxHeaderBatch, len(heights))
		chunk := heights[i:end]

		results := make([]*types.Header, len(chunk))
		err := c.call(ctx, "eth_getBlockByNumber_batch", func() error {
			batch := make([]rpc.BatchElem, len(chunk))
			for j, h := range chunk {
				results[j] = nil
				batch[j] = rpc.BatchElem{
					Method: "eth_getBlockByNumber",
					Args:   []any{toBlockNumArg(h), false},
					Result: &results[j],
				}
			}

			if err := c.rpc.BatchCallContext(ctx, batch); err != nil {
				return err
			}
			for _, elem := range batch {
				if elem.Error != nil {
					return elem.Error
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		for j, header := range results {
			if header == nil {
				return nil, fmt.Errorf("header %d: %w", chunk[j], chain.ErrBlockNotFound)
			}
			out = append(out, chain.Header{
				Height:     header.Number.Uint64(),
				Hash:       header.Hash(),
				ParentHash: header.ParentHash,
			})
		}
	}

	return out, nil
}

func (c *Client) fetchBlock(ctx context.Context, h uint64) (*types.Block, error) {
	var block *types.Block
	err := c.call(ctx, "eth_getBlockByNumber", func() error {
		var err error
		block, err = c.eth.BlockByNumber(ctx, new(big.Int).SetUint64(h))
		return err
	})
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("block %d: %w", h, chain.ErrBlockNotFound)
		}
		return nil, err
	}
	return block, nil
}

// fetchLogs returns all logs in [lo, hi] grouped by block height.
func (c *Client) fetchLogs(ctx context.Context, lo, hi uint64) (map[uint64][]*chain.Log, error) {
	var raw []types.Log
	err := c.call(ctx, "eth_getLogs", func() error {
		var err error
		raw, err = c.eth.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(lo),
			ToBlock:   new(big.Int).SetUint64(hi),
		})
		return err
	})
	if err != nil {
		if classify(err) != classResultTooLarge || lo == hi {
			return nil, err
		}

		mid := splitPoint(err, lo, hi)
		c.log.Debugf("splitting log query [%d, %d] at %d", lo, hi, mid)

		left, err := c.fetchLogs(ctx, lo, mid)
		if err != nil {
			return nil, err
		}
		right, err := c.fetchLogs(ctx, mid+1, hi)
		if err != nil {
			return nil, err
		}
		for h, logs := range right {
			left[h] = logs
		}
		return left, nil
	}

	grouped := make(map[uint64][]*chain.Log)
	for i := range raw {
		l := raw[i]
		if l.Removed {
			continue
		}
		grouped[l.BlockNumber] = append(grouped[l.BlockNumber], &chain.Log{
			Address: l.Address,
			Topics:  l.Topics,
			Data:    l.Data,
			TxHash:  l.TxHash,
			TxIndex: l.TxIndex,
			Index:   l.Index,
		})
	}
	for _, logs := range grouped {
		sort.Slice(logs, func(i, j int) bool { return logs[i].Index < logs[j].Index })
	}

	return grouped, nil
}

func (c *Client) toBlock(raw *types.Block, logs []*chain.Log) *chain.Block {
	txs := make([]*chain.Transaction, 0, len(raw.Transactions()))
	for i, tx := range raw.Transactions() {
		var from ethcommon.Address
		if sender, err := types.Sender(c.signer, tx); err == nil {
			from = sender
		}

		txs = append(txs, &chain.Transaction{
			Hash:  tx.Hash(),
			Index: uint(i),
			From:  from,
			To:    tx.To(),
			Input: tx.Data(),
			Value: tx.Value(),
		})
	}

	if logs == nil {
		logs = []*chain.Log{}
	}

	return &chain.Block{
		Height:       raw.NumberU64(),
		Hash:         raw.Hash(),
		ParentHash:   raw.ParentHash(),
		Timestamp:    raw.Time(),
		SpecVersion:  specVersion,
		Transactions: txs,
		Logs:         logs,
	}
}

// call runs fn with the configured retry policy and records request metrics.
func (c *Client) call(ctx context.Context, method string, fn func() error) error {
	start := time.Now()
	err := retryWithBackoff(ctx, c.cfg.Retry, method, fn)
	observeCall(method, start, err)
	return err
}

func errorType(err error) string {
	if chain.IsTransient(err) {
		return classTransient.String()
	}
	return classify(err).String()
}

// toBlockNumArg converts a block number to hex format.
func toBlockNumArg(blockNum uint64) string {
	return fmt.Sprintf("0x%x", blockNum)
}
