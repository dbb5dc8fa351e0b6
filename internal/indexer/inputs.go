package indexer

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goran-ethernal/ChainMapper/pkg/chain"
)

// blockInputs holds the handler inputs of one block. Values are plain maps so handlers see the
// same shape whether they run in the sandbox or are compared in tests.
type blockInputs struct {
	block        map[string]any
	transactions []map[string]any
	logs         []map[string]any
}

func newBlockInputs(b *chain.Block) *blockInputs {
	in := &blockInputs{
		transactions: make([]map[string]any, len(b.Transactions)),
		logs:         make([]map[string]any, len(b.Logs)),
	}

	for i, tx := range b.Transactions {
		in.transactions[i] = txInput(b, tx)
	}
	for i, l := range b.Logs {
		in.logs[i] = logInput(b, l)
	}

	txs := make([]any, len(in.transactions))
	for i, tx := range in.transactions {
		txs[i] = tx
	}
	logs := make([]any, len(in.logs))
	for i, l := range in.logs {
		logs[i] = l
	}

	in.block = map[string]any{
		"number":       b.Height,
		"hash":         b.Hash.Hex(),
		"parentHash":   b.ParentHash.Hex(),
		"timestamp":    b.Timestamp,
		"specVersion":  b.SpecVersion,
		"transactions": txs,
		"logs":         logs,
	}

	return in
}

func txInput(b *chain.Block, tx *chain.Transaction) map[string]any {
	var to any
	if tx.To != nil {
		to = tx.To.Hex()
	}
	value := "0"
	if tx.Value != nil {
		value = tx.Value.String()
	}

	return map[string]any{
		"hash":        tx.Hash.Hex(),
		"index":       tx.Index,
		"from":        tx.From.Hex(),
		"to":          to,
		"input":       hexutil.Encode(tx.Input),
		"value":       value,
		"blockNumber": b.Height,
		"blockHash":   b.Hash.Hex(),
	}
}

func logInput(b *chain.Block, l *chain.Log) map[string]any {
	topics := make([]any, len(l.Topics))
	for i, t := range l.Topics {
		topics[i] = t.Hex()
	}

	return map[string]any{
		"address":          l.Address.Hex(),
		"topics":           topics,
		"data":             hexutil.Encode(l.Data),
		"transactionHash":  l.TxHash.Hex(),
		"transactionIndex": l.TxIndex,
		"logIndex":         l.Index,
		"blockNumber":      b.Height,
		"blockHash":        b.Hash.Hex(),
	}
}
