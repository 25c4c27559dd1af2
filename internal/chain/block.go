package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/blues/cfe/internal/escrow"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// BlockReader 区块与日志读取能力，*ethclient.Client 满足该接口
type BlockReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// GetBatchBlockLogs 拉取 [fromBlock, toBlock] 内指定合约的日志
func GetBatchBlockLogs(ctx context.Context, client BlockReader, contractAddresses []common.Address, fromBlock, toBlock int64) ([]types.Log, error) {
	if fromBlock > toBlock {
		return nil, fmt.Errorf("invalid block range %d-%d", fromBlock, toBlock)
	}
	if len(contractAddresses) == 0 {
		return nil, nil
	}

	logs, err := client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: big.NewInt(fromBlock),
		ToBlock:   big.NewInt(toBlock),
		Addresses: contractAddresses,
	})
	if err != nil {
		return nil, escrow.Unavailable(err, "filter logs %d-%d", fromBlock, toBlock)
	}

	// 已被重组移除的日志不处理
	out := logs[:0]
	for _, lg := range logs {
		if !lg.Removed {
			out = append(out, lg)
		}
	}
	return out, nil
}

// GetCurrentBlockNumber 最新区块号
func GetCurrentBlockNumber(ctx context.Context, client BlockReader) (int64, error) {
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, escrow.Unavailable(err, "read latest header")
	}
	if header == nil || header.Number == nil {
		return 0, escrow.Unavailable(fmt.Errorf("empty header"), "read latest header")
	}
	return header.Number.Int64(), nil
}

// GetSafeBlockNumber 最新区块减去确认数，不足时返回 -1
func GetSafeBlockNumber(ctx context.Context, client BlockReader, confirmations int64) (int64, error) {
	head, err := GetCurrentBlockNumber(ctx, client)
	if err != nil {
		return 0, err
	}
	if confirmations < 0 {
		confirmations = 0
	}
	if head < confirmations {
		return -1, nil
	}
	return head - confirmations, nil
}
