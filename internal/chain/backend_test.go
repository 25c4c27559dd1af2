package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/blues/cfe/internal/config"
	"github.com/blues/cfe/internal/database"
	"github.com/blues/cfe/internal/escrow"
	"github.com/blues/cfe/internal/logic"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

var (
	escrowAddress = common.HexToAddress("0xe5c0000000000000000000000000000000000001")
	platform      = common.HexToAddress("0x00000000000000000000000000000000000000fe")
)

const testChainID = 1337

// simBackend 用结算逻辑模拟托管合约的链后端
type simBackend struct {
	mu       sync.Mutex
	abi      abi.ABI
	ledger   *logic.SettlementLogic
	block    uint64
	logIndex uint
	nonces   map[common.Address]uint64
	receipts map[common.Hash]*types.Receipt
	logs     []types.Log

	forceRevert bool  // 下一笔及之后的交易全部失败，不执行
	replayErr   error // 重放写方法时返回的错误
}

var _ Backend = (*simBackend)(nil)

func newSimBackend(t *testing.T, now func() time.Time) *simBackend {
	t.Helper()
	db, err := database.Init(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	parsed, err := EscrowABI()
	require.NoError(t, err)

	return &simBackend{
		abi:      parsed,
		ledger:   logic.NewSettlementLogic(db, platform, logic.WithClock(now)),
		block:    100,
		nonces:   make(map[common.Address]uint64),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (b *simBackend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

func (b *simBackend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

func (b *simBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &types.Header{Number: new(big.Int).SetUint64(b.block)}, nil
}

func (b *simBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonces[account], nil
}

func (b *simBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *simBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *simBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 200_000, nil
}

func (b *simBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.receipts[txHash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (b *simBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []types.Log
	for _, lg := range b.logs {
		if q.FromBlock != nil && lg.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && lg.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		out = append(out, lg)
	}
	return out, nil
}

func (b *simBackend) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("subscriptions not supported")
}

func (b *simBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	method, err := b.abi.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	if !method.IsConstant() {
		b.mu.Lock()
		defer b.mu.Unlock()
		return nil, b.replayErr
	}

	switch method.Name {
	case "campaignCount":
		list, err := b.ledger.ListCampaigns(ctx)
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(big.NewInt(int64(len(list))))
	case "platformAddress":
		return method.Outputs.Pack(b.ledger.PlatformAddress())
	case "getCampaign":
		c, err := b.ledger.GetCampaign(ctx, args[0].(*big.Int).Int64())
		if errors.Is(err, escrow.ErrCampaignNotFound) {
			zero := new(big.Int)
			return method.Outputs.Pack(common.Address{}, "", "", "", zero, zero, zero, zero, zero, false, false, "")
		}
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(c.Creator, c.Title, c.Description, c.Category, c.Target, c.Raised,
			big.NewInt(c.DonorCount), big.NewInt(c.CreatedAt.Unix()), big.NewInt(c.Deadline.Unix()),
			c.Withdrawn, c.Failed, c.IpfsCid)
	case "donationOf":
		pos, err := b.ledger.GetDonation(ctx, args[0].(*big.Int).Int64(), args[1].(common.Address))
		if err != nil {
			return method.Outputs.Pack(new(big.Int), false)
		}
		return method.Outputs.Pack(pos.Total, pos.Refunded)
	}
	return nil, errors.New("unsupported call " + method.Name)
}

func (b *simBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return err
	}
	method, err := b.abi.MethodById(tx.Data()[:4])
	if err != nil {
		return err
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		return err
	}

	var (
		logs    []*types.Log
		execErr error
	)

	b.mu.Lock()
	forced := b.forceRevert
	b.mu.Unlock()

	if forced {
		execErr = errors.New("forced revert")
	} else {
		switch method.Name {
		case "createCampaign":
			var r *escrow.Receipt
			r, execErr = b.ledger.CreateCampaign(ctx, escrow.CreateCampaignParams{
				Creator:        from,
				Title:          args[0].(string),
				Description:    args[1].(string),
				Category:       args[2].(string),
				Target:         args[3].(*big.Int),
				DurationInDays: int(args[4].(*big.Int).Int64()),
				IpfsCid:        args[5].(string),
			})
			if execErr == nil {
				c, _ := b.ledger.GetCampaign(ctx, r.CampaignID)
				logs = append(logs, b.eventLog(escrow.EventCampaignCreated, r.CampaignID, from,
					c.Target, big.NewInt(c.Deadline.Unix()), c.IpfsCid))
			}
		case "donate":
			id := args[0].(*big.Int).Int64()
			_, execErr = b.ledger.Donate(ctx, id, from, tx.Value())
			if execErr == nil {
				logs = append(logs, b.eventLog(escrow.EventDonationReceived, id, from, tx.Value()))
			}
		case "markFailed":
			id := args[0].(*big.Int).Int64()
			_, execErr = b.ledger.MarkFailed(ctx, id, from)
			if execErr == nil {
				logs = append(logs, b.eventLog(escrow.EventCampaignFailed, id, from))
			}
		case "withdraw":
			id := args[0].(*big.Int).Int64()
			var r *escrow.Receipt
			r, execErr = b.ledger.Withdraw(ctx, id, from)
			if execErr == nil {
				logs = append(logs, b.eventLog(escrow.EventFundsWithdrawn, id, from, r.RecipientAmount, r.PlatformFee))
			}
		case "claimRefund":
			id := args[0].(*big.Int).Int64()
			var r *escrow.Receipt
			r, execErr = b.ledger.ClaimRefund(ctx, id, from)
			if execErr == nil {
				logs = append(logs, b.eventLog(escrow.EventRefundClaimed, id, from, r.RecipientAmount, r.PlatformFee))
			}
		default:
			return errors.New("unsupported transaction " + method.Name)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.block++
	b.nonces[from]++

	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(b.block),
	}
	if execErr != nil {
		receipt.Status = types.ReceiptStatusFailed
		logs = nil
	}
	for _, lg := range logs {
		lg.TxHash = tx.Hash()
		lg.BlockNumber = b.block
		lg.Index = b.logIndex
		b.logIndex++
		b.logs = append(b.logs, *lg)
	}
	receipt.Logs = logs
	b.receipts[tx.Hash()] = receipt
	return nil
}

// eventLog 按 ABI 构造托管合约日志，前两个字段为 campaignId 与地址索引
func (b *simBackend) eventLog(name escrow.EventName, campaignID int64, account common.Address, data ...interface{}) *types.Log {
	event := b.abi.Events[string(name)]
	packed, err := event.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		panic(err)
	}
	return &types.Log{
		Address: escrowAddress,
		Topics: []common.Hash{
			event.ID,
			common.BigToHash(big.NewInt(campaignID)),
			common.BytesToHash(account.Bytes()),
		},
		Data: packed,
	}
}

func newTestManager(t *testing.T, backend Backend) (*Manager, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	m, err := NewManagerWithBackend(config.ChainConfig{
		ChainType:  "ethereum",
		ChainId:    testChainID,
		PrivateKey: hex.EncodeToString(crypto.FromECDSA(key)),
		TxTimeout:  5 * time.Second,
		Contracts: map[string]config.ContractConfig{
			EscrowContractName: {Address: escrowAddress.Hex(), Enabled: true, BlockNum: 100},
			"legacy":           {Address: "0x1", Enabled: false},
		},
	}, backend)
	require.NoError(t, err)
	return m, crypto.PubkeyToAddress(key.PublicKey)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}
