package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/blues/cfe/internal/escrow"
	"github.com/blues/cfe/internal/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// Ledger 基于托管合约的账本
//
// 写操作先用链上快照做本地预检以返回明确的错误，再发送交易并等待上链；
// 同一活动上的顺序由出块顺序保证。平台只持有一个签名账户，
// 调用者必须是该账户（MarkFailed 除外）。
type Ledger struct {
	manager   *Manager
	contract  *Contract
	from      common.Address
	txTimeout time.Duration
	now       func() time.Time
}

var _ escrow.Ledger = (*Ledger)(nil)

// LedgerOption 链账本选项
type LedgerOption func(*Ledger)

// WithClock 替换预检使用的时钟
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.now = now
	}
}

// NewLedger 创建链账本，需要已配置 escrow 合约与私钥
func NewLedger(m *Manager, opts ...LedgerOption) (*Ledger, error) {
	contract, err := m.GetContract(EscrowContractName)
	if err != nil {
		return nil, err
	}
	from := m.SignerAddress()
	if from == (common.Address{}) {
		return nil, fmt.Errorf("chain ledger requires chain.private_key")
	}

	timeout := m.GetConfig().TxTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	l := &Ledger{
		manager:   m,
		contract:  contract,
		from:      from,
		txTimeout: timeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Signer 签名账户
func (l *Ledger) Signer() common.Address {
	return l.from
}

func (l *Ledger) CreateCampaign(ctx context.Context, params escrow.CreateCampaignParams) (*escrow.Receipt, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if params.Creator != l.from {
		return nil, escrow.ErrSignerMismatch
	}

	receipt, events, err := l.transact(ctx, "createCampaign", nil, nil,
		params.Title, params.Description, params.Category,
		params.Target, big.NewInt(int64(params.DurationInDays)), params.IpfsCid)
	if err != nil {
		return nil, err
	}

	for _, ev := range events {
		if ev.Name == escrow.EventCampaignCreated {
			return &escrow.Receipt{
				TxHash:          receipt.TxHash,
				CampaignID:      ev.CampaignID,
				Gross:           new(big.Int),
				RecipientAmount: new(big.Int),
				PlatformFee:     new(big.Int),
				BlockNumber:     receipt.BlockNumber.Uint64(),
			}, nil
		}
	}
	return nil, fmt.Errorf("createCampaign tx %s emitted no CampaignCreated event", receipt.TxHash.Hex())
}

func (l *Ledger) Donate(ctx context.Context, campaignID int64, donor common.Address, amount *big.Int) (*escrow.Receipt, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, escrow.ErrInvalidAmount
	}
	preflight := func() error {
		c, err := l.GetCampaign(ctx, campaignID)
		if err != nil {
			return err
		}
		return escrow.CheckDonate(c.Snapshot(), amount, l.now())
	}
	if err := preflight(); err != nil {
		return nil, err
	}
	if donor != l.from {
		return nil, escrow.ErrSignerMismatch
	}

	receipt, _, err := l.transact(ctx, "donate", amount, preflight, big.NewInt(campaignID))
	if err != nil {
		return nil, err
	}
	return &escrow.Receipt{
		TxHash:          receipt.TxHash,
		CampaignID:      campaignID,
		Gross:           new(big.Int).Set(amount),
		RecipientAmount: new(big.Int),
		PlatformFee:     new(big.Int),
		BlockNumber:     receipt.BlockNumber.Uint64(),
	}, nil
}

func (l *Ledger) MarkFailed(ctx context.Context, campaignID int64, caller common.Address) (*escrow.Receipt, error) {
	var raised *big.Int
	preflight := func() error {
		c, err := l.GetCampaign(ctx, campaignID)
		if err != nil {
			return err
		}
		raised = c.Raised
		return escrow.CheckMarkFailed(c.Snapshot(), l.now())
	}
	if err := preflight(); err != nil {
		return nil, err
	}

	receipt, _, err := l.transact(ctx, "markFailed", nil, preflight, big.NewInt(campaignID))
	if err != nil {
		return nil, err
	}
	logger.With(zap.Int64("campaign_id", campaignID)).Info("campaign marked failed on chain on behalf of %s", caller.Hex())
	return &escrow.Receipt{
		TxHash:          receipt.TxHash,
		CampaignID:      campaignID,
		Gross:           raised,
		RecipientAmount: new(big.Int),
		PlatformFee:     new(big.Int),
		BlockNumber:     receipt.BlockNumber.Uint64(),
	}, nil
}

func (l *Ledger) Withdraw(ctx context.Context, campaignID int64, caller common.Address) (*escrow.Receipt, error) {
	var split escrow.Split
	preflight := func() error {
		c, err := l.GetCampaign(ctx, campaignID)
		if err != nil {
			return err
		}
		split = escrow.SplitFee(c.Raised)
		return escrow.CheckWithdraw(c.Snapshot(), c.Creator, caller, l.now())
	}
	if err := preflight(); err != nil {
		return nil, err
	}
	if caller != l.from {
		return nil, escrow.ErrSignerMismatch
	}

	receipt, events, err := l.transact(ctx, "withdraw", nil, preflight, big.NewInt(campaignID))
	if err != nil {
		return nil, err
	}
	return settlementReceipt(receipt, campaignID, escrow.EventFundsWithdrawn, events, split), nil
}

func (l *Ledger) ClaimRefund(ctx context.Context, campaignID int64, donor common.Address) (*escrow.Receipt, error) {
	var split escrow.Split
	preflight := func() error {
		c, err := l.GetCampaign(ctx, campaignID)
		if err != nil {
			return err
		}
		if err := escrow.CheckRefund(c.Snapshot(), l.now()); err != nil {
			return err
		}
		position, err := l.GetDonation(ctx, campaignID, donor)
		if err != nil {
			return err
		}
		if position.Refunded || position.Total.Sign() == 0 {
			return escrow.ErrNoDonationFound
		}
		split = escrow.SplitFee(position.Total)
		return nil
	}
	if err := preflight(); err != nil {
		return nil, err
	}
	if donor != l.from {
		return nil, escrow.ErrSignerMismatch
	}

	receipt, events, err := l.transact(ctx, "claimRefund", nil, preflight, big.NewInt(campaignID))
	if err != nil {
		return nil, err
	}
	return settlementReceipt(receipt, campaignID, escrow.EventRefundClaimed, events, split), nil
}

func (l *Ledger) GetCampaign(ctx context.Context, campaignID int64) (*escrow.Campaign, error) {
	if campaignID <= 0 {
		return nil, escrow.ErrCampaignNotFound
	}

	var out []interface{}
	if err := l.contract.Bound().Call(&bind.CallOpts{Context: ctx}, &out, "getCampaign", big.NewInt(campaignID)); err != nil {
		return nil, decodeRevert(l.contract.GetABI(), err)
	}
	if len(out) != 12 {
		return nil, fmt.Errorf("getCampaign returned %d values", len(out))
	}

	creator := *abi.ConvertType(out[0], new(common.Address)).(*common.Address)
	if creator == (common.Address{}) {
		return nil, escrow.ErrCampaignNotFound
	}

	return &escrow.Campaign{
		ID:          campaignID,
		Creator:     creator,
		Title:       *abi.ConvertType(out[1], new(string)).(*string),
		Description: *abi.ConvertType(out[2], new(string)).(*string),
		Category:    *abi.ConvertType(out[3], new(string)).(*string),
		Target:      *abi.ConvertType(out[4], new(*big.Int)).(**big.Int),
		Raised:      *abi.ConvertType(out[5], new(*big.Int)).(**big.Int),
		DonorCount:  (*abi.ConvertType(out[6], new(*big.Int)).(**big.Int)).Int64(),
		CreatedAt:   unixTime(*abi.ConvertType(out[7], new(*big.Int)).(**big.Int)),
		Deadline:    unixTime(*abi.ConvertType(out[8], new(*big.Int)).(**big.Int)),
		Withdrawn:   *abi.ConvertType(out[9], new(bool)).(*bool),
		Failed:      *abi.ConvertType(out[10], new(bool)).(*bool),
		IpfsCid:     *abi.ConvertType(out[11], new(string)).(*string),
	}, nil
}

// ListCampaigns 合约活动 ID 从 1 开始连续分配
func (l *Ledger) ListCampaigns(ctx context.Context) ([]*escrow.Campaign, error) {
	var out []interface{}
	if err := l.contract.Bound().Call(&bind.CallOpts{Context: ctx}, &out, "campaignCount"); err != nil {
		return nil, decodeRevert(l.contract.GetABI(), err)
	}
	count := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)

	campaigns := make([]*escrow.Campaign, 0, count.Int64())
	for id := int64(1); id <= count.Int64(); id++ {
		c, err := l.GetCampaign(ctx, id)
		if errors.Is(err, escrow.ErrCampaignNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, nil
}

func (l *Ledger) GetDonation(ctx context.Context, campaignID int64, donor common.Address) (*escrow.DonorPosition, error) {
	if _, err := l.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}

	var out []interface{}
	if err := l.contract.Bound().Call(&bind.CallOpts{Context: ctx}, &out, "donationOf", big.NewInt(campaignID), donor); err != nil {
		return nil, decodeRevert(l.contract.GetABI(), err)
	}
	amount := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	refunded := *abi.ConvertType(out[1], new(bool)).(*bool)
	if amount.Sign() == 0 && !refunded {
		return nil, escrow.ErrNoDonationFound
	}

	// 合约只记录累计金额，不记录笔数
	return &escrow.DonorPosition{
		CampaignID: campaignID,
		Donor:      donor,
		Total:      amount,
		Count:      1,
		Refunded:   refunded,
	}, nil
}

// transact 发送交易并等待回执；交易被 revert 时重新预检以给出具体原因
func (l *Ledger) transact(ctx context.Context, method string, value *big.Int, preflight func() error, args ...interface{}) (*types.Receipt, []*escrow.Event, error) {
	opts, err := l.manager.TransactOpts(ctx)
	if err != nil {
		return nil, nil, err
	}
	opts.Value = value

	tx, err := l.contract.Bound().Transact(opts, method, args...)
	if err != nil {
		return nil, nil, decodeRevert(l.contract.GetABI(), err)
	}
	logger.Debug("%s tx %s sent", method, tx.Hash().Hex())

	waitCtx, cancel := context.WithTimeout(ctx, l.txTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, l.manager.GetBackend(), tx)
	if err != nil {
		return nil, nil, escrow.Unavailable(err, "%s tx %s not mined", method, tx.Hash().Hex())
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		if preflight != nil {
			if err := preflight(); err != nil {
				return nil, nil, err
			}
		}
		if err := l.replayRevert(ctx, tx, receipt); err != nil {
			return nil, nil, err
		}
		return nil, nil, &escrow.Error{
			Kind:    escrow.ErrTxReverted.Kind,
			Code:    escrow.ErrTxReverted.Code,
			Message: fmt.Sprintf("%s tx %s reverted in block %s", method, tx.Hash().Hex(), receipt.BlockNumber),
		}
	}

	var events []*escrow.Event
	for _, lg := range receipt.Logs {
		if lg.Address != l.contract.GetAddress() {
			continue
		}
		ev, err := l.contract.DecodeEvent(*lg)
		if err != nil {
			logger.Warn("failed to decode log %d of tx %s: %v", lg.Index, tx.Hash().Hex(), err)
			continue
		}
		if ev != nil {
			events = append(events, ev)
		}
	}
	return receipt, events, nil
}

// replayRevert 在回执所在区块重放交易，取回 revert 原因；无法识别时返回 nil
func (l *Ledger) replayRevert(ctx context.Context, tx *types.Transaction, receipt *types.Receipt) error {
	_, err := l.manager.GetBackend().CallContract(ctx, ethereum.CallMsg{
		From:  l.from,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}, receipt.BlockNumber)
	if err == nil {
		return nil
	}

	decoded := decodeRevert(l.contract.GetABI(), err)
	if k := escrow.KindOf(decoded); k == escrow.ExternalUnavailable || k == escrow.KindUnknown {
		logger.Warn("replay of tx %s failed without a known reason: %v", tx.Hash().Hex(), err)
		return nil
	}
	return decoded
}

// settlementReceipt 优先使用合约事件中的金额，缺失时使用预检拆分
func settlementReceipt(receipt *types.Receipt, campaignID int64, name escrow.EventName, events []*escrow.Event, split escrow.Split) *escrow.Receipt {
	r := &escrow.Receipt{
		TxHash:          receipt.TxHash,
		CampaignID:      campaignID,
		Gross:           split.Gross,
		RecipientAmount: split.Share,
		PlatformFee:     split.Fee,
		BlockNumber:     receipt.BlockNumber.Uint64(),
	}
	for _, ev := range events {
		if ev.Name == name && ev.CampaignID == campaignID && ev.Amount != nil && ev.PlatformFee != nil {
			r.RecipientAmount = ev.Amount
			r.PlatformFee = ev.PlatformFee
			r.Gross = ev.Gross()
		}
	}
	return r
}

func unixTime(v *big.Int) time.Time {
	if v == nil {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}
