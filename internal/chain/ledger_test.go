package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/blues/cfe/internal/escrow"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var stranger = common.HexToAddress("0x5000000000000000000000000000000000000005")

func newTestLedger(t *testing.T) (*Ledger, *simBackend, *fakeClock, common.Address) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	backend := newSimBackend(t, clock.Now)
	m, signer := newTestManager(t, backend)

	l, err := NewLedger(m, WithClock(clock.Now))
	require.NoError(t, err)
	require.Equal(t, signer, l.Signer())
	return l, backend, clock, signer
}

func createCampaign(t *testing.T, l *Ledger, creator common.Address, target *big.Int) int64 {
	t.Helper()
	r, err := l.CreateCampaign(context.Background(), escrow.CreateCampaignParams{
		Creator:        creator,
		Title:          "Clean water",
		Description:    "wells",
		Category:       "community",
		Target:         target,
		DurationInDays: 7,
		IpfsCid:        "bafy-water",
	})
	require.NoError(t, err)
	return r.CampaignID
}

func TestLedgerSuccessfulCampaign(t *testing.T) {
	ctx := context.Background()
	l, backend, _, signer := newTestLedger(t)

	id := createCampaign(t, l, signer, ether(10))
	assert.Equal(t, int64(1), id)

	c, err := l.GetCampaign(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, signer, c.Creator)
	assert.Equal(t, "Clean water", c.Title)
	assert.Equal(t, "bafy-water", c.IpfsCid)
	assert.Equal(t, 0, c.Target.Cmp(ether(10)))

	_, err = l.Donate(ctx, id, signer, ether(10))
	require.NoError(t, err)

	r, err := l.Withdraw(ctx, id, signer)
	require.NoError(t, err)
	assert.Equal(t, 0, r.RecipientAmount.Cmp(new(big.Int).Div(ether(95), big.NewInt(10))))
	assert.Equal(t, 0, r.PlatformFee.Cmp(new(big.Int).Div(ether(5), big.NewInt(10))))
	assert.Equal(t, 0, r.Gross.Cmp(ether(10)))
	assert.NotZero(t, r.BlockNumber)

	c, err = l.GetCampaign(ctx, id)
	require.NoError(t, err)
	assert.True(t, c.Withdrawn)
	assert.Equal(t, int64(1), c.DonorCount)

	_, err = l.Withdraw(ctx, id, signer)
	assert.ErrorIs(t, err, escrow.ErrAlreadyWithdrawn)

	logs, err := backend.FilterLogs(ctx, ethereum.FilterQuery{})
	require.NoError(t, err)
	assert.Len(t, logs, 3)
}

func TestLedgerFailedCampaignRefund(t *testing.T) {
	ctx := context.Background()
	l, _, clock, signer := newTestLedger(t)

	id := createCampaign(t, l, signer, ether(10))
	_, err := l.Donate(ctx, id, signer, ether(3))
	require.NoError(t, err)

	_, err = l.MarkFailed(ctx, id, stranger)
	assert.ErrorIs(t, err, escrow.ErrNotExpiredYet)

	clock.Advance(8 * 24 * time.Hour)
	_, err = l.Donate(ctx, id, signer, ether(1))
	assert.ErrorIs(t, err, escrow.ErrCampaignNotActive)

	_, err = l.ClaimRefund(ctx, id, signer)
	assert.ErrorIs(t, err, escrow.ErrCampaignNotFailed)

	r, err := l.MarkFailed(ctx, id, stranger)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Gross.Cmp(ether(3)))

	pos, err := l.GetDonation(ctx, id, signer)
	require.NoError(t, err)
	assert.Equal(t, 0, pos.Total.Cmp(ether(3)))
	assert.False(t, pos.Refunded)

	r, err = l.ClaimRefund(ctx, id, signer)
	require.NoError(t, err)
	assert.Equal(t, "2850000000000000000", r.RecipientAmount.String())
	assert.Equal(t, "150000000000000000", r.PlatformFee.String())

	_, err = l.ClaimRefund(ctx, id, signer)
	assert.ErrorIs(t, err, escrow.ErrNoDonationFound)
}

func TestLedgerPreflightErrors(t *testing.T) {
	ctx := context.Background()
	l, _, _, signer := newTestLedger(t)

	_, err := l.Donate(ctx, 42, signer, ether(1))
	assert.ErrorIs(t, err, escrow.ErrCampaignNotFound)

	_, err = l.Donate(ctx, 1, signer, big.NewInt(0))
	assert.ErrorIs(t, err, escrow.ErrInvalidAmount)

	_, err = l.CreateCampaign(ctx, escrow.CreateCampaignParams{
		Creator: stranger, Title: "x", Target: ether(1), DurationInDays: 3,
	})
	assert.ErrorIs(t, err, escrow.ErrSignerMismatch)
	assert.Equal(t, escrow.NotAuthorized, escrow.KindOf(err))

	id := createCampaign(t, l, signer, ether(2))

	_, err = l.Donate(ctx, id, stranger, ether(1))
	assert.ErrorIs(t, err, escrow.ErrSignerMismatch)

	_, err = l.Withdraw(ctx, id, stranger)
	assert.ErrorIs(t, err, escrow.ErrNotCreator)

	_, err = l.Withdraw(ctx, id, signer)
	assert.ErrorIs(t, err, escrow.ErrGoalNotReached)

	_, err = l.GetDonation(ctx, id, stranger)
	assert.ErrorIs(t, err, escrow.ErrNoDonationFound)
}

func TestLedgerListCampaigns(t *testing.T) {
	ctx := context.Background()
	l, _, _, signer := newTestLedger(t)

	list, err := l.ListCampaigns(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	createCampaign(t, l, signer, ether(1))
	createCampaign(t, l, signer, ether(2))

	list, err = l.ListCampaigns(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(1), list[0].ID)
	assert.Equal(t, int64(2), list[1].ID)
}

func TestNewLedgerRequiresKeyAndContract(t *testing.T) {
	backend := newSimBackend(t, time.Now)

	m, err := NewManagerWithBackend(testChainConfig(""), backend)
	require.NoError(t, err)
	_, err = NewLedger(m)
	assert.ErrorContains(t, err, "private_key")

	cfg := testChainConfig("")
	cfg.Contracts = nil
	m, err = NewManagerWithBackend(cfg, backend)
	require.NoError(t, err)
	_, err = NewLedger(m)
	assert.ErrorContains(t, err, "not found")
}

func TestLedgerRevertedTransactionIsTyped(t *testing.T) {
	ctx := context.Background()
	l, backend, _, signer := newTestLedger(t)
	id := createCampaign(t, l, signer, ether(10))

	parsed, err := EscrowABI()
	require.NoError(t, err)

	// 预检通过但链上 revert，重放取回自定义错误
	backend.mu.Lock()
	backend.forceRevert = true
	backend.replayErr = &rpcError{msg: "execution reverted", data: hexutil.Encode(parsed.Errors["CampaignNotActive"].ID.Bytes()[:4])}
	backend.mu.Unlock()

	_, err = l.Donate(ctx, id, signer, ether(1))
	assert.ErrorIs(t, err, escrow.ErrCampaignNotActive)

	// 重放也无法给出原因
	backend.mu.Lock()
	backend.replayErr = nil
	backend.mu.Unlock()

	_, err = l.Donate(ctx, id, signer, ether(1))
	assert.ErrorIs(t, err, escrow.ErrTxReverted)
	assert.Equal(t, escrow.InvalidState, escrow.KindOf(err))

	backend.mu.Lock()
	backend.replayErr = errors.New("connection reset by peer")
	backend.mu.Unlock()

	_, err = l.Donate(ctx, id, signer, ether(1))
	assert.ErrorIs(t, err, escrow.ErrTxReverted)

	c, err := l.GetCampaign(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, c.Raised.Sign())
}
