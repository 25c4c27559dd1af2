package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/blues/cfe/internal/escrow"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubReader struct {
	head  int64
	logs  []types.Log
	err   error
	query ethereum.FilterQuery
}

func (s *stubReader) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &types.Header{Number: big.NewInt(s.head)}, nil
}

func (s *stubReader) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	s.query = q
	return s.logs, s.err
}

func TestGetBatchBlockLogsDropsRemoved(t *testing.T) {
	r := &stubReader{logs: []types.Log{{BlockNumber: 5}, {BlockNumber: 6, Removed: true}, {BlockNumber: 7}}}
	addr := common.HexToAddress("0xe5c0000000000000000000000000000000000001")

	logs, err := GetBatchBlockLogs(context.Background(), r, []common.Address{addr}, 5, 9)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, uint64(7), logs[1].BlockNumber)
	assert.Equal(t, int64(5), r.query.FromBlock.Int64())
	assert.Equal(t, int64(9), r.query.ToBlock.Int64())

	logs, err = GetBatchBlockLogs(context.Background(), r, nil, 5, 9)
	require.NoError(t, err)
	assert.Empty(t, logs)

	_, err = GetBatchBlockLogs(context.Background(), r, []common.Address{addr}, 9, 5)
	assert.Error(t, err)
}

func TestBlockReaderErrorsAreUnavailable(t *testing.T) {
	r := &stubReader{err: errors.New("connection refused")}

	_, err := GetCurrentBlockNumber(context.Background(), r)
	assert.Equal(t, escrow.ExternalUnavailable, escrow.KindOf(err))

	_, err = GetBatchBlockLogs(context.Background(), r, []common.Address{{1}}, 1, 2)
	assert.Equal(t, escrow.ExternalUnavailable, escrow.KindOf(err))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestGetSafeBlockNumber(t *testing.T) {
	r := &stubReader{head: 20}

	safe, err := GetSafeBlockNumber(context.Background(), r, 12)
	require.NoError(t, err)
	assert.Equal(t, int64(8), safe)

	safe, err = GetSafeBlockNumber(context.Background(), r, 25)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), safe)

	safe, err = GetSafeBlockNumber(context.Background(), r, -3)
	require.NoError(t, err)
	assert.Equal(t, int64(20), safe)
}
