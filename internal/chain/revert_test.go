package chain

import (
	"errors"
	"testing"

	"github.com/blues/cfe/internal/escrow"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rpcError 模拟节点返回的带 data 的错误
type rpcError struct {
	msg  string
	data interface{}
}

func (e *rpcError) Error() string          { return e.msg }
func (e *rpcError) ErrorData() interface{} { return e.data }

func TestDecodeRevertCustomError(t *testing.T) {
	parsed, err := EscrowABI()
	require.NoError(t, err)

	selector := parsed.Errors["NotCreator"].ID.Bytes()[:4]
	err = decodeRevert(parsed, &rpcError{msg: "execution reverted", data: hexutil.Encode(selector)})
	assert.ErrorIs(t, err, escrow.ErrNotCreator)
	assert.Equal(t, escrow.NotAuthorized, escrow.KindOf(err))
}

func TestDecodeRevertReasonString(t *testing.T) {
	parsed, err := EscrowABI()
	require.NoError(t, err)

	stringType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: stringType}}.Pack("GoalReached")
	require.NoError(t, err)
	data := append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...)

	err = decodeRevert(parsed, &rpcError{msg: "execution reverted", data: data})
	assert.ErrorIs(t, err, escrow.ErrGoalReached)
}

func TestDecodeRevertFallbacks(t *testing.T) {
	parsed, err := EscrowABI()
	require.NoError(t, err)

	assert.NoError(t, decodeRevert(parsed, nil))

	err = decodeRevert(parsed, errors.New("execution reverted: AlreadyWithdrawn"))
	assert.ErrorIs(t, err, escrow.ErrAlreadyWithdrawn)

	err = decodeRevert(parsed, errors.New("execution reverted: GoalNotReached"))
	assert.ErrorIs(t, err, escrow.ErrGoalNotReached)

	cause := errors.New("connection refused")
	err = decodeRevert(parsed, cause)
	assert.Equal(t, escrow.ExternalUnavailable, escrow.KindOf(err))
	assert.ErrorIs(t, err, cause)
}
