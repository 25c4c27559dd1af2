package chain

import (
	"bytes"
	"errors"
	"strings"

	"github.com/blues/cfe/internal/escrow"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// revertCodes 合约 revert 可能携带的错误码，按匹配顺序排列
var revertCodes = []string{
	"InvalidGoal", "InvalidDuration", "InvalidAmount",
	"NotCreator",
	"CampaignNotActive", "NotExpiredYet", "GoalReached", "AlreadySettled",
	"GoalNotReached", "AlreadyWithdrawn", "CampaignNotFailed",
	"CampaignNotFound", "NoDonationFound",
}

// decodeRevert 将合约调用错误还原为领域错误
//
// 依次尝试自定义 error 选择器、Error(string) 原因和错误文本；都无法识别时视为链不可用。
func decodeRevert(parsed abi.ABI, err error) error {
	if err == nil {
		return nil
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if data := revertData(dataErr.ErrorData()); len(data) >= 4 {
			for name, e := range parsed.Errors {
				if bytes.Equal(e.ID[:4], data[:4]) {
					if de, ok := escrow.ByCode(name); ok {
						return de
					}
				}
			}
			if reason, uerr := abi.UnpackRevert(data); uerr == nil {
				if de := matchReason(reason); de != nil {
					return de
				}
			}
		}
	}

	if de := matchReason(err.Error()); de != nil {
		return de
	}
	return escrow.Unavailable(err, "escrow contract call failed")
}

func revertData(v interface{}) []byte {
	switch d := v.(type) {
	case string:
		data, err := hexutil.Decode(d)
		if err != nil {
			return nil
		}
		return data
	case []byte:
		return d
	default:
		return nil
	}
}

func matchReason(reason string) error {
	for _, code := range revertCodes {
		if strings.Contains(reason, code) {
			if de, ok := escrow.ByCode(code); ok {
				return de
			}
		}
	}
	return nil
}
