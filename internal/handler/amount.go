package handler

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/blues/cfe/internal/escrow"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const (
	weiDecimals = 18
	// AccountHeader 调用者地址请求头
	AccountHeader = "X-Account-Address"
)

// FormatEther wei -> ether 字符串，用于展示
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -weiDecimals).String()
}

// ParseAmount 解析金额，wei 优先，其次 ether 小数
func ParseAmount(wei, eth string) (*big.Int, error) {
	wei = strings.TrimSpace(wei)
	eth = strings.TrimSpace(eth)

	switch {
	case wei != "":
		v, ok := new(big.Int).SetString(wei, 10)
		if !ok || v.Sign() < 0 {
			return nil, escrow.ErrInvalidAmount
		}
		return v, nil
	case eth != "":
		d, err := decimal.NewFromString(eth)
		if err != nil || d.IsNegative() {
			return nil, escrow.ErrInvalidAmount
		}
		shifted := d.Shift(weiDecimals)
		if !shifted.Equal(shifted.Truncate(0)) {
			return nil, escrow.ErrInvalidAmount
		}
		return shifted.BigInt(), nil
	default:
		return nil, escrow.ErrInvalidAmount
	}
}

// campaignID 解析路径参数中的活动 ID，非法 ID 视为不存在
func campaignID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("campaign id %q: %w", c.Param("id"), escrow.ErrCampaignNotFound)
	}
	return id, nil
}

// account 读取调用者地址
func account(c *gin.Context) (common.Address, error) {
	return escrow.ParseAddress(c.GetHeader(AccountHeader))
}
