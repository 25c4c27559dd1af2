package chain

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/blues/cfe/internal/config"
	"github.com/blues/cfe/internal/escrow"
	"github.com/blues/cfe/internal/logger"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

//go:embed abi/escrow.json
var escrowABIJSON []byte

// EscrowABI 内置托管合约 ABI
func EscrowABI() (abi.ABI, error) {
	return abi.JSON(bytes.NewReader(escrowABIJSON))
}

// LoadABI 读取 ABI 文件，兼容完整编译输出与纯 ABI 数组；path 为空时返回内置 ABI
func LoadABI(path string) (abi.ABI, error) {
	if path == "" {
		return EscrowABI()
	}

	abiData, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to load ABI from %s: %w", path, err)
	}

	// 首先尝试解析为完整编译输出
	var compiledOutput struct {
		ABI json.RawMessage `json:"abi"`
	}
	if err := json.Unmarshal(abiData, &compiledOutput); err == nil && compiledOutput.ABI != nil {
		parsed, err := abi.JSON(bytes.NewReader(compiledOutput.ABI))
		if err != nil {
			return abi.ABI{}, fmt.Errorf("failed to parse ABI from compiled output: %w", err)
		}
		return parsed, nil
	}

	parsed, err := abi.JSON(bytes.NewReader(abiData))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse ABI: %w", err)
	}
	return parsed, nil
}

// Contract 合约工具类
type Contract struct {
	address  common.Address // 合约地址
	abi      abi.ABI        // 合约ABI
	bound    *bind.BoundContract
	name     string // 合约名称
	blockNum int64  // 合约部署的区块号
	chainId  int64  // 链ID
}

// NewContract 创建合约实例
func NewContract(backend bind.ContractBackend, name string, contractCfg config.ContractConfig, chainId int64) (*Contract, error) {
	parsedABI, err := LoadABI(contractCfg.ABIPath)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(contractCfg.Address) {
		return nil, fmt.Errorf("contract %s has invalid address %q", name, contractCfg.Address)
	}

	contractAddr := common.HexToAddress(contractCfg.Address)
	return &Contract{
		address:  contractAddr,
		abi:      parsedABI,
		bound:    bind.NewBoundContract(contractAddr, parsedABI, backend, backend, backend),
		name:     name,
		blockNum: contractCfg.BlockNum,
		chainId:  chainId,
	}, nil
}

// GetAddress 获取合约地址
func (c *Contract) GetAddress() common.Address {
	return c.address
}

// GetABI 获取合约ABI
func (c *Contract) GetABI() abi.ABI {
	return c.abi
}

// GetName 获取合约名称
func (c *Contract) GetName() string {
	return c.name
}

// GetBlockNum 获取合约部署区块号
func (c *Contract) GetBlockNum() int64 {
	return c.blockNum
}

// GetChainId 获取链ID
func (c *Contract) GetChainId() int64 {
	return c.chainId
}

// Bound 合约绑定，用于调用与发送交易
func (c *Contract) Bound() *bind.BoundContract {
	return c.bound
}

// ParseEvent 将日志解析为通用字段表，用于落库
func (c *Contract) ParseEvent(log types.Log) (map[string]interface{}, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("log %s:%d has no topics", log.TxHash.Hex(), log.Index)
	}

	event, err := c.abi.EventByID(log.Topics[0])
	if err != nil {
		logger.Warn("Unknown event signature: %s in contract %s", log.Topics[0].Hex(), c.name)
		return map[string]interface{}{
			"eventName":   "Unknown",
			"signature":   log.Topics[0].Hex(),
			"contract":    c.name,
			"txHash":      log.TxHash.Hex(),
			"blockNumber": log.BlockNumber,
			"logIndex":    log.Index,
		}, nil
	}

	result := map[string]interface{}{
		"eventName":   event.Name,
		"contract":    c.name,
		"txHash":      log.TxHash.Hex(),
		"blockNumber": log.BlockNumber,
		"logIndex":    log.Index,
	}

	// 索引参数
	var indexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if err := abi.ParseTopicsIntoMap(result, indexed, log.Topics[1:]); err != nil {
		return nil, fmt.Errorf("failed to parse indexed fields of %s: %w", event.Name, err)
	}

	// 非索引参数
	if len(log.Data) > 0 {
		if err := c.abi.UnpackIntoMap(result, event.Name, log.Data); err != nil {
			return nil, fmt.Errorf("failed to unpack %s: %w", event.Name, err)
		}
	}

	return result, nil
}

// DecodeEvent 将托管合约日志解码为领域事件，非托管事件返回 nil
func (c *Contract) DecodeEvent(log types.Log) (*escrow.Event, error) {
	fields, err := c.ParseEvent(log)
	if err != nil {
		return nil, err
	}

	name := escrow.EventName(fields["eventName"].(string))
	ev := &escrow.Event{
		Name:        name,
		TxHash:      log.TxHash,
		LogIndex:    log.Index,
		BlockNumber: log.BlockNumber,
	}

	id, ok := fields["campaignId"].(*big.Int)
	if !ok {
		return nil, nil
	}
	ev.CampaignID = id.Int64()

	switch name {
	case escrow.EventCampaignCreated:
		ev.Account, _ = fields["creator"].(common.Address)
		ev.Amount, _ = fields["target"].(*big.Int)
		if deadline, ok := fields["deadline"].(*big.Int); ok {
			ev.Deadline = time.Unix(deadline.Int64(), 0).UTC()
		}
		ev.IpfsCid, _ = fields["ipfsCid"].(string)
	case escrow.EventDonationReceived:
		ev.Account, _ = fields["donor"].(common.Address)
		ev.Amount, _ = fields["amount"].(*big.Int)
	case escrow.EventCampaignFailed:
		ev.Account, _ = fields["caller"].(common.Address)
	case escrow.EventFundsWithdrawn:
		ev.Account, _ = fields["creator"].(common.Address)
		ev.Amount, _ = fields["amount"].(*big.Int)
		ev.PlatformFee, _ = fields["platformFee"].(*big.Int)
	case escrow.EventRefundClaimed:
		ev.Account, _ = fields["donor"].(common.Address)
		ev.Amount, _ = fields["amount"].(*big.Int)
		ev.PlatformFee, _ = fields["platformFee"].(*big.Int)
	default:
		return nil, nil
	}
	return ev, nil
}
