package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/blues/cfe/internal/config"
	"github.com/blues/cfe/internal/logger"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EscrowContractName 托管合约在配置中的名称
const EscrowContractName = "escrow"

var supportedChainTypes = []string{"ethereum", "polygon", "bsc", "arbitrum", "optimism"}

// Backend 链访问能力，*ethclient.Client 满足该接口
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Manager 单链管理器
type Manager struct {
	mu        sync.RWMutex
	contracts map[string]*Contract // 合约映射: "contractName" -> Contract
	backend   Backend
	closer    func()
	key       *ecdsa.PrivateKey
	config    config.ChainConfig // 存储链配置
}

// NewManager 连接 RPC 并初始化合约
func NewManager(ctx context.Context, cfg config.ChainConfig) (*Manager, error) {
	if err := checkChainType(cfg.ChainType); err != nil {
		return nil, err
	}
	if cfg.RpcUrl == "" {
		return nil, fmt.Errorf("no RPC URL configured")
	}

	logger.Info("Creating %s client connection (chain id: %d)", cfg.ChainType, cfg.ChainId)
	client, err := ethclient.DialContext(ctx, cfg.RpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", cfg.ChainType, err)
	}

	// 测试连接并核对链ID
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("client connection test failed (%s): %w", cfg.ChainType, err)
	}
	if cfg.ChainId != 0 && chainID.Int64() != cfg.ChainId {
		client.Close()
		return nil, fmt.Errorf("rpc reports chain id %s, configured %d", chainID, cfg.ChainId)
	}

	m, err := NewManagerWithBackend(cfg, client)
	if err != nil {
		client.Close()
		return nil, err
	}
	m.closer = client.Close
	return m, nil
}

// NewManagerWithBackend 使用已有的链连接创建管理器
func NewManagerWithBackend(cfg config.ChainConfig, backend Backend) (*Manager, error) {
	m := &Manager{
		contracts: make(map[string]*Contract),
		backend:   backend,
		config:    cfg,
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		m.key = key
	}

	if err := m.initContracts(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize contracts: %w", err)
	}
	return m, nil
}

// initContracts 初始化所有启用的合约
func (m *Manager) initContracts(cfg config.ChainConfig) error {
	for contractName, contractCfg := range cfg.Contracts {
		if !contractCfg.Enabled {
			logger.Info("Skipping disabled contract: %s", contractName)
			continue
		}

		contract, err := NewContract(m.backend, contractName, contractCfg, cfg.ChainId)
		if err != nil {
			return fmt.Errorf("failed to create contract %s: %w", contractName, err)
		}
		m.contracts[contractName] = contract
		logger.Info("Initialized contract %s at %s", contractName, contract.GetAddress().Hex())
	}

	logger.Info("Successfully initialized %d contracts", len(m.contracts))
	return nil
}

func checkChainType(chainType string) error {
	for _, t := range supportedChainTypes {
		if chainType == t {
			return nil
		}
	}
	return fmt.Errorf("unsupported chain type %s, supported types: %s", chainType, strings.Join(supportedChainTypes, ", "))
}

// GetBackend 获取链连接
func (m *Manager) GetBackend() Backend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.backend
}

// GetContract 获取指定合约
func (m *Manager) GetContract(contractName string) (*Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	contract, exists := m.contracts[contractName]
	if !exists {
		return nil, fmt.Errorf("contract %s not found", contractName)
	}
	return contract, nil
}

// GetContracts 获取所有合约
func (m *Manager) GetContracts() map[string]*Contract {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// 返回副本以避免并发修改
	contracts := make(map[string]*Contract, len(m.contracts))
	for name, contract := range m.contracts {
		contracts[name] = contract
	}
	return contracts
}

// GetChainId 获取链ID
func (m *Manager) GetChainId() int64 {
	return m.config.ChainId
}

// GetConfig 获取链配置
func (m *Manager) GetConfig() config.ChainConfig {
	return m.config
}

// SignerAddress 平台签名账户地址，未配置私钥时返回零地址
func (m *Manager) SignerAddress() common.Address {
	if m.key == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(m.key.PublicKey)
}

// TransactOpts 构造签名选项
func (m *Manager) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if m.key == nil {
		return nil, fmt.Errorf("no private key configured")
	}
	opts, err := bind.NewKeyedTransactorWithChainID(m.key, big.NewInt(m.config.ChainId))
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

// GetHealthStatus 获取健康状态
func (m *Manager) GetHealthStatus(ctx context.Context) map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	health := map[string]interface{}{
		"chain_type":    m.config.ChainType,
		"chain_id":      m.config.ChainId,
		"client_status": "connected",
	}

	if head, err := GetCurrentBlockNumber(ctx, m.backend); err != nil {
		health["client_status"] = "disconnected"
	} else {
		health["head"] = head
	}

	contracts := make(map[string]interface{}, len(m.contracts))
	for contractName, contract := range m.contracts {
		contracts[contractName] = map[string]interface{}{
			"address":   contract.GetAddress().Hex(),
			"block_num": contract.GetBlockNum(),
		}
	}
	health["contracts"] = contracts
	return health
}

// Close 关闭管理器
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closer != nil {
		m.closer()
	}
	logger.Info("Chain manager closed")
	return nil
}
