package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blues/cfe/internal/chain"
	"github.com/blues/cfe/internal/config"
	"github.com/blues/cfe/internal/escrow"
	"github.com/blues/cfe/internal/logger"
	"github.com/blues/cfe/internal/logic"
	"github.com/blues/cfe/internal/registry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/panjf2000/ants/v2"
)

// Invalidator 事件落库后需要刷新的读缓存
type Invalidator interface {
	Invalidate(campaignID int64)
}

// EventMonitor 托管合约事件监控器
//
// 按批次轮询合约日志，同一活动的日志按链上顺序串行处理，不同活动并发处理。
type EventMonitor struct {
	reader        chain.BlockReader
	contracts     map[string]*chain.Contract
	events        *logic.EventLogic
	registry      registry.Registry
	cache         Invalidator
	interval      time.Duration
	batchSize     int64
	confirmations int64

	mu            sync.RWMutex // 保护 startBlockNum 与重试状态
	startBlockNum int64
	retryCount    int
	lastRetryTime time.Time
	backoff       time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEventMonitor 创建事件监控器，registry 与 cache 可为空
func NewEventMonitor(
	reader chain.BlockReader,
	contracts map[string]*chain.Contract,
	events *logic.EventLogic,
	reg registry.Registry,
	cache Invalidator,
	cfg config.MonitorConfig,
	confirmations int,
) *EventMonitor {
	interval := time.Duration(cfg.Interval) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	if confirmations < 0 {
		confirmations = 0
	}

	return &EventMonitor{
		reader:        reader,
		contracts:     contracts,
		events:        events,
		registry:      reg,
		cache:         cache,
		interval:      interval,
		batchSize:     batchSize,
		confirmations: int64(confirmations),
	}
}

// Start 确定起始区块并启动监控循环
func (m *EventMonitor) Start(ctx context.Context) error {
	logger.Info("Starting blockchain event monitor")

	if len(m.contracts) == 0 {
		return fmt.Errorf("no contracts available for monitoring")
	}
	logger.Info("Found %d contracts to monitor", len(m.contracts))

	currentBlock, err := chain.GetCurrentBlockNumber(ctx, m.reader)
	if err != nil {
		return fmt.Errorf("failed to connect to blockchain: %w", err)
	}
	logger.Info("Connected to blockchain, current block: %d", currentBlock)

	startBlock, err := m.resolveStartBlock(ctx)
	if err != nil {
		return err
	}
	m.updateStartBlockNum(startBlock)
	logger.Info("Starting monitor from block %d", startBlock)

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(loopCtx)
	return nil
}

// Stop 停止监控并等待当前批次结束
func (m *EventMonitor) Stop() {
	if m.cancel == nil {
		return
	}
	logger.Info("Stopping blockchain event monitor")
	m.cancel()
	<-m.done
}

func (m *EventMonitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if m.shouldRun() {
			if err := m.Poll(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				m.handleError(err)
			} else {
				m.resetBackoff()
			}
		}

		select {
		case <-ctx.Done():
			logger.Info("Monitor stopped")
			return
		case <-ticker.C:
		}
	}
}

// Poll 处理起始区块到安全区块（最新区块减确认数）之间的全部日志
func (m *EventMonitor) Poll(ctx context.Context) error {
	safeBlock, err := chain.GetSafeBlockNumber(ctx, m.reader, m.confirmations)
	if err != nil {
		return fmt.Errorf("failed to get safe block number: %w", err)
	}

	from := m.getStartBlockNum()
	if safeBlock < from {
		logger.Debug("No confirmed blocks to process (next %d, safe %d)", from, safeBlock)
		return nil
	}
	return m.processBlocksInBatches(ctx, from, safeBlock)
}

// processBlocksInBatches 分批处理区块，失败的批次在下一轮从头重试
func (m *EventMonitor) processBlocksInBatches(ctx context.Context, fromBlock, toBlock int64) error {
	logger.Debug("Processing blocks from %d to %d", fromBlock, toBlock)

	for currentFrom := fromBlock; currentFrom <= toBlock; currentFrom += m.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		currentTo := currentFrom + m.batchSize - 1
		if currentTo > toBlock {
			currentTo = toBlock
		}

		if err := m.processBatchBlocks(ctx, currentFrom, currentTo); err != nil {
			return fmt.Errorf("blocks %d-%d: %w", currentFrom, currentTo, err)
		}
		m.updateStartBlockNum(currentTo + 1)
	}
	return nil
}

type groupKey struct {
	contract common.Address
	campaign common.Hash
}

// processBatchBlocks 拉取一批日志，按活动分组后用临时协程池处理
func (m *EventMonitor) processBatchBlocks(ctx context.Context, fromBlock, toBlock int64) error {
	contractAddresses, contractMap := m.getDeployedContracts(toBlock)
	if len(contractAddresses) == 0 {
		logger.Debug("No deployed contracts for blocks %d-%d", fromBlock, toBlock)
		return nil
	}

	logs, err := chain.GetBatchBlockLogs(ctx, m.reader, contractAddresses, fromBlock, toBlock)
	if err != nil {
		return fmt.Errorf("error getting logs: %w", err)
	}
	if len(logs) == 0 {
		logger.Debug("No logs found for blocks %d-%d", fromBlock, toBlock)
		return nil
	}
	logger.Debug("Found %d logs for blocks %d-%d", len(logs), fromBlock, toBlock)

	groups, order := groupLogsByCampaign(logs)

	pool, err := ants.NewPool(len(groups))
	if err != nil {
		return fmt.Errorf("failed to create temporary pool for %d groups: %w", len(groups), err)
	}
	defer pool.Release()

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	for _, key := range order {
		contract := contractMap[key.contract]
		if contract == nil {
			logger.Warn("Unknown contract address: %s", key.contract.Hex())
			continue
		}
		groupLogs := groups[key]

		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			if err := m.processCampaignLogs(ctx, contract, groupLogs); err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
		}); err != nil {
			wg.Done()
			return fmt.Errorf("failed to submit task to pool: %w", err)
		}
	}
	wg.Wait()

	return firstErr
}

// processCampaignLogs 顺序处理同一活动的日志，遇错即停以保持顺序
func (m *EventMonitor) processCampaignLogs(ctx context.Context, contract *chain.Contract, logs []types.Log) error {
	for _, log := range logs {
		ev, err := contract.DecodeEvent(log)
		if err != nil {
			logger.Error("Error parsing event for contract %s: %v", contract.GetName(), err)
			continue
		}
		if ev == nil {
			continue
		}

		applied, err := m.events.ApplyEvent(ctx, contract.GetName(), contract.GetAddress(), ev)
		if err != nil {
			return fmt.Errorf("failed to apply %s from tx %s: %w", ev.Name, ev.TxHash.Hex(), err)
		}
		if !applied {
			continue
		}

		if ev.Name == escrow.EventCampaignCreated && ev.IpfsCid != "" && m.registry != nil {
			if err := m.registry.Append(ctx, ev.IpfsCid, ev.CampaignID, registry.SourceChain); err != nil {
				logger.Warn("Failed to register cid %s of campaign %d: %v", ev.IpfsCid, ev.CampaignID, err)
			}
		}
		if m.cache != nil {
			m.cache.Invalidate(ev.CampaignID)
		}
		logger.Debug("Processed %s of campaign %d at block %d", ev.Name, ev.CampaignID, log.BlockNumber)
	}
	return nil
}

// resolveStartBlock 取配置的部署区块与已落库最大区块中的较大者
//
// 已落库区块会被重新扫描一次，事件写入是幂等的。
func (m *EventMonitor) resolveStartBlock(ctx context.Context) (int64, error) {
	var start int64 = -1
	for _, contract := range m.contracts {
		deployBlock := contract.GetBlockNum()

		processed, err := m.events.GetLastProcessedBlock(ctx, contract.GetAddress())
		if err != nil {
			return 0, err
		}
		from := deployBlock
		if processed > from {
			from = processed
		}
		logger.Debug("Contract %s: deploy block %d, last processed %d", contract.GetName(), deployBlock, processed)

		if start < 0 || from < start {
			start = from
		}
	}
	if start < 0 {
		start = 0
	}
	return start, nil
}

func (m *EventMonitor) getStartBlockNum() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.startBlockNum
}

func (m *EventMonitor) updateStartBlockNum(blockNum int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startBlockNum = blockNum
}

// handleError 记录错误并按重试次数退避
func (m *EventMonitor) handleError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retryCount++
	m.lastRetryTime = time.Now()
	if m.retryCount > 5 || isAPIRateLimitError(err) {
		m.backoff = 5 * time.Minute
	} else {
		m.backoff = time.Duration(m.retryCount) * 10 * time.Second
	}
	logger.Error("Monitor encountered error (retry %d, backoff %s): %v", m.retryCount, m.backoff, err)
}

func (m *EventMonitor) resetBackoff() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryCount = 0
	m.backoff = 0
}

func (m *EventMonitor) shouldRun() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.backoff == 0 || time.Since(m.lastRetryTime) >= m.backoff
}

// GetStatus 获取监控状态
func (m *EventMonitor) GetStatus() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"next_block":     m.startBlockNum,
		"contract_count": len(m.contracts),
		"confirmations":  m.confirmations,
		"retry_count":    m.retryCount,
	}
}

// getDeployedContracts 获取截至 toBlock 已部署的合约
func (m *EventMonitor) getDeployedContracts(toBlock int64) ([]common.Address, map[common.Address]*chain.Contract) {
	var contractAddresses []common.Address
	contractMap := make(map[common.Address]*chain.Contract)

	for contractName, contract := range m.contracts {
		if toBlock < contract.GetBlockNum() {
			logger.Debug("Skipping contract %s (deployed at block %d)", contractName, contract.GetBlockNum())
			continue
		}
		address := contract.GetAddress()
		contractAddresses = append(contractAddresses, address)
		contractMap[address] = contract
	}
	return contractAddresses, contractMap
}

func isAPIRateLimitError(err error) bool {
	return strings.Contains(err.Error(), "Too Many Requests")
}

// groupLogsByCampaign 按合约与活动分组，组内保持日志原有顺序
func groupLogsByCampaign(logs []types.Log) (map[groupKey][]types.Log, []groupKey) {
	groups := make(map[groupKey][]types.Log)
	var order []groupKey

	for _, log := range logs {
		key := groupKey{contract: log.Address}
		if len(log.Topics) > 1 {
			key.campaign = log.Topics[1]
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], log)
	}
	return groups, order
}
