package main

import (
	"context"
	"fmt"

	"github.com/blues/cfe/internal/cache"
	"github.com/blues/cfe/internal/chain"
	"github.com/blues/cfe/internal/config"
	"github.com/blues/cfe/internal/database"
	"github.com/blues/cfe/internal/escrow"
	"github.com/blues/cfe/internal/logger"
	"github.com/blues/cfe/internal/logic"
	"github.com/blues/cfe/internal/metadata"
	"github.com/blues/cfe/internal/monitor"
	"github.com/blues/cfe/internal/registry"
	"github.com/blues/cfe/internal/router"
	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
)

// app 进程内组件
type app struct {
	cfg       *config.Config
	db        *gorm.DB
	chain     *chain.Manager // 仅链账本模式
	ledger    *cache.Ledger
	platform  common.Address
	queries   *logic.QueryLogic
	campaigns *logic.CampaignLogic
	monitor   *monitor.EventMonitor
}

// newApp 按账本后端组装组件
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := database.Init(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a := &app{cfg: cfg, db: db}

	var inner escrow.Ledger
	switch cfg.Ledger.Backend {
	case config.LedgerBackendChain:
		if a.chain, err = chain.NewManager(ctx, cfg.Chain); err != nil {
			a.Close()
			return nil, err
		}
		l, err := chain.NewLedger(a.chain)
		if err != nil {
			a.Close()
			return nil, err
		}
		inner = l
		a.platform = l.Signer()
	default:
		a.platform = common.HexToAddress(cfg.Ledger.PlatformAddress)
		inner = logic.NewSettlementLogic(db, a.platform)
	}
	logger.Info("Using %s ledger, platform account %s", cfg.Ledger.Backend, a.platform.Hex())

	store, err := metadata.New(cfg.Metadata)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.ledger = cache.NewLedger(inner, cfg.Cache.TTL)
	a.queries = logic.NewQueryLogic(db)
	reg := registry.NewGormRegistry(db)
	if a.campaigns, err = logic.NewCampaignLogic(a.ledger, a.queries, store, reg, cfg.Metadata.Workers); err != nil {
		a.Close()
		return nil, err
	}

	if a.chain != nil && cfg.Monitor.Enabled {
		events := logic.NewEventLogic(db, a.platform, a.ledger)
		a.monitor = monitor.NewEventMonitor(a.chain.GetBackend(), a.chain.GetContracts(), events, reg, a.ledger, cfg.Monitor, cfg.Chain.Confirmations)
	}
	return a, nil
}

func (a *app) routerDeps() router.Deps {
	return router.Deps{
		Campaigns: a.campaigns,
		Queries:   a.queries,
		Backend:   a.cfg.Ledger.Backend,
		Health:    a.health,
	}
}

func (a *app) health(ctx context.Context) map[string]interface{} {
	out := map[string]interface{}{"database": "ok"}
	if sqlDB, err := a.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		out["database"] = "unavailable"
	}
	if a.chain != nil {
		out["chain"] = a.chain.GetHealthStatus(ctx)
	}
	if a.monitor != nil {
		out["monitor"] = a.monitor.GetStatus()
	}
	return out
}

// Close 释放协程池、链连接与数据库
func (a *app) Close() {
	if a.monitor != nil {
		a.monitor.Stop()
	}
	if a.campaigns != nil {
		a.campaigns.Close()
	}
	if a.chain != nil {
		_ = a.chain.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
