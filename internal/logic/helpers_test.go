package logic

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/blues/cfe/internal/config"
	"github.com/blues/cfe/internal/database"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	platform = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	creator  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	alice    = common.HexToAddress("0xa000000000000000000000000000000000000001")
	bob      = common.HexToAddress("0xb000000000000000000000000000000000000002")
)

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Init(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newTestLedger(t *testing.T) (*SettlementLogic, *fakeClock, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	clock := newFakeClock()
	return NewSettlementLogic(db, platform, WithClock(clock.Now)), clock, db
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func wei(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(s)
	}
	return v
}

const day = 24 * time.Hour
