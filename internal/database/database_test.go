package database

import (
	"testing"

	"github.com/blues/cfe/internal/config"
	"github.com/blues/cfe/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitSqliteMigratesAllTables(t *testing.T) {
	db, err := Init(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)

	for _, m := range model.All() {
		assert.True(t, db.Migrator().HasTable(m), "%T", m)
	}
	assert.True(t, db.Migrator().HasIndex(&model.SettlementRecordModel{}, "idx_settlement_once"))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "mysql"})
	assert.ErrorContains(t, err, "mysql")
}
