package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const platform = "0x00000000000000000000000000000000000000fe"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
ledger:
  platform_address: "`+platform+`"
database:
  driver: sqlite
  path: ":memory:"
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, LedgerBackendDatabase, cfg.Ledger.Backend)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 15*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 60, cfg.Task.Interval)
	assert.False(t, cfg.Task.AutoMarkFailed)
	assert.Len(t, cfg.Metadata.Gateways, 3)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
ledger:
  platform_address: "`+platform+`"
cache:
  ttl: 5s
`)
	t.Setenv("CFE_SERVER_PORT", "9090")
	t.Setenv("CFE_TASK_AUTO_MARK_FAILED", "true")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.True(t, cfg.Task.AutoMarkFailed)
	assert.Equal(t, 5*time.Second, cfg.Cache.TTL)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database: DatabaseConfig{Driver: "postgres"},
			Ledger:   LedgerConfig{Backend: LedgerBackendDatabase, PlatformAddress: platform},
			Metadata: MetadataConfig{Provider: "memory"},
			Task:     TaskConfig{Interval: 60},
		}
	}
	require.NoError(t, valid().Validate())

	cfg := valid()
	cfg.Ledger.PlatformAddress = "nope"
	assert.Error(t, cfg.Validate())

	cfg.Ledger.PlatformAddress = "0x0000000000000000000000000000000000000000"
	assert.ErrorContains(t, cfg.Validate(), "zero address")

	cfg = valid()
	cfg.Ledger.Backend = LedgerBackendChain
	assert.ErrorContains(t, cfg.Validate(), "rpc_url")

	cfg.Chain.RpcUrl = "http://localhost:8545"
	cfg.Chain.PrivateKey = "0x01"
	assert.ErrorContains(t, cfg.Validate(), "contracts.escrow")

	cfg.Chain.Contracts = map[string]ContractConfig{"escrow": {Address: platform, Enabled: true}}
	assert.NoError(t, cfg.Validate())

	cfg = valid()
	cfg.Database.Driver = "mysql"
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Metadata = MetadataConfig{Provider: "ipfs"}
	assert.ErrorContains(t, cfg.Validate(), "gateways")
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "cf", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=cf sslmode=disable", d.DSN())
}
