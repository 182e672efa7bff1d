package config

import (
	"testing"
	"time"

	"github.com/flexprice/dealpay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := GetDefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "PLN", cfg.Payments.SettlementCurrency)
	assert.Equal(t, 30, cfg.Payments.TwoLegThresholdDays)
	assert.Equal(t, time.Hour, cfg.Payments.RecoveryStaleness)
}

func TestValidateRejectsBadLockBackend(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Lock.Backend = types.LockBackend("zookeeper")
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsOversizedPage(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Payments.ReconcilePageSize = 500
	assert.Error(t, cfg.Validate())
}

func TestNewConfigReadsEnvironment(t *testing.T) {
	t.Setenv("DEALPAY_PAYMENTS_MAX_SESSIONS_PER_RUN", "7")
	t.Setenv("DEALPAY_LOCK_BACKEND", "memory")

	cfg, err := NewConfig()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Payments.MaxSessionsPerRun)
	assert.Equal(t, types.LockBackendMemory, cfg.Lock.Backend)
}

func TestGetDSN(t *testing.T) {
	cfg := PostgresConfig{
		Host:     "db",
		Port:     5433,
		User:     "u",
		Password: "p",
		DBName:   "ledger",
		SSLMode:  "require",
	}
	assert.Equal(t, "user=u password=p dbname=ledger host=db port=5433 sslmode=require", cfg.GetDSN())
}
