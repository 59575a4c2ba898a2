package supervisor

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensqt/perpcore/internal/config"
	"github.com/opensqt/perpcore/internal/core"
	"github.com/opensqt/perpcore/pkg/logging"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)

	cfg := &config.Config{
		App: config.AppConfig{
			LockDir: filepath.Join(t.TempDir(), "locks"),
		},
		Instruments: map[string]config.InstrumentConfig{
			"BTC": {Mode: core.ModeTestnet},
			"ETH": {Mode: core.ModeTestnet},
		},
	}
	return &Supervisor{cfg: cfg, logger: logger}
}

func TestAcquireLocksThenRelease(t *testing.T) {
	s := newTestSupervisor(t)

	require.NoError(t, s.acquireLocks())
	assert.Len(t, s.locks, 2)

	s.releaseLocks()
	assert.Empty(t, s.locks)
}

func TestAcquireLocksRejectsContention(t *testing.T) {
	s1 := newTestSupervisor(t)
	s2 := newTestSupervisor(t)
	s2.cfg.App.LockDir = s1.cfg.App.LockDir

	require.NoError(t, s1.acquireLocks())
	defer s1.releaseLocks()

	err := s2.acquireLocks()
	require.Error(t, err)
	assert.Empty(t, s2.locks)
}

func TestPolicyResolverResolve(t *testing.T) {
	cfg := &config.Config{
		Instruments: map[string]config.InstrumentConfig{
			"BTC": {
				Mode:             core.ModeTestnet,
				EntrySlippageBps: 5,
				Guardrails:       config.GuardrailsConfig{MaxOpenPositions: 1},
				Sizing:           config.SizingConfig{Mode: core.SizingFixed, FixedSize: decimal.NewFromInt(1)},
			},
		},
	}
	resolver := &policyResolver{
		cfg:           cfg,
		szDecimals:    map[string]int{"BTC": 3},
		priceDecimals: map[string]int{"BTC": 1},
	}

	policy, err := resolver.Resolve("BTC")
	require.NoError(t, err)
	assert.Equal(t, 3, policy.SzDecimals)
	assert.Equal(t, 1, policy.PriceDecimals)
	assert.Equal(t, 5, policy.EntrySlippageBps)
	assert.Equal(t, core.ModeTestnet, policy.Mode)

	_, err = resolver.Resolve("DOGE")
	require.Error(t, err)
}
