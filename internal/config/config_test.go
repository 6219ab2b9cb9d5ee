package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/boddenberg/plastic-rewards-go/internal/config"
	"github.com/boddenberg/plastic-rewards-go/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := config.Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, 2*time.Minute, cfg.DuplicateWindow)
	assert.Equal(t, 24*time.Hour, cfg.SweepInterval)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_TIMEOUT", "750ms")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg := config.Load()

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 750*time.Millisecond, cfg.StoreTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}

func TestLoadDotEnv_MissingFileIsFine(t *testing.T) {
	require.NoError(t, config.LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")))
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("LEDGER_TEST_A=from-file\nLEDGER_TEST_B=from-file\n"), 0o600))
	t.Setenv("LEDGER_TEST_A", "from-env")
	t.Cleanup(func() { os.Unsetenv("LEDGER_TEST_B") })

	require.NoError(t, config.LoadDotEnv(path))

	assert.Equal(t, "from-env", os.Getenv("LEDGER_TEST_A"))
	assert.Equal(t, "from-file", os.Getenv("LEDGER_TEST_B"))
}

func TestLoadPolicy_Defaults(t *testing.T) {
	p, err := config.LoadPolicy("")
	require.NoError(t, err)

	assert.Equal(t, domain.MustMoney("2.00"), p.PricePerKg)
	assert.EqualValues(t, 70, p.CashSharePercent)
	assert.Equal(t, 100, p.DefaultAllocation.Sum())
	require.NoError(t, p.Validate())
}

func TestLoadPolicy_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	yml := `
price_per_kg: "2.50"
cash_share_percent: 60
materials: [pet, hdpe]
default_allocation:
  collection_funding: 50
  healthcare_access: 30
  health_intelligence: 10
  operations: 10
unit_costs:
  plastic_kg: "2.50"
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	p, err := config.LoadPolicy(path)
	require.NoError(t, err)

	assert.Equal(t, domain.Money(250), p.PricePerKg)
	assert.EqualValues(t, 60, p.CashSharePercent)
	assert.Equal(t, []domain.MaterialType{domain.MaterialPET, domain.MaterialHDPE}, p.Materials)
	assert.Equal(t, 50, p.DefaultAllocation.CollectionFunding)
	assert.Equal(t, domain.Money(250), p.UnitCosts.PlasticKg)
	assert.Equal(t, domain.MustMoney("50"), p.UnitCosts.CollectorSupport)
}

func TestLoadPolicy_RejectsBadAllocation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	yml := `
default_allocation:
  collection_funding: 50
  healthcare_access: 50
  health_intelligence: 10
  operations: 0
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	_, err := config.LoadPolicy(path)
	assert.Error(t, err)
}
