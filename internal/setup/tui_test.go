package setup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/statefuse/config"
	"github.com/vadiminshakov/statefuse/internal/domain"
)

func TestRender_DefaultsLoad(t *testing.T) {
	data, err := Render(DefaultAnswers())
	require.NoError(t, err)

	conf, err := config.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "BTC_USDT", conf.Pair.String())
	assert.Equal(t, time.Minute, conf.CycleInterval)
	assert.Equal(t, domain.StrategyAttention, conf.DefaultStrategy)
	assert.Equal(t, config.BackendWAL, conf.Storage.Backend)
	require.Len(t, conf.Sources, 3)
	assert.Equal(t, "sim-a", conf.Sources[0].Name)
	assert.Equal(t, 2, conf.Aggregator.MinSources)
	assert.Equal(t, "1", conf.Risk.MaxPositionSize.String())
	assert.Equal(t, 5*time.Minute, conf.Risk.CooldownPeriod)
	assert.Equal(t, "3", conf.Risk.MaxLeverage.String(), "unasked fields fall back to defaults")
	assert.False(t, conf.Metrics.Enabled)
}

func TestRender_SingleSourceLowersQuorum(t *testing.T) {
	a := DefaultAnswers()
	a.Sources = []string{config.SourceBinance}
	a.Backend = config.BackendRedis
	a.RedisAddr = "redis:6379"
	a.Strategy = string(domain.StrategyMeanReversion)
	a.ExposeMetrics = true

	data, err := Render(a)
	require.NoError(t, err)

	conf, err := config.Parse(data)
	require.NoError(t, err)
	require.Len(t, conf.Sources, 1)
	assert.Equal(t, config.SourceBinance, conf.Sources[0].Type)
	assert.Equal(t, 1, conf.Aggregator.MinSources)
	assert.Equal(t, "redis:6379", conf.Storage.RedisAddr)
	assert.Equal(t, domain.StrategyMeanReversion, conf.DefaultStrategy)
	assert.True(t, conf.Metrics.Enabled)
}

func TestRender_NoSources(t *testing.T) {
	a := DefaultAnswers()
	a.Sources = nil
	_, err := Render(a)
	require.Error(t, err)
}

func TestWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Write(path, DefaultAnswers()))

	conf, err := config.Load(path)
	require.NoError(t, err)
	assert.Len(t, conf.Sources, 3)

	bad := DefaultAnswers()
	bad.Pair = "BTCUSDT"
	other := filepath.Join(t.TempDir(), "bad.yaml")
	require.Error(t, Write(other, bad))
	_, err = os.Stat(other)
	assert.True(t, os.IsNotExist(err), "invalid config is not written")
}

func TestValidators(t *testing.T) {
	assert.NoError(t, validatePair("eth_usdt"))
	assert.Error(t, validatePair("ETHUSDT"))

	assert.NoError(t, validateDuration("30s"))
	assert.Error(t, validateDuration("soon"))
	assert.Error(t, validateDuration("-1m"))

	assert.NoError(t, validatePositive("0.5"))
	assert.Error(t, validatePositive("0"))
	assert.Error(t, validatePositive("abc"))
}
