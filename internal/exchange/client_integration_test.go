//go:build integration
// +build integration

package exchange

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trades-switch/internal/config"
)

func TestClientIntegration_SandboxQueries(t *testing.T) {
	configPath := os.Getenv("TRADES_CONFIG")
	if configPath == "" {
		configPath = "../../configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		t.Skipf("加载配置失败，跳过: %v", err)
	}
	if !cfg.Exchange.UseSandbox {
		t.Skip("exchange.use_sandbox=false，出于安全考虑跳过")
	}

	symbol := os.Getenv("TRADES_SYMBOL")
	if symbol == "" {
		symbol = "ETHUSDT"
	}

	logger, _ := zap.NewDevelopment()
	client, err := NewClient(cfg.Exchange, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mark, err := client.MarkPrice(ctx, symbol)
	require.NoError(t, err)
	assert.Greater(t, mark, 0.0)

	lot, err := client.LotConstraints(ctx, symbol)
	require.NoError(t, err)
	assert.Greater(t, lot.Step, 0.0)
	assert.GreaterOrEqual(t, lot.MinQty, lot.Step)

	_, err = client.Position(ctx, symbol)
	require.NoError(t, err)

	_, err = client.OpenReduceOnlyOrders(ctx, symbol)
	require.NoError(t, err)
}
