package kaddht

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kaddht/internal/rpc"
	"github.com/dep2p/go-kaddht/pkg/types"
)

// TestConfig_DefaultsValid 测试默认配置可通过验证
func TestConfig_DefaultsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	t.Log("✅ 默认配置有效")
}

// TestConfig_Validate 测试非法配置被拒绝
func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"K 为零", func(c *Config) { c.K = 0 }},
		{"Alpha 为零", func(c *Config) { c.Alpha = 0 }},
		{"Alpha 超过 K", func(c *Config) { c.K = 2; c.Alpha = 3 }},
		{"RPCTimeout 非正", func(c *Config) { c.RPCTimeout = 0 }},
		{"RefreshInterval 非正", func(c *Config) { c.RefreshInterval = 0 }},
		{"RepublishInterval 非正", func(c *Config) { c.RepublishInterval = 0 }},
		{"DefaultTTL 非正", func(c *Config) { c.DefaultTTL = 0 }},
		{"CleanupInterval 非正", func(c *Config) { c.CleanupInterval = 0 }},
		{"无传输且无监听地址", func(c *Config) { c.ListenAddr = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	t.Log("✅ 非法配置均返回 ErrInvalidConfig")
}

// TestOptions 测试选项应用
func TestOptions(t *testing.T) {
	net := rpc.NewMemNetwork()
	id := types.NewRandomNodeID()

	node, err := New(
		WithNodeID(id),
		WithTransport(net.Transport()),
		WithK(8),
		WithAlpha(2),
		WithRPCTimeout(time.Second),
		WithRefreshInterval(30*time.Minute),
		WithRepublishInterval(45*time.Minute),
		WithDefaultTTL(6*time.Hour),
		WithCleanupInterval(5*time.Minute),
	)
	require.NoError(t, err)

	assert.Equal(t, id, node.Self().ID)
	assert.Equal(t, 8, node.cfg.K)
	assert.Equal(t, 2, node.cfg.Alpha)
	assert.Equal(t, time.Second, node.cfg.RPCTimeout)
	assert.Equal(t, 6*time.Hour, node.cfg.DefaultTTL)

	t.Log("✅ 选项全部生效")
}

// TestNew_InvalidOptionRejected 测试非法选项在构造期失败
func TestNew_InvalidOptionRejected(t *testing.T) {
	_, err := New(WithK(0))
	require.ErrorIs(t, err, ErrInvalidConfig)
	t.Log("✅ 非法选项使构造失败")
}
