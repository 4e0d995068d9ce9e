package kaddht

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-kaddht/internal/rpc"
)

// ============================================================================
// Fx 模块测试
// ============================================================================

// TestModule_Load 测试模块加载与生命周期
func TestModule_Load(t *testing.T) {
	net := rpc.NewMemNetwork()
	cfg := DefaultConfig()
	cfg.Transport = net.Transport()

	var node *Node
	app := fxtest.New(t,
		fx.Supply(cfg),
		Module,
		fx.Populate(&node),
	)

	app.RequireStart()
	require.NotNil(t, node)
	assert.Equal(t, StateRunning, node.State())

	app.RequireStop()
	assert.Equal(t, StateStopped, node.State())

	t.Log("✅ Fx 生命周期驱动节点启停")
}

// TestModule_DefaultConfig 测试缺省配置下的装配
func TestModule_DefaultConfig(t *testing.T) {
	var node *Node
	app := fxtest.New(t,
		Module,
		fx.Populate(&node),
	)

	app.RequireStart()
	require.NotNil(t, node)
	assert.Equal(t, StateRunning, node.State())
	app.RequireStop()

	t.Log("✅ 无配置时模块使用默认值装配")
}
