package kaddht

import (
	"context"

	"go.uber.org/fx"
)

// ============================================================================
//                              Fx 模块
// ============================================================================

// Module kaddht Fx 模块
//
// 供宿主应用装配：提供 *Node 并把节点生命周期挂接到
// Fx 的 Start/Stop 钩子。配置可选，缺省使用 DefaultConfig。
//
//	app := fx.New(
//		fx.Supply(cfg),   // *kaddht.Config，可省略
//		kaddht.Module,
//		fx.Invoke(func(n *kaddht.Node) { ... }),
//	)
var Module = fx.Module("kaddht",
	fx.Provide(NewFromParams),
	fx.Invoke(registerLifecycle),
)

// Params 节点依赖参数
type Params struct {
	fx.In

	Config *Config `optional:"true"`
}

// Result 节点导出结果
type Result struct {
	fx.Out

	Node *Node
}

// NewFromParams 从 Fx 参数创建节点
func NewFromParams(p Params) (Result, error) {
	node, err := NewWithConfig(p.Config)
	if err != nil {
		return Result{}, err
	}
	return Result{Node: node}, nil
}

// registerLifecycle 注册节点生命周期钩子
func registerLifecycle(lc fx.Lifecycle, node *Node) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return node.Start(ctx)
		},
		OnStop: func(context.Context) error {
			return node.Stop()
		},
	})
}
