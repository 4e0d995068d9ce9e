// Package kaddht 实现 Kademlia 风格的分布式哈希表节点
//
// 节点参与一个点对点覆盖网络，在 XOR 度量键空间中定位其他
// 节点并存取键值数据，无需任何中心目录。
//
// 核心组成：
//   - 身份与距离模型（160 位 NodeID，XOR 距离）
//   - K 桶路由表（internal/kbucket）
//   - 带事务关联与超时的 RPC 原语（internal/rpc）
//   - 迭代 FIND_NODE / FIND_VALUE 查找算法
//   - 带过期与重发布的复制存储（internal/store）
//
// 使用方式：
//
//	node, err := kaddht.New(
//		kaddht.WithListenAddr("0.0.0.0:4680"),
//	)
//	if err != nil { ... }
//	if err := node.Start(ctx); err != nil { ... }
//	defer node.Stop()
//
//	if err := node.Join(ctx, bootstrapContacts); err != nil { ... }
//	err = node.Store(ctx, key, value, 0)
//	value, err := node.Get(ctx, key)
//
// 也可经 fx 集成：
//
//	app := fx.New(kaddht.Module, ...)
//
// 一致性模型为尽力而为、最终一致，与经典 Kademlia 设计一致；
// 不提供拜占庭容错或强一致性。
package kaddht
