package kaddht

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kaddht/internal/kbucket"
	"github.com/dep2p/go-kaddht/internal/rpc"
	"github.com/dep2p/go-kaddht/pkg/types"
)

const testRPCTimeout = 150 * time.Millisecond

// newTestNode 在模拟网络中创建并启动一个节点
func newTestNode(t *testing.T, net *rpc.MemNetwork, opts ...Option) *Node {
	t.Helper()

	base := []Option{
		WithTransport(net.Transport()),
		WithRPCTimeout(testRPCTimeout),
		// 维护例程的节奏在测试中无关紧要，拉长避免干扰
		WithRefreshInterval(time.Hour),
		WithRepublishInterval(time.Hour),
		WithCleanupInterval(time.Hour),
	}
	node, err := New(append(base, opts...)...)
	require.NoError(t, err)
	require.NoError(t, node.Start(context.Background()))
	t.Cleanup(func() { _ = node.Stop() })
	return node
}

// buildNetwork 创建 n 个节点并让后续节点经第一个节点加入
func buildNetwork(t *testing.T, net *rpc.MemNetwork, n int, opts ...Option) []*Node {
	t.Helper()

	nodes := make([]*Node, n)
	for i := range nodes {
		nodes[i] = newTestNode(t, net, opts...)
	}
	ctx := context.Background()
	for i := 1; i < n; i++ {
		require.NoError(t, nodes[i].Join(ctx, []types.Contact{nodes[0].Self()}))
	}
	return nodes
}

// ============================================================================
// 生命周期测试
// ============================================================================

// TestNode_StartStop 测试状态机
func TestNode_StartStop(t *testing.T) {
	net := rpc.NewMemNetwork()
	node, err := New(WithTransport(net.Transport()))
	require.NoError(t, err)

	assert.Equal(t, StateIdle, node.State())

	require.NoError(t, node.Start(context.Background()))
	assert.Equal(t, StateRunning, node.State())
	assert.ErrorIs(t, node.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, node.Stop())
	assert.Equal(t, StateStopped, node.State())
	require.NoError(t, node.Stop(), "重复 Stop 应幂等")

	t.Log("✅ 生命周期状态机正确")
}

// TestNode_OpsRequireRunning 测试未启动时的操作错误
func TestNode_OpsRequireRunning(t *testing.T) {
	net := rpc.NewMemNetwork()
	node, err := New(WithTransport(net.Transport()))
	require.NoError(t, err)

	ctx := context.Background()
	key := types.NewRandomNodeID()

	assert.ErrorIs(t, node.Join(ctx, nil), ErrNotStarted)
	assert.ErrorIs(t, node.Store(ctx, key, []byte("v"), 0), ErrNotStarted)
	_, getErr := node.Get(ctx, key)
	assert.ErrorIs(t, getErr, ErrNotStarted)

	t.Log("✅ 未启动的节点拒绝操作")
}

// ============================================================================
// Join 测试
// ============================================================================

// TestNode_Join 测试加入网络
func TestNode_Join(t *testing.T) {
	net := rpc.NewMemNetwork()
	a := newTestNode(t, net)
	b := newTestNode(t, net)

	require.NoError(t, b.Join(context.Background(), []types.Contact{a.Self()}))

	// 双方都应认识对方
	assert.GreaterOrEqual(t, b.table.Size(), 1)
	assert.Eventually(t, func() bool { return a.table.Size() >= 1 },
		time.Second, 10*time.Millisecond)

	t.Log("✅ 加入后双方路由表互相可见")
}

// TestNode_JoinAllBootstrapFail 测试全部引导联系人失败
func TestNode_JoinAllBootstrapFail(t *testing.T) {
	net := rpc.NewMemNetwork()
	a := newTestNode(t, net)
	b := newTestNode(t, net)

	net.Silence(b.Self().Addr)

	err := a.Join(context.Background(), []types.Contact{b.Self()})
	require.ErrorIs(t, err, ErrJoinFailed)

	t.Log("✅ 引导联系人全部失败返回 ErrJoinFailed")
}

// TestNode_JoinWithoutBootstrap 测试空引导列表
func TestNode_JoinWithoutBootstrap(t *testing.T) {
	net := rpc.NewMemNetwork()
	a := newTestNode(t, net)

	err := a.Join(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoContacts)

	t.Log("✅ 空引导列表被拒绝")
}

// ============================================================================
// Store / Get 测试
// ============================================================================

// TestNode_StoreGet 测试存取往返
func TestNode_StoreGet(t *testing.T) {
	net := rpc.NewMemNetwork()
	nodes := buildNetwork(t, net, 5)
	ctx := context.Background()

	key := types.NodeIDFromKey([]byte("greeting"))
	value := []byte("hello kademlia")

	require.NoError(t, nodes[1].Store(ctx, key, value, time.Hour))

	// 任意节点都应能读到
	for _, node := range nodes {
		got, err := node.Get(ctx, key)
		require.NoError(t, err, "node %s", node.Self())
		assert.Equal(t, value, got)
	}

	t.Log("✅ store 后任意节点 get 返回原值")
}

// TestNode_GetViaLookup 测试跨节点查找读取
//
// k=2 时值只复制到两个最近节点，远端节点必须经迭代
// FIND_VALUE 定位。
func TestNode_GetViaLookup(t *testing.T) {
	net := rpc.NewMemNetwork()
	nodes := buildNetwork(t, net, 6, WithK(2), WithAlpha(2))
	ctx := context.Background()

	key := types.NodeIDFromKey([]byte("far away"))
	value := []byte("needle")

	storer := nodes[0]
	require.NoError(t, storer.Store(ctx, key, value, time.Hour))

	// 选一个本地不持有该键的节点执行 get
	var getter *Node
	for _, node := range nodes {
		if node != storer && !node.store.Contains(key) {
			getter = node
			break
		}
	}
	require.NotNil(t, getter, "应存在未持有该键的节点")

	got, err := getter.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, value, got)

	t.Log("✅ 远端节点经迭代查找读到值")
}

// TestNode_GetNotFound 测试缺失键
func TestNode_GetNotFound(t *testing.T) {
	net := rpc.NewMemNetwork()
	nodes := buildNetwork(t, net, 4)

	_, err := nodes[2].Get(context.Background(), types.NodeIDFromKey([]byte("missing")))
	require.ErrorIs(t, err, ErrNotFound)

	t.Log("✅ 查找穷尽返回 ErrNotFound")
}

// TestNode_TTLExpiry 测试 TTL 过期后 get 返回 NotFound
func TestNode_TTLExpiry(t *testing.T) {
	mock := clock.NewMock()
	net := rpc.NewMemNetwork()
	nodes := buildNetwork(t, net, 4, WithClock(mock))
	ctx := context.Background()

	key := types.NodeIDFromKey([]byte("ephemeral"))
	require.NoError(t, nodes[0].Store(ctx, key, []byte("v"), time.Minute))

	got, err := nodes[1].Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	// 所有节点共用 mock 时钟：TTL 过后无重发布，值应消失
	mock.Add(2 * time.Minute)

	_, err = nodes[1].Get(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)

	t.Log("✅ TTL 过期且无重发布后返回 NotFound")
}

// TestNode_StoreAloneKeepsLocal 测试孤立节点仅本地存储
func TestNode_StoreAloneKeepsLocal(t *testing.T) {
	net := rpc.NewMemNetwork()
	a := newTestNode(t, net)
	ctx := context.Background()

	key := types.NodeIDFromKey([]byte("solo"))
	require.NoError(t, a.Store(ctx, key, []byte("v"), time.Hour))

	got, err := a.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	t.Log("✅ 孤立节点退化为本地存储")
}

// ============================================================================
// Status 测试
// ============================================================================

// TestNode_Status 测试状态快照
func TestNode_Status(t *testing.T) {
	net := rpc.NewMemNetwork()
	nodes := buildNetwork(t, net, 3)

	st := nodes[1].Status()

	assert.Equal(t, nodes[1].Self().ID, st.Self.ID)
	assert.Equal(t, "running", st.State)
	assert.GreaterOrEqual(t, st.TableSize, 1)
	require.NotEmpty(t, st.Buckets)
	total := 0
	for _, b := range st.Buckets {
		total += len(b.Contacts)
	}
	assert.Equal(t, st.TableSize, total)

	t.Log("✅ 状态快照与路由表一致")
}

// ============================================================================
// 重发布 / 复制测试
// ============================================================================

// TestNode_RepublishResetsExpiry 测试发布者重发布
func TestNode_RepublishResetsExpiry(t *testing.T) {
	net := rpc.NewMemNetwork()
	nodes := buildNetwork(t, net, 3)
	ctx := context.Background()

	key := types.NodeIDFromKey([]byte("refresh me"))
	require.NoError(t, nodes[0].Store(ctx, key, []byte("v"), time.Hour))

	// 直接驱动一次重发布例程（等价于重发布间隔到期）
	nodes[0].republishOriginValues()

	for _, node := range nodes {
		got, err := node.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)
	}

	t.Log("✅ 重发布保持值可达")
}

// TestNode_ReplicateToNewClosest 测试拓扑复制
//
// 新节点加入后位于键的 k 近邻内，持有者的复制例程应把
// 值推给它。
func TestNode_ReplicateToNewClosest(t *testing.T) {
	net := rpc.NewMemNetwork()
	nodes := buildNetwork(t, net, 3)
	ctx := context.Background()

	key := types.NodeIDFromKey([]byte("replicated"))
	require.NoError(t, nodes[0].Store(ctx, key, []byte("v"), time.Hour))

	// 新节点加入
	late := newTestNode(t, net)
	require.NoError(t, late.Join(ctx, []types.Contact{nodes[0].Self()}))
	require.False(t, late.store.Contains(key))

	// 持有副本的节点执行一次复制游程
	for _, node := range nodes {
		node.replicateHeldValues()
	}

	assert.Eventually(t, func() bool { return late.store.Contains(key) },
		2*time.Second, 20*time.Millisecond)

	t.Log("✅ 新近邻经复制获得副本")
}

// ============================================================================
// 收敛性测试
// ============================================================================

// TestLookup_ConvergesToClosest 测试全连通网络中查找收敛到真实 k 近邻
func TestLookup_ConvergesToClosest(t *testing.T) {
	if testing.Short() {
		t.Skip("收敛性测试较慢")
	}

	net := rpc.NewMemNetwork()
	const N = 24
	nodes := make([]*Node, N)
	for i := range nodes {
		nodes[i] = newTestNode(t, net)
	}
	// 全连通：每个节点的路由表直接持有其余全部节点
	for i, a := range nodes {
		for j, b := range nodes {
			if i != j {
				a.table.Update(b.Self())
			}
		}
	}
	ctx := context.Background()

	caller := nodes[1]
	target := nodes[N-1].Self().ID

	res, err := caller.lookup(ctx, target, lookupFindNode)
	require.NoError(t, err)

	// 期望：除调用方外所有节点中距 target 最近的 k 个
	var ids []types.NodeID
	for _, node := range nodes {
		if node.Self().ID != caller.Self().ID {
			ids = append(ids, node.Self().ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return kbucket.CompareDistance(ids[i], ids[j], target) < 0
	})
	k := caller.cfg.K
	if len(ids) > k {
		ids = ids[:k]
	}

	require.Len(t, res.Contacts, len(ids))
	for i, c := range res.Contacts {
		assert.Equal(t, ids[i], c.ID, "位置 %d 的联系人应与真实近邻一致", i)
	}

	// 轮数与网络规模呈对数关系
	assert.LessOrEqual(t, res.Rounds, 8, "查找应在 O(log N) 轮内收敛")

	t.Log("✅ 查找收敛到真实 k 近邻", "rounds:", res.Rounds)
}

// TestNode_RepublishKeepsTTL 测试重发布保留发布者指定的 TTL
func TestNode_RepublishKeepsTTL(t *testing.T) {
	net := rpc.NewMemNetwork()
	nodes := buildNetwork(t, net, 3)
	ctx := context.Background()

	key := types.NodeIDFromKey([]byte("short lived"))
	require.NoError(t, nodes[0].Store(ctx, key, []byte("v"), time.Minute))

	nodes[0].republishOriginValues()

	origin := nodes[0].store.OriginRecords()
	require.Len(t, origin, 1)
	assert.Equal(t, time.Minute, origin[0].TTL(), "重发布不得改写发布者指定的 TTL")

	// 远端副本同样保持一分钟
	for _, node := range nodes[1:] {
		recs := node.store.AllRecords()
		require.Len(t, recs, 1)
		assert.Equal(t, time.Minute, recs[0].TTL())
	}

	t.Log("✅ 重发布保留原始 TTL")
}

// TestNode_StoreSubSecondTTL 测试不足一秒的 TTL 不被远端误判为缺省
//
// 线上 TTL 以整秒传输；不足一秒的请求向上取整为一秒，
// 本地与远端副本保持一致。
func TestNode_StoreSubSecondTTL(t *testing.T) {
	net := rpc.NewMemNetwork()
	nodes := buildNetwork(t, net, 3)
	ctx := context.Background()

	key := types.NodeIDFromKey([]byte("blink"))
	require.NoError(t, nodes[0].Store(ctx, key, []byte("v"), 500*time.Millisecond))

	origin := nodes[0].store.OriginRecords()
	require.Len(t, origin, 1)
	assert.Equal(t, time.Second, origin[0].TTL())

	for _, node := range nodes[1:] {
		recs := node.store.AllRecords()
		require.Len(t, recs, 1)
		assert.Equal(t, time.Second, recs[0].TTL(), "远端不应回落到缺省 TTL")
	}

	t.Log("✅ 亚秒级 TTL 取整为一秒而非缺省值")
}
