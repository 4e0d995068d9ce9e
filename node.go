package kaddht

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-kaddht/internal/kbucket"
	"github.com/dep2p/go-kaddht/internal/rpc"
	"github.com/dep2p/go-kaddht/internal/store"
	"github.com/dep2p/go-kaddht/pkg/lib/log"
	"github.com/dep2p/go-kaddht/pkg/types"
)

var logger = log.Logger("kaddht")

// ════════════════════════════════════════════════════════════════════════════
//                              节点状态
// ════════════════════════════════════════════════════════════════════════════

// NodeState 节点状态
type NodeState int32

const (
	// StateIdle 空闲状态（已创建，未启动）
	StateIdle NodeState = iota

	// StateRunning 运行中
	StateRunning

	// StateStopped 已停止
	StateStopped
)

// String 返回状态的字符串表示
func (s NodeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              Node
// ════════════════════════════════════════════════════════════════════════════

// Node DHT 节点服务
//
// 将身份空间、路由表、RPC 层、迭代查找与本地存储装配为一个
// 对外提供 Join / Store / Get / Status 的节点。
type Node struct {
	cfg *Config

	clock     clock.Clock
	table     *kbucket.Table
	store     *store.Store
	messenger *rpc.Messenger
	metrics   *metrics

	state atomic.Int32

	// 维护例程生命周期
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New 创建节点
func New(opts ...Option) (*Node, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	return NewWithConfig(cfg)
}

// NewWithConfig 从配置创建节点
func NewWithConfig(cfg *Config) (*Node, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	localID := cfg.NodeID
	if localID.IsZero() {
		localID = types.NewRandomNodeID()
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	transport := cfg.Transport
	if transport == nil {
		transport = rpc.NewUDPTransport(cfg.ListenAddr)
	}

	n := &Node{
		cfg:    cfg,
		clock:  clk,
		table:  kbucket.NewTable(localID, cfg.K),
		store:  store.New(clk),
		stopCh: make(chan struct{}),
	}
	n.metrics = newMetrics(cfg.Registerer, n.table.Size, n.store.Size)

	local := types.NewContact(localID, transport.LocalAddr())
	n.messenger = rpc.NewMessenger(transport, local, cfg.RPCTimeout, n.metrics)
	n.messenger.SetHandler(n.handleRequest)
	n.messenger.SetObserver(n.updateContact)

	return n, nil
}

// Start 启动节点：绑定传输层并启动维护例程
func (n *Node) Start(_ context.Context) error {
	if !n.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		switch NodeState(n.state.Load()) {
		case StateRunning:
			return ErrAlreadyStarted
		default:
			return ErrNodeClosed
		}
	}

	if err := n.messenger.Start(); err != nil {
		n.state.Store(int32(StateStopped))
		return newKadError("start", err, "transport start failed")
	}

	n.wg.Add(3)
	go n.refreshLoop()
	go n.republishLoop()
	go n.sweepLoop()

	logger.Info("节点已启动",
		"id", n.Self().ID.ShortString(),
		"addr", n.Self().Addr,
		"k", n.cfg.K,
		"alpha", n.cfg.Alpha)
	return nil
}

// Stop 停止节点
func (n *Node) Stop() error {
	if !n.state.CompareAndSwap(int32(StateRunning), int32(StateStopped)) {
		if NodeState(n.state.Load()) == StateStopped {
			return nil
		}
		n.state.Store(int32(StateStopped))
		return nil
	}

	close(n.stopCh)
	err := n.messenger.Close()
	n.wg.Wait()

	logger.Info("节点已停止", "id", n.Self().ID.ShortString())
	return err
}

// State 返回当前状态
func (n *Node) State() NodeState {
	return NodeState(n.state.Load())
}

// Self 返回本地联系人
func (n *Node) Self() types.Contact {
	return n.messenger.LocalContact()
}

// ════════════════════════════════════════════════════════════════════════════
//                              对外操作
// ════════════════════════════════════════════════════════════════════════════

// Join 加入网络
//
// 先以引导联系人填充路由表，再对本地 ID 执行一次自查找以
// 发现近邻。全部引导联系人失败时返回 ErrJoinFailed，自查找
// 完成即返回。
func (n *Node) Join(ctx context.Context, bootstrap []types.Contact) error {
	if n.State() != StateRunning {
		return ErrNotStarted
	}
	if len(bootstrap) == 0 {
		return newKadError("join", ErrNoContacts, "no bootstrap contacts supplied")
	}

	self := n.Self()
	var mu sync.Mutex
	var merr error
	alive := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.cfg.Alpha)
	for _, c := range bootstrap {
		if c.ID == self.ID || c.ID.IsZero() {
			continue
		}
		c := c
		g.Go(func() error {
			err := n.Ping(gctx, c)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				merr = multierr.Append(merr, fmt.Errorf("bootstrap %s: %w", c, err))
			} else {
				alive++
			}
			return nil
		})
	}
	_ = g.Wait()

	if alive == 0 {
		msg := "no usable bootstrap contacts"
		if merr != nil {
			msg = merr.Error()
		}
		return newKadError("join", ErrJoinFailed, msg)
	}

	// 自查找发现近邻并填充沿途各桶
	if _, err := n.lookup(ctx, self.ID, lookupFindNode); err != nil {
		return newKadError("join", err, "self lookup")
	}

	logger.Info("已加入网络",
		"bootstrapAlive", alive,
		"tableSize", n.table.Size())
	return nil
}

// Ping 探测联系人存活
func (n *Node) Ping(ctx context.Context, c types.Contact) error {
	if n.State() != StateRunning {
		return ErrNotStarted
	}

	resp, err := n.messenger.Send(ctx, c, rpc.NewPingRequest(n.Self()))
	if err != nil {
		return err
	}
	if !resp.Success {
		return newKadError("ping", ErrUnreachable, resp.Error)
	}
	return nil
}

// Store 在网络中存储键值对
//
// 定位距键最近的 k 个联系人并向它们发送 STORE；本地总是保留
// 一份带发布者记账的副本，由重发布例程按固定间隔刷新。
// ttl 非正时使用 DefaultTTL。
func (n *Node) Store(ctx context.Context, key types.NodeID, value []byte, ttl time.Duration) error {
	if n.State() != StateRunning {
		return ErrNotStarted
	}
	if len(value) == 0 {
		return newKadError("store", ErrStoreFailed, "empty value")
	}
	if ttl <= 0 {
		ttl = n.cfg.DefaultTTL
	} else if ttl < time.Second {
		// 线上 TTL 以整秒传输，低于一秒会被远端归零后误判为缺省
		ttl = time.Second
	}

	res, err := n.lookup(ctx, key, lookupFindNode)
	if err != nil {
		return newKadError("store", err, "lookup closest contacts")
	}

	// 发布者本地副本（Origin 记账驱动重发布）
	n.store.PutLocal(key, value, ttl, n.Self())

	if len(res.Contacts) == 0 {
		// 孤立节点：仅本地存储
		return nil
	}

	acked, sendErr := n.storeAt(ctx, res.Contacts, key, value, ttl)
	if acked == 0 {
		msg := ""
		if sendErr != nil {
			msg = sendErr.Error()
		}
		return newKadError("store", ErrStoreFailed, msg)
	}

	logger.Debug("值已复制",
		"key", key.ShortString(),
		"acked", acked,
		"targets", len(res.Contacts))
	return nil
}

// storeAt 向一组联系人发送 STORE，返回确认数
//
// 扇出受 alpha 约束；单个失败不影响其余联系人。
func (n *Node) storeAt(ctx context.Context, targets []types.Contact, key types.NodeID, value []byte, ttl time.Duration) (int, error) {
	self := n.Self()
	ttlSecs := uint32(ttl / time.Second)
	if ttlSecs == 0 {
		// 不足一秒的剩余 TTL 向上取整，避免远端回落到缺省值
		ttlSecs = 1
	}

	var mu sync.Mutex
	var merr error
	acked := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.cfg.Alpha)
	for _, c := range targets {
		if c.ID == self.ID {
			continue
		}
		c := c
		g.Go(func() error {
			resp, err := n.messenger.Send(gctx, c, rpc.NewStoreRequest(self, key, value, ttlSecs))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				merr = multierr.Append(merr, fmt.Errorf("store at %s: %w", c, err))
			case !resp.Success:
				merr = multierr.Append(merr, fmt.Errorf("store at %s: %s", c, resp.Error))
			default:
				acked++
			}
			return nil
		})
	}
	_ = g.Wait()

	return acked, merr
}

// Get 从网络读取键对应的值
//
// 先查本地存储，再执行迭代 FIND_VALUE。查找穷尽未定位到值
// 时返回 ErrNotFound。
func (n *Node) Get(ctx context.Context, key types.NodeID) ([]byte, error) {
	if n.State() != StateRunning {
		return nil, ErrNotStarted
	}

	if value, ok := n.store.Get(key); ok {
		return value, nil
	}

	res, err := n.lookup(ctx, key, lookupFindValue)
	if err != nil {
		return nil, newKadError("get", err, "lookup")
	}
	if !res.Found {
		return nil, ErrNotFound
	}

	// 缓存优化：把值存到最近的、被查询过且未持有值的联系人
	if res.CacheTarget != nil {
		target := *res.CacheTarget
		value := res.Value
		go func() {
			cacheCtx, cancel := context.WithTimeout(context.Background(), n.cfg.RPCTimeout)
			defer cancel()
			ttlSecs := uint32(n.cfg.DefaultTTL / time.Second)
			_, err := n.messenger.Send(cacheCtx, target, rpc.NewStoreRequest(n.Self(), key, value, ttlSecs))
			if err != nil {
				logger.Debug("缓存存储失败", "target", target.ID.ShortString(), "error", err)
			}
		}()
	}

	return res.Value, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              路由表维护
// ════════════════════════════════════════════════════════════════════════════

// updateContact 记录一次与联系人的网络接触
//
// 信使对每条入站消息调用本方法。桶满时在新 goroutine 中
// 探测最久未见条目：响应则保留老条目、丢弃新联系人；
// 截止时间内未响应则驱逐并插入新联系人。
func (n *Node) updateContact(c types.Contact) {
	res := n.table.Update(c)
	if !res.NeedProbe {
		return
	}

	oldest := res.Oldest
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.RPCTimeout)
		defer cancel()

		err := n.Ping(ctx, oldest)
		n.table.ResolveProbe(oldest.ID, err == nil)
		if err != nil {
			logger.Debug("最久未见条目探测失败，驱逐",
				"contact", oldest.ID.ShortString(), "error", err)
		}
	}()
}
