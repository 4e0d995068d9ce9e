package rpc

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ============================================================================
//                              内存传输（测试用）
// ============================================================================

// MemNetwork 进程内模拟网络
//
// 多个 MemTransport 共享一个注册表，按地址互相投递数据报。
// 支持两种故障注入：
//   - Silence：静默丢弃该节点的所有收发（触发超时路径）
//   - 未注册地址：Send 返回错误（触发不可达路径）
type MemNetwork struct {
	mu     sync.RWMutex
	nodes  map[string]*MemTransport
	silent map[string]bool
	nextID atomic.Int64
}

// NewMemNetwork 创建模拟网络
func NewMemNetwork() *MemNetwork {
	return &MemNetwork{
		nodes:  make(map[string]*MemTransport),
		silent: make(map[string]bool),
	}
}

// Transport 在网络中注册并返回一个新的内存传输
func (n *MemNetwork) Transport() *MemTransport {
	addr := fmt.Sprintf("mem:%d", n.nextID.Add(1))
	t := &MemTransport{network: n, addr: addr}

	n.mu.Lock()
	n.nodes[addr] = t
	n.mu.Unlock()
	return t
}

// Silence 静默指定地址（收发全部丢弃，模拟超时）
func (n *MemNetwork) Silence(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.silent[addr] = true
}

// Unsilence 恢复指定地址
func (n *MemNetwork) Unsilence(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.silent, addr)
}

// Unregister 注销指定地址（后续 Send 返回不可达错误）
func (n *MemNetwork) Unregister(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.nodes, addr)
}

// deliver 投递数据报
func (n *MemNetwork) deliver(from, to string, data []byte) error {
	n.mu.RLock()
	dst, ok := n.nodes[to]
	fromSilent := n.silent[from]
	toSilent := n.silent[to]
	n.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: no route to %s", ErrUnreachable, to)
	}
	if fromSilent || toSilent {
		// 静默丢弃：调用方只能靠超时发现
		return nil
	}

	dst.mu.RLock()
	handler := dst.handler
	closed := dst.closed
	dst.mu.RUnlock()

	if closed || handler == nil {
		return nil
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	go handler(from, cp)
	return nil
}

// MemTransport 内存传输
type MemTransport struct {
	network *MemNetwork
	addr    string

	mu      sync.RWMutex
	handler PacketHandler
	closed  bool
}

var _ Transport = (*MemTransport)(nil)

// Start 实现 Transport
func (t *MemTransport) Start(handler PacketHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.handler = handler
	return nil
}

// Send 实现 Transport
func (t *MemTransport) Send(addr string, data []byte) error {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return t.network.deliver(t.addr, addr, data)
}

// LocalAddr 实现 Transport
func (t *MemTransport) LocalAddr() string {
	return t.addr
}

// Close 实现 Transport
func (t *MemTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.network.Unregister(t.addr)
	return nil
}
