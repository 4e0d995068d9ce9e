package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dep2p/go-kaddht/pkg/types"
)

// ============================================================================
//                              Messenger
// ============================================================================

// seenCacheSize 重复请求抑制缓存容量
const seenCacheSize = 4096

// RequestHandler 入站请求处理函数
//
// 返回 nil 表示不回应（请求被丢弃）。
type RequestHandler func(from types.Contact, req *Message) *Message

// ContactObserver 联系人观察回调
//
// 每收到一条消息（请求或响应）都会触发一次：
// 所有网络接触都是存活信号，而不仅是成功的往返。
type ContactObserver func(c types.Contact)

// Recorder 指标记录接口（可为 nil）
type Recorder interface {
	// RPCSent 记录一次出站请求
	RPCSent(kind string)

	// RPCReceived 记录一次入站请求
	RPCReceived(kind string)

	// RPCTimeout 记录一次请求超时
	RPCTimeout()

	// RPCMalformed 记录一次畸形消息
	RPCMalformed()
}

// pendingCall 一次在途请求
type pendingCall struct {
	ch   chan *Message
	want MessageType
}

// Messenger 请求/响应信使
//
// 为每个出站请求打上唯一事务 ID，挂起调用方直到匹配的响应
// 到达或截止时间超过。迟到的响应被忽略（不影响已完成的调用），
// 但仍会触发联系人观察回调。
type Messenger struct {
	// transport 底层数据报传输
	transport Transport

	// local 本地联系人（为出站请求填充发送者字段）
	local types.Contact

	// timeout 单次 RPC 截止时间
	timeout time.Duration

	// pending 在途请求表（事务 ID → 等待通道）
	pending map[string]pendingCall
	mu      sync.Mutex

	// seen 已处理请求事务 ID（抑制重放的重复请求）
	seen *lru.LRU[string, struct{}]

	// handler 入站请求处理
	handler RequestHandler

	// observer 联系人观察回调
	observer ContactObserver

	// recorder 指标记录（可为 nil）
	recorder Recorder
}

// NewMessenger 创建信使
func NewMessenger(transport Transport, local types.Contact, timeout time.Duration, recorder Recorder) *Messenger {
	return &Messenger{
		transport: transport,
		local:     local,
		timeout:   timeout,
		pending:   make(map[string]pendingCall),
		seen:      lru.NewLRU[string, struct{}](seenCacheSize, nil, 2*timeout),
		recorder:  recorder,
	}
}

// SetHandler 设置入站请求处理函数（Start 之前调用）
func (m *Messenger) SetHandler(h RequestHandler) {
	m.handler = h
}

// SetObserver 设置联系人观察回调（Start 之前调用）
func (m *Messenger) SetObserver(o ContactObserver) {
	m.observer = o
}

// LocalContact 返回本地联系人
func (m *Messenger) LocalContact() types.Contact {
	return m.local
}

// Start 启动底层传输
func (m *Messenger) Start() error {
	if err := m.transport.Start(m.handlePacket); err != nil {
		return err
	}
	// 传输层可能分配了实际端口
	m.local.Addr = m.transport.LocalAddr()
	return nil
}

// Close 关闭信使与底层传输
func (m *Messenger) Close() error {
	return m.transport.Close()
}

// Send 发送请求并等待匹配的响应
//
// 结果为响应、ErrTimeout 或 ErrUnreachable。
// 调用期间不持有任何锁跨越网络等待。
func (m *Messenger) Send(ctx context.Context, to types.Contact, req *Message) (*Message, error) {
	req.TxID = uuid.NewString()
	req.Sender = m.local.ID
	req.SenderAddr = m.local.Addr

	data, err := req.Encode()
	if err != nil {
		return nil, fmt.Errorf("rpc: encode request: %w", err)
	}

	ch := make(chan *Message, 1)
	m.mu.Lock()
	m.pending[req.TxID] = pendingCall{ch: ch, want: req.Type.Response()}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pending, req.TxID)
		m.mu.Unlock()
	}()

	if err := m.transport.Send(to.Addr, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if m.recorder != nil {
		m.recorder.RPCSent(req.Type.String())
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		if m.recorder != nil {
			m.recorder.RPCTimeout()
		}
		return nil, fmt.Errorf("%w: %s to %s", ErrTimeout, req.Type, to)
	case resp := <-ch:
		return resp, nil
	}
}

// handlePacket 处理一个入站数据报
//
// 畸形或协议外的消息被丢弃并记录，绝不导致服务崩溃。
func (m *Messenger) handlePacket(from string, data []byte) {
	msg, err := DecodeMessage(data)
	if err != nil {
		logger.Debug("丢弃畸形数据报", "from", from, "error", err)
		if m.recorder != nil {
			m.recorder.RPCMalformed()
		}
		return
	}
	if !msg.Type.IsValid() || msg.Sender.IsZero() || msg.Sender == m.local.ID {
		logger.Debug("丢弃协议外消息", "from", from, "type", msg.Type)
		if m.recorder != nil {
			m.recorder.RPCMalformed()
		}
		return
	}

	contact := msg.SenderContact()
	if contact.Addr == "" {
		contact.Addr = from
	}
	contact.LastSeen = time.Now()

	// 任何入站消息都是存活信号
	if m.observer != nil {
		m.observer(contact)
	}

	if msg.Type.IsResponse() {
		m.deliverResponse(msg)
		return
	}

	if m.recorder != nil {
		m.recorder.RPCReceived(msg.Type.String())
	}

	// 重放的重复请求只处理一次
	if msg.TxID != "" {
		if _, dup := m.seen.Get(msg.TxID); dup {
			return
		}
		m.seen.Add(msg.TxID, struct{}{})
	}

	if m.handler == nil {
		return
	}
	resp := m.handler(contact, msg)
	if resp == nil {
		return
	}

	respData, err := resp.Encode()
	if err != nil {
		logger.Error("编码响应失败", "type", resp.Type, "error", err)
		return
	}
	// 回复到数据报来源地址
	if err := m.transport.Send(from, respData); err != nil {
		logger.Debug("发送响应失败", "to", from, "error", err)
	}
}

// deliverResponse 投递响应到等待的调用方
//
// 无在途请求匹配（迟到或伪造）时静默丢弃。事务 ID 匹配但
// 类型不符的响应同样丢弃，且不消耗在途请求：调用方继续等待
// 真正匹配的响应或超时。
func (m *Messenger) deliverResponse(msg *Message) {
	m.mu.Lock()
	call, ok := m.pending[msg.TxID]
	if ok && call.want == msg.Type {
		delete(m.pending, msg.TxID)
	}
	m.mu.Unlock()

	if !ok || call.want != msg.Type {
		logger.Debug("丢弃未关联的响应", "txID", msg.TxID, "type", msg.Type)
		return
	}

	select {
	case call.ch <- msg:
	default:
	}
}
