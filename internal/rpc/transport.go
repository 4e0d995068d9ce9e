package rpc

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-kaddht/pkg/lib/log"
)

var logger = log.Logger("kaddht/rpc")

// 预定义错误
var (
	// ErrTimeout 请求超时（对端成为驱逐候选）
	ErrTimeout = errors.New("rpc: request timeout")

	// ErrUnreachable 传输层投递失败（对端立即移除）
	ErrUnreachable = errors.New("rpc: peer unreachable")

	// ErrClosed 传输层已关闭
	ErrClosed = errors.New("rpc: transport closed")
)

// maxDatagramSize 单个数据报大小上限
const maxDatagramSize = 64 * 1024

// PacketHandler 入站数据报处理函数
//
// from 为数据报来源地址；data 在回调期间有效，处理方不得持有。
type PacketHandler func(from string, data []byte)

// Transport 数据报传输抽象
//
// 字节封帧与加密属于外部协作方，这里只要求不可靠的数据报投递。
type Transport interface {
	// Start 开始接收，入站数据报经 handler 回调
	Start(handler PacketHandler) error

	// Send 向指定地址发送数据报
	Send(addr string, data []byte) error

	// LocalAddr 返回实际监听地址
	LocalAddr() string

	// Close 关闭传输层
	Close() error
}

// ============================================================================
//                              UDP 传输
// ============================================================================

// UDPTransport 基于 UDP 的数据报传输
type UDPTransport struct {
	// listenAddr 期望监听地址
	listenAddr string

	conn   *net.UDPConn
	closed atomic.Bool
	wg     sync.WaitGroup
}

// NewUDPTransport 创建 UDP 传输
func NewUDPTransport(listenAddr string) *UDPTransport {
	return &UDPTransport{listenAddr: listenAddr}
}

// Start 绑定监听地址并启动读循环
func (t *UDPTransport) Start(handler PacketHandler) error {
	addr, err := net.ResolveUDPAddr("udp", t.listenAddr)
	if err != nil {
		return fmt.Errorf("rpc: resolve listen addr: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("rpc: listen udp: %w", err)
	}
	t.conn = conn

	t.wg.Add(1)
	go t.readLoop(handler)

	logger.Info("UDP 传输已启动", "addr", conn.LocalAddr().String())
	return nil
}

// readLoop 读循环
//
// 每个入站数据报作为独立并发任务处理。
func (t *UDPTransport) readLoop(handler PacketHandler) {
	defer t.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if t.closed.Load() {
				return
			}
			logger.Warn("读取数据报失败", "error", err)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		go handler(from.String(), data)
	}
}

// Send 发送数据报到指定地址
func (t *UDPTransport) Send(addr string, data []byte) error {
	if t.closed.Load() || t.conn == nil {
		return ErrClosed
	}
	if len(data) > maxDatagramSize {
		return fmt.Errorf("%w: datagram too large (%d bytes)", ErrUnreachable, len(data))
	}

	dst, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	if _, err := t.conn.WriteToUDP(data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return nil
}

// LocalAddr 返回实际监听地址
func (t *UDPTransport) LocalAddr() string {
	if t.conn == nil {
		return t.listenAddr
	}
	return t.conn.LocalAddr().String()
}

// Close 关闭传输层并等待读循环退出
func (t *UDPTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if t.conn != nil {
		err = t.conn.Close()
	}
	t.wg.Wait()
	return err
}
