package kaddht

import (
	"errors"
	"fmt"

	"github.com/dep2p/go-kaddht/internal/rpc"
)

// 预定义错误
var (
	// ────────────────────────────────────────────────────────────────────────
	// 节点生命周期错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrNotStarted 节点未启动
	ErrNotStarted = errors.New("kaddht: node not started")

	// ErrAlreadyStarted 节点已启动
	ErrAlreadyStarted = errors.New("kaddht: node already started")

	// ErrNodeClosed 节点已关闭
	ErrNodeClosed = errors.New("kaddht: node closed")

	// ────────────────────────────────────────────────────────────────────────
	// 操作错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrNotFound 查找穷尽未定位到值（面向调用方的结果，非故障）
	ErrNotFound = errors.New("kaddht: value not found")

	// ErrNoContacts 路由表中没有可用联系人
	ErrNoContacts = errors.New("kaddht: no known contacts")

	// ErrJoinFailed 所有引导联系人均失败
	ErrJoinFailed = errors.New("kaddht: all bootstrap contacts failed")

	// ErrStoreFailed 没有任何联系人确认 STORE
	ErrStoreFailed = errors.New("kaddht: store not acknowledged by any contact")

	// ErrInvalidConfig 无效配置
	ErrInvalidConfig = errors.New("kaddht: invalid config")
)

// RPC 层错误（重新导出，便于调用方匹配）
var (
	// ErrTimeout 截止时间内无响应（对端成为驱逐候选）
	ErrTimeout = rpc.ErrTimeout

	// ErrUnreachable 传输层投递失败（对端立即移除）
	ErrUnreachable = rpc.ErrUnreachable
)

// KadError 带操作上下文的错误
type KadError struct {
	Op      string // 操作名称
	Err     error  // 底层错误
	Message string // 错误消息
}

// Error 实现 error 接口
func (e *KadError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("kaddht %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("kaddht %s: %v", e.Op, e.Err)
}

// Unwrap 实现错误解包
func (e *KadError) Unwrap() error {
	return e.Err
}

// newKadError 创建 KadError
func newKadError(op string, err error, message string) *KadError {
	return &KadError{
		Op:      op,
		Err:     err,
		Message: message,
	}
}
