// Package rpc 实现带事务关联与超时的请求/响应消息原语
package rpc

import (
	"encoding/json"

	"github.com/dep2p/go-kaddht/pkg/types"
)

// ============================================================================
//                              消息类型
// ============================================================================

// MessageType 消息类型
//
// 请求与响应成对定义：响应类型 = 请求类型 + 1。
type MessageType uint8

const (
	// MessageTypePing PING 请求
	MessageTypePing MessageType = iota + 1
	// MessageTypePingResponse PING 响应
	MessageTypePingResponse

	// MessageTypeStore STORE 请求
	MessageTypeStore
	// MessageTypeStoreResponse STORE 响应
	MessageTypeStoreResponse

	// MessageTypeFindNode FIND_NODE 请求
	MessageTypeFindNode
	// MessageTypeFindNodeResponse FIND_NODE 响应
	MessageTypeFindNodeResponse

	// MessageTypeFindValue FIND_VALUE 请求
	MessageTypeFindValue
	// MessageTypeFindValueResponse FIND_VALUE 响应
	MessageTypeFindValueResponse
)

// String 返回消息类型的字符串表示
func (m MessageType) String() string {
	switch m {
	case MessageTypePing:
		return "PING"
	case MessageTypePingResponse:
		return "PING_RESPONSE"
	case MessageTypeStore:
		return "STORE"
	case MessageTypeStoreResponse:
		return "STORE_RESPONSE"
	case MessageTypeFindNode:
		return "FIND_NODE"
	case MessageTypeFindNodeResponse:
		return "FIND_NODE_RESPONSE"
	case MessageTypeFindValue:
		return "FIND_VALUE"
	case MessageTypeFindValueResponse:
		return "FIND_VALUE_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// IsResponse 判断是否为响应类型
func (m MessageType) IsResponse() bool {
	return m%2 == 0
}

// IsValid 判断是否为协议内类型
func (m MessageType) IsValid() bool {
	return m >= MessageTypePing && m <= MessageTypeFindValueResponse
}

// Response 返回对应的响应类型
func (m MessageType) Response() MessageType {
	if m.IsResponse() {
		return m
	}
	return m + 1
}

// ============================================================================
//                              消息结构
// ============================================================================

// PeerRecord 联系人记录（消息传输用）
type PeerRecord struct {
	// ID 节点 ID
	ID types.NodeID `json:"id"`

	// Addr 节点地址
	Addr string `json:"addr"`
}

// Contact 转换为 types.Contact
func (p PeerRecord) Contact() types.Contact {
	return types.Contact{ID: p.ID, Addr: p.Addr}
}

// Message RPC 消息
//
// 字节编码/封帧是外部协作方的职责，本层只定义值的形状。
type Message struct {
	// TxID 事务 ID（每个在途请求唯一，用于匹配请求与响应）
	TxID string `json:"tx_id"`

	// Type 消息类型
	Type MessageType `json:"type"`

	// Sender 发送者节点 ID
	Sender types.NodeID `json:"sender"`

	// SenderAddr 发送者监听地址
	SenderAddr string `json:"sender_addr,omitempty"`

	// Target 目标节点 ID（FIND_NODE 用）
	Target types.NodeID `json:"target,omitempty"`

	// Key 键（STORE / FIND_VALUE 用，与 NodeID 同一键空间）
	Key types.NodeID `json:"key,omitempty"`

	// Value 值（STORE 请求 / FIND_VALUE 响应用）
	Value []byte `json:"value,omitempty"`

	// TTL 生存时间（秒，STORE 用）
	TTL uint32 `json:"ttl,omitempty"`

	// CloserPeers 更近的联系人列表（FIND_NODE / FIND_VALUE 响应用）
	CloserPeers []PeerRecord `json:"closer_peers,omitempty"`

	// Success 操作是否成功
	Success bool `json:"success,omitempty"`

	// Error 错误信息
	Error string `json:"error,omitempty"`
}

// SenderContact 返回发送者的联系人表示
func (m *Message) SenderContact() types.Contact {
	return types.Contact{ID: m.Sender, Addr: m.SenderAddr}
}

// ============================================================================
//                              消息编解码
// ============================================================================

// Encode 编码消息为字节数组
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage 从字节数组解码消息
func DecodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ============================================================================
//                              请求构造器
// ============================================================================

// NewPingRequest 创建 PING 请求
func NewPingRequest(sender types.Contact) *Message {
	return &Message{
		Type:       MessageTypePing,
		Sender:     sender.ID,
		SenderAddr: sender.Addr,
	}
}

// NewPingResponse 创建 PING 响应
func NewPingResponse(txID string, sender types.Contact) *Message {
	return &Message{
		Type:       MessageTypePingResponse,
		TxID:       txID,
		Sender:     sender.ID,
		SenderAddr: sender.Addr,
		Success:    true,
	}
}

// NewStoreRequest 创建 STORE 请求
func NewStoreRequest(sender types.Contact, key types.NodeID, value []byte, ttlSeconds uint32) *Message {
	return &Message{
		Type:       MessageTypeStore,
		Sender:     sender.ID,
		SenderAddr: sender.Addr,
		Key:        key,
		Value:      value,
		TTL:        ttlSeconds,
	}
}

// NewStoreResponse 创建 STORE 响应
func NewStoreResponse(txID string, sender types.Contact, success bool, errMsg string) *Message {
	return &Message{
		Type:       MessageTypeStoreResponse,
		TxID:       txID,
		Sender:     sender.ID,
		SenderAddr: sender.Addr,
		Success:    success,
		Error:      errMsg,
	}
}

// NewFindNodeRequest 创建 FIND_NODE 请求
func NewFindNodeRequest(sender types.Contact, target types.NodeID) *Message {
	return &Message{
		Type:       MessageTypeFindNode,
		Sender:     sender.ID,
		SenderAddr: sender.Addr,
		Target:     target,
	}
}

// NewFindNodeResponse 创建 FIND_NODE 响应
func NewFindNodeResponse(txID string, sender types.Contact, closerPeers []PeerRecord) *Message {
	return &Message{
		Type:        MessageTypeFindNodeResponse,
		TxID:        txID,
		Sender:      sender.ID,
		SenderAddr:  sender.Addr,
		CloserPeers: closerPeers,
		Success:     true,
	}
}

// NewFindValueRequest 创建 FIND_VALUE 请求
func NewFindValueRequest(sender types.Contact, key types.NodeID) *Message {
	return &Message{
		Type:       MessageTypeFindValue,
		Sender:     sender.ID,
		SenderAddr: sender.Addr,
		Key:        key,
	}
}

// NewFindValueResponse 创建 FIND_VALUE 响应（找到值）
func NewFindValueResponse(txID string, sender types.Contact, value []byte) *Message {
	return &Message{
		Type:       MessageTypeFindValueResponse,
		TxID:       txID,
		Sender:     sender.ID,
		SenderAddr: sender.Addr,
		Value:      value,
		Success:    true,
	}
}

// NewFindValueResponseWithPeers 创建 FIND_VALUE 响应（返回更近联系人）
func NewFindValueResponseWithPeers(txID string, sender types.Contact, closerPeers []PeerRecord) *Message {
	return &Message{
		Type:        MessageTypeFindValueResponse,
		TxID:        txID,
		Sender:      sender.ID,
		SenderAddr:  sender.Addr,
		CloserPeers: closerPeers,
		Success:     true,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(txID string, sender types.Contact, reqType MessageType, errMsg string) *Message {
	return &Message{
		Type:       reqType.Response(),
		TxID:       txID,
		Sender:     sender.ID,
		SenderAddr: sender.Addr,
		Success:    false,
		Error:      errMsg,
	}
}
