// Package types 定义 kaddht 的公共值类型
//
// NodeID 与 Contact 同时被路由表、RPC 层和存储层使用，
// 因此放在独立的 types 包中避免循环依赖。
package types

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ============================================================================
//                              NodeID
// ============================================================================

// IDBytes NodeID 字节长度（160 位）
const IDBytes = 20

// IDBits NodeID 位长度
const IDBits = IDBytes * 8

// NodeID 节点标识符
//
// 固定 160 位，同时作为存储键的键空间。
// 字节按大端序解释：index 0 为最高位字节。
type NodeID [IDBytes]byte

// ErrInvalidNodeID NodeID 格式无效
var ErrInvalidNodeID = errors.New("types: invalid node ID")

// NewRandomNodeID 生成随机 NodeID
func NewRandomNodeID() NodeID {
	var id NodeID
	if _, err := rand.Read(id[:]); err != nil {
		// crypto/rand 失败意味着系统熵源不可用，无法继续
		panic(fmt.Sprintf("types: read random: %v", err))
	}
	return id
}

// NodeIDFromKey 从任意字节串派生 NodeID（SHA-1 映射到键空间）
func NodeIDFromKey(key []byte) NodeID {
	return NodeID(sha1.Sum(key))
}

// NodeIDFromBytes 从字节切片构造 NodeID
func NodeIDFromBytes(b []byte) (NodeID, error) {
	var id NodeID
	if len(b) != IDBytes {
		return id, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidNodeID, len(b), IDBytes)
	}
	copy(id[:], b)
	return id, nil
}

// ParseNodeID 从十六进制字符串解析 NodeID
func ParseNodeID(s string) (NodeID, error) {
	var id NodeID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidNodeID, err)
	}
	return NodeIDFromBytes(b)
}

// String 返回十六进制表示
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// ShortString 返回截断的十六进制表示（日志用）
func (id NodeID) ShortString() string {
	return hex.EncodeToString(id[:4])
}

// Equal 判断两个 NodeID 是否相等
func (id NodeID) Equal(other NodeID) bool {
	return id == other
}

// IsZero 判断是否为零值
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

// Bytes 返回字节副本
func (id NodeID) Bytes() []byte {
	b := make([]byte, IDBytes)
	copy(b, id[:])
	return b
}

// MarshalJSON 编码为十六进制字符串
func (id NodeID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON 从十六进制字符串解码
func (id *NodeID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseNodeID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ============================================================================
//                              Contact
// ============================================================================

// Contact 已知对端
//
// 身份由 ID 决定；Addr 与 LastSeen 可变。
type Contact struct {
	// ID 节点 ID
	ID NodeID `json:"id"`

	// Addr 网络地址（host:port）
	Addr string `json:"addr"`

	// LastSeen 最后一次收到该节点消息的时间
	LastSeen time.Time `json:"last_seen,omitempty"`
}

// NewContact 创建 Contact
func NewContact(id NodeID, addr string) Contact {
	return Contact{
		ID:       id,
		Addr:     addr,
		LastSeen: time.Now(),
	}
}

// String 返回可读表示
func (c Contact) String() string {
	return fmt.Sprintf("%s@%s", c.ID.ShortString(), c.Addr)
}
