// Package store 实现带过期与重发布记账的本地键值存储
package store

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-kaddht/pkg/types"
)

// ============================================================================
//                              记录
// ============================================================================

// Record 一条存储记录
type Record struct {
	// Key 键（与 NodeID 同一键空间）
	Key types.NodeID

	// Value 值
	Value []byte

	// ExpiresAt 过期时间
	// 只经由重发布（新的 Put）单调重置，读取从不延长。
	ExpiresAt time.Time

	// Publisher 原始发布者
	Publisher types.Contact

	// Origin 本节点是否为原始发布者
	Origin bool

	// StoredAt 本地写入时间
	StoredAt time.Time
}

// RemainingTTL 返回相对 now 的剩余生存时间
func (r *Record) RemainingTTL(now time.Time) time.Duration {
	if !now.Before(r.ExpiresAt) {
		return 0
	}
	return r.ExpiresAt.Sub(now)
}

// TTL 返回写入时指定的完整生存时间
func (r *Record) TTL() time.Duration {
	return r.ExpiresAt.Sub(r.StoredAt)
}

// ============================================================================
//                              存储
// ============================================================================

// Store 本地键值存储
//
// 键级互斥、短临界区；过期清理由调用方周期性驱动。
type Store struct {
	// records 记录表
	records map[types.NodeID]*Record

	// clock 时钟（测试注入 mock）
	clock clock.Clock

	mu sync.RWMutex
}

// New 创建存储
func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{
		records: make(map[types.NodeID]*Record),
		clock:   clk,
	}
}

// Put 写入一条网络 STORE 的记录
//
// 重复 Put 视为重发布：过期时间重置为 now+ttl。
func (s *Store) Put(key types.NodeID, value []byte, ttl time.Duration, publisher types.Contact) {
	s.put(key, value, ttl, publisher, false)
}

// PutLocal 写入一条本地发起的记录
//
// 标记为 Origin，由发布者重发布例程按固定间隔刷新。
func (s *Store) PutLocal(key types.NodeID, value []byte, ttl time.Duration, publisher types.Contact) {
	s.put(key, value, ttl, publisher, true)
}

func (s *Store) put(key types.NodeID, value []byte, ttl time.Duration, publisher types.Contact, origin bool) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	// 本地发起过的键保持 Origin 标记，网络重发布不降级
	if existing, ok := s.records[key]; ok && existing.Origin {
		origin = true
	}

	s.records[key] = &Record{
		Key:       key,
		Value:     value,
		ExpiresAt: now.Add(ttl),
		Publisher: publisher,
		Origin:    origin,
		StoredAt:  now,
	}
}

// Get 读取值
//
// 过期的记录视为不存在；读取不延长过期时间。
func (s *Store) Get(key types.NodeID) ([]byte, bool) {
	now := s.clock.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[key]
	if !ok || !now.Before(r.ExpiresAt) {
		return nil, false
	}
	return r.Value, true
}

// Contains 判断键是否存在且未过期
func (s *Store) Contains(key types.NodeID) bool {
	_, ok := s.Get(key)
	return ok
}

// Size 返回未过期记录数
func (s *Store) Size() int {
	now := s.clock.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, r := range s.records {
		if now.Before(r.ExpiresAt) {
			n++
		}
	}
	return n
}

// ExpireSweep 移除所有过期记录，返回移除数量
func (s *Store) ExpireSweep() int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, r := range s.records {
		if !now.Before(r.ExpiresAt) {
			delete(s.records, key)
			n++
		}
	}
	return n
}

// OriginRecords 返回本地发起的待重发布记录
//
// 过期瞬间（now == ExpiresAt）的记录仍被选出：TTL 恰好等于
// 重发布间隔时，最后一个心跳落在过期边界上，此刻重发布依然
// 重置过期时间而不是让记录错过唯一一次刷新机会。
func (s *Store) OriginRecords() []Record {
	now := s.clock.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, r := range s.records {
		if r.Origin && !now.After(r.ExpiresAt) {
			out = append(out, *r)
		}
	}
	return out
}

// ReplicaRecords 返回非本地发起且未过期的记录（拓扑复制用）
func (s *Store) ReplicaRecords() []Record {
	return s.selectRecords(func(r *Record) bool { return !r.Origin })
}

// AllRecords 返回所有未过期记录
func (s *Store) AllRecords() []Record {
	return s.selectRecords(func(*Record) bool { return true })
}

func (s *Store) selectRecords(keep func(*Record) bool) []Record {
	now := s.clock.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, r := range s.records {
		if now.Before(r.ExpiresAt) && keep(r) {
			out = append(out, *r)
		}
	}
	return out
}
