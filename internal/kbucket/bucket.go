package kbucket

import (
	"sync"
	"time"

	"github.com/dep2p/go-kaddht/pkg/types"
)

// ============================================================================
//                              K 桶
// ============================================================================

// Bucket K 桶
//
// 容量为 k 的联系人列表，最近活跃的在前，最久未见的在尾。
// 桶内不允许重复 NodeID。桶满时新联系人进入替换缓存，
// 等待最久未见条目的 PING 探测结果。
type Bucket struct {
	// capacity 桶容量（k）
	capacity int

	// contacts 联系人列表（最近活跃的在前）
	contacts []types.Contact

	// replacements 替换缓存（桶满时的候选联系人）
	replacements []types.Contact

	// replacementCap 替换缓存容量
	replacementCap int

	// pendingProbe 正在被探测的最久未见条目 ID
	// 置位期间不重复发起对同一条目的探测
	pendingProbe types.NodeID
	probing      bool

	// lastRefresh 最后刷新时间
	lastRefresh time.Time

	mu sync.RWMutex
}

// newBucket 创建 K 桶
func newBucket(capacity, replacementCap int) *Bucket {
	return &Bucket{
		capacity:       capacity,
		replacementCap: replacementCap,
		contacts:       make([]types.Contact, 0, capacity),
		lastRefresh:    time.Now(),
	}
}

// Size 返回桶中联系人数量
func (b *Bucket) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.contacts)
}

// ReplacementSize 返回替换缓存中的联系人数量
func (b *Bucket) ReplacementSize() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.replacements)
}

// IsFull 检查桶是否已满
func (b *Bucket) IsFull() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.contacts) >= b.capacity
}

// Contacts 返回所有联系人（副本，最近活跃的在前）
func (b *Bucket) Contacts() []types.Contact {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]types.Contact, len(b.contacts))
	copy(result, b.contacts)
	return result
}

// Get 获取指定联系人
func (b *Bucket) Get(id types.NodeID) (types.Contact, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, c := range b.contacts {
		if c.ID == id {
			return c, true
		}
	}
	return types.Contact{}, false
}

// update 更新联系人
//
// 已存在则移动到最近活跃端；未满则插入；
// 已满则放入替换缓存并返回需要探测的最久未见条目。
// 返回值 (needProbe, oldest)。
func (b *Bucket) update(c types.Contact) (bool, types.Contact) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// 已存在：移动到最近活跃端并更新地址
	for i, existing := range b.contacts {
		if existing.ID == c.ID {
			b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
			b.contacts = append([]types.Contact{c}, b.contacts...)
			return false, types.Contact{}
		}
	}

	// 未满：直接插入到最近活跃端
	if len(b.contacts) < b.capacity {
		b.contacts = append([]types.Contact{c}, b.contacts...)
		return false, types.Contact{}
	}

	// 桶已满：记入替换缓存，交由调用方探测最久未见条目
	b.addReplacementLocked(c)

	oldest := b.contacts[len(b.contacts)-1]
	if b.probing {
		// 已有探测在途，不重复发起
		return false, types.Contact{}
	}
	b.probing = true
	b.pendingProbe = oldest.ID
	return true, oldest
}

// addReplacementLocked 添加到替换缓存（调用方已持有锁）
func (b *Bucket) addReplacementLocked(c types.Contact) {
	for i, existing := range b.replacements {
		if existing.ID == c.ID {
			b.replacements = append(b.replacements[:i], b.replacements[i+1:]...)
			b.replacements = append([]types.Contact{c}, b.replacements...)
			return
		}
	}

	b.replacements = append([]types.Contact{c}, b.replacements...)
	if len(b.replacements) > b.replacementCap {
		b.replacements = b.replacements[:b.replacementCap]
	}
}

// resolveProbe 应用最久未见条目的探测结果
//
// alive 为真：保留旧条目并移动到最近活跃端（偏向已验证的老节点）。
// alive 为假：驱逐旧条目，从替换缓存提升最新候选。
func (b *Bucket) resolveProbe(oldest types.NodeID, alive bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.probing || b.pendingProbe != oldest {
		return
	}
	b.probing = false
	b.pendingProbe = types.NodeID{}

	idx := -1
	for i, c := range b.contacts {
		if c.ID == oldest {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	if alive {
		// 响应了探测：移动到最近活跃端
		c := b.contacts[idx]
		c.LastSeen = time.Now()
		b.contacts = append(b.contacts[:idx], b.contacts[idx+1:]...)
		b.contacts = append([]types.Contact{c}, b.contacts...)
		return
	}

	// 未响应：驱逐并提升替换缓存中最新的候选
	b.contacts = append(b.contacts[:idx], b.contacts[idx+1:]...)
	if len(b.replacements) > 0 {
		promoted := b.replacements[0]
		b.replacements = b.replacements[1:]
		b.contacts = append([]types.Contact{promoted}, b.contacts...)
	}
}

// remove 移除联系人
func (b *Bucket) remove(id types.NodeID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, c := range b.contacts {
		if c.ID == id {
			b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
			if len(b.replacements) > 0 {
				promoted := b.replacements[0]
				b.replacements = b.replacements[1:]
				b.contacts = append(b.contacts, promoted)
			}
			return true
		}
	}

	for i, c := range b.replacements {
		if c.ID == id {
			b.replacements = append(b.replacements[:i], b.replacements[i+1:]...)
			return true
		}
	}

	return false
}

// NeedRefresh 检查是否超过刷新窗口
func (b *Bucket) NeedRefresh(window time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return time.Since(b.lastRefresh) > window
}

// MarkRefreshed 标记已刷新
func (b *Bucket) MarkRefreshed() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastRefresh = time.Now()
}

// LastRefresh 返回最后刷新时间
func (b *Bucket) LastRefresh() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastRefresh
}
