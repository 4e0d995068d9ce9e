package kbucket

import (
	"sort"
	"time"

	"github.com/dep2p/go-kaddht/pkg/types"
)

// ============================================================================
//                              路由表
// ============================================================================

// UpdateResult Update 的结果
type UpdateResult struct {
	// NeedProbe 桶已满，需要探测最久未见条目
	NeedProbe bool

	// Oldest 待探测的最久未见条目（NeedProbe 为真时有效）
	Oldest types.Contact
}

// Table K 桶路由表
//
// 按「与本地 ID 的 XOR 距离最高置位比特位置」索引的 160 个 K 桶。
// 除本地节点外的每个已知联系人恰好占据一个桶。
//
// 并发约束：所有变更在桶级锁内完成，锁从不跨网络等待持有；
// 桶满时的 PING 探测由调用方在锁外执行，结果经 ResolveProbe 回写。
type Table struct {
	// localID 本地节点 ID
	localID types.NodeID

	// buckets K 桶数组（IDBits 个）
	buckets []*Bucket

	// capacity 桶容量（k）
	capacity int
}

// BucketSnapshot 单个桶的只读快照
type BucketSnapshot struct {
	// Index 桶索引
	Index int

	// Contacts 联系人（最近活跃的在前）
	Contacts []types.Contact

	// Replacements 替换缓存深度
	Replacements int

	// LastRefresh 最后刷新时间
	LastRefresh time.Time
}

// NewTable 创建路由表
func NewTable(localID types.NodeID, capacity int) *Table {
	t := &Table{
		localID:  localID,
		buckets:  make([]*Bucket, types.IDBits),
		capacity: capacity,
	}
	for i := range t.buckets {
		t.buckets[i] = newBucket(capacity, capacity)
	}
	return t
}

// LocalID 返回本地节点 ID
func (t *Table) LocalID() types.NodeID {
	return t.localID
}

// Capacity 返回桶容量（k）
func (t *Table) Capacity() int {
	return t.capacity
}

// Update 记录一次与联系人的网络交互
//
// 已存在则移动到最近活跃端；桶未满则插入；桶满则将联系人
// 放入替换缓存，并返回需要调用方探测的最久未见条目。
// 本地 ID 被忽略。
func (t *Table) Update(c types.Contact) UpdateResult {
	if c.ID == t.localID || c.ID.IsZero() {
		return UpdateResult{}
	}

	idx := BucketIndex(t.localID, c.ID)
	needProbe, oldest := t.buckets[idx].update(c)
	return UpdateResult{NeedProbe: needProbe, Oldest: oldest}
}

// ResolveProbe 回写最久未见条目的探测结果
//
// alive 为真保留旧条目（新联系人留在替换缓存），
// 为假则驱逐旧条目并提升替换缓存候选。
func (t *Table) ResolveProbe(oldest types.NodeID, alive bool) {
	if oldest == t.localID {
		return
	}
	idx := BucketIndex(t.localID, oldest)
	if idx < 0 {
		return
	}
	t.buckets[idx].resolveProbe(oldest, alive)
}

// Remove 移除联系人（不可恢复的 RPC 失败后使用）
func (t *Table) Remove(id types.NodeID) bool {
	if id == t.localID {
		return false
	}
	idx := BucketIndex(t.localID, id)
	if idx < 0 {
		return false
	}
	return t.buckets[idx].remove(id)
}

// Get 获取联系人
func (t *Table) Get(id types.NodeID) (types.Contact, bool) {
	if id == t.localID {
		return types.Contact{}, false
	}
	idx := BucketIndex(t.localID, id)
	if idx < 0 {
		return types.Contact{}, false
	}
	return t.buckets[idx].Get(id)
}

// Size 返回路由表中的联系人总数
func (t *Table) Size() int {
	total := 0
	for _, b := range t.buckets {
		total += b.Size()
	}
	return total
}

// NearestContacts 查找距 target 最近的 count 个联系人
//
// 结果按到 target 的距离升序排列，按 NodeID 去重。
func (t *Table) NearestContacts(target types.NodeID, count int) []types.Contact {
	var all []types.Contact
	seen := make(map[types.NodeID]struct{})
	for _, b := range t.buckets {
		for _, c := range b.Contacts() {
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = struct{}{}
			all = append(all, c)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return CompareDistance(all[i].ID, all[j].ID, target) < 0
	})

	if len(all) > count {
		all = all[:count]
	}
	return all
}

// BucketsNeedingRefresh 返回超出刷新窗口的非空邻域桶索引
//
// 空桶也参与刷新，以便发现其距离域内的新节点。
func (t *Table) BucketsNeedingRefresh(window time.Duration) []int {
	var indices []int
	for i, b := range t.buckets {
		if b.NeedRefresh(window) {
			indices = append(indices, i)
		}
	}
	return indices
}

// MarkBucketRefreshed 标记桶已刷新
func (t *Table) MarkBucketRefreshed(idx int) {
	if idx >= 0 && idx < len(t.buckets) {
		t.buckets[idx].MarkRefreshed()
	}
}

// MarkRefreshedFor 标记 target 所属的桶已刷新
func (t *Table) MarkRefreshedFor(target types.NodeID) {
	idx := BucketIndex(t.localID, target)
	if idx >= 0 {
		t.buckets[idx].MarkRefreshed()
	}
}

// RandomRefreshTarget 返回落在指定桶距离域内的随机目标 ID
func (t *Table) RandomRefreshTarget(idx int) types.NodeID {
	return RandomIDInBucket(t.localID, idx)
}

// Snapshot 返回非空桶的只读快照（状态查询用）
func (t *Table) Snapshot() []BucketSnapshot {
	var snap []BucketSnapshot
	for i, b := range t.buckets {
		contacts := b.Contacts()
		if len(contacts) == 0 {
			continue
		}
		snap = append(snap, BucketSnapshot{
			Index:        i,
			Contacts:     contacts,
			Replacements: b.ReplacementSize(),
			LastRefresh:  b.LastRefresh(),
		})
	}
	return snap
}
