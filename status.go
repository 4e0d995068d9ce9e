package kaddht

import (
	"time"

	"github.com/dep2p/go-kaddht/pkg/types"
)

// ============================================================================
//                              状态快照
// ============================================================================

// BucketStatus 单个桶的状态
type BucketStatus struct {
	// Index 桶索引（距离最高置位比特位置）
	Index int `json:"index"`

	// Contacts 联系人（最近活跃的在前）
	Contacts []types.Contact `json:"contacts"`

	// Replacements 替换缓存深度
	Replacements int `json:"replacements"`

	// LastRefresh 最后刷新时间
	LastRefresh time.Time `json:"last_refresh"`
}

// Status 节点只读状态快照
type Status struct {
	// Self 本地联系人
	Self types.Contact `json:"self"`

	// State 节点状态
	State string `json:"state"`

	// TableSize 路由表联系人总数
	TableSize int `json:"table_size"`

	// StoreSize 本地未过期记录数
	StoreSize int `json:"store_size"`

	// Buckets 非空桶的占用情况
	Buckets []BucketStatus `json:"buckets"`
}

// Status 返回路由表与存储的只读快照
func (n *Node) Status() Status {
	snap := n.table.Snapshot()

	buckets := make([]BucketStatus, 0, len(snap))
	for _, b := range snap {
		buckets = append(buckets, BucketStatus{
			Index:        b.Index,
			Contacts:     b.Contacts,
			Replacements: b.Replacements,
			LastRefresh:  b.LastRefresh,
		})
	}

	return Status{
		Self:      n.Self(),
		State:     n.State().String(),
		TableSize: n.table.Size(),
		StoreSize: n.store.Size(),
		Buckets:   buckets,
	}
}
