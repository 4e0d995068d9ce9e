package kaddht

import (
	"context"
	"time"

	"github.com/dep2p/go-kaddht/internal/kbucket"
	"github.com/dep2p/go-kaddht/internal/store"
)

// ============================================================================
//                              周期维护
// ============================================================================

// refreshLoop 桶刷新循环
//
// 对超出过期窗口的桶，以其距离域内的随机 ID 执行一次
// FIND_NODE 查找来发现/验证联系人；随后执行一次拓扑复制：
// 本节点位于某键的 k 近邻时把持有的副本推给其余近邻。
func (n *Node) refreshLoop() {
	defer n.wg.Done()

	ticker := n.clock.Ticker(n.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.refreshStaleBuckets()
			n.replicateHeldValues()
		}
	}
}

// refreshStaleBuckets 刷新所有过期的桶
func (n *Node) refreshStaleBuckets() {
	stale := n.table.BucketsNeedingRefresh(n.cfg.RefreshInterval)
	if len(stale) == 0 {
		return
	}

	refreshed := 0
	for _, idx := range stale {
		select {
		case <-n.stopCh:
			return
		default:
		}

		target := n.table.RandomRefreshTarget(idx)

		ctx, cancel := context.WithTimeout(context.Background(), n.lookupBudget())
		_, err := n.lookup(ctx, target, lookupFindNode)
		cancel()
		if err != nil {
			logger.Debug("桶刷新查找失败", "bucket", idx, "error", err)
		}

		n.table.MarkBucketRefreshed(idx)
		refreshed++
	}

	logger.Debug("桶刷新完成", "buckets", refreshed, "tableSize", n.table.Size())
}

// replicateHeldValues 拓扑复制
//
// 对每个持有的副本，若本节点仍位于该键的 k 近邻之内，
// 将其以剩余 TTL 重新推给当前 k 近邻，使复制覆盖随拓扑
// 变化而不依赖发布者在线。
func (n *Node) replicateHeldValues() {
	records := n.store.ReplicaRecords()
	if len(records) == 0 {
		return
	}

	now := n.clock.Now()
	for _, rec := range records {
		select {
		case <-n.stopCh:
			return
		default:
		}

		if !n.isAmongClosest(rec) {
			continue
		}

		remaining := rec.RemainingTTL(now)
		if remaining <= 0 {
			continue
		}

		targets := n.table.NearestContacts(rec.Key, n.cfg.K)
		ctx, cancel := context.WithTimeout(context.Background(), n.lookupBudget())
		acked, err := n.storeAt(ctx, targets, rec.Key, rec.Value, remaining)
		cancel()
		if err != nil {
			logger.Debug("拓扑复制部分失败",
				"key", rec.Key.ShortString(), "acked", acked, "error", err)
		}
	}
}

// isAmongClosest 判断本节点是否位于记录键的 k 近邻内
func (n *Node) isAmongClosest(rec store.Record) bool {
	closest := n.table.NearestContacts(rec.Key, n.cfg.K)
	if len(closest) < n.cfg.K {
		return true
	}
	kth := closest[len(closest)-1]
	return kbucket.CompareDistance(n.Self().ID, kth.ID, rec.Key) < 0
}

// republishLoop 发布者重发布循环
//
// 本地发起的值在 TTL 失效前重新走一遍 Store，
// 重置过期时间并把复制推进到当前最近的 k 个联系人。
func (n *Node) republishLoop() {
	defer n.wg.Done()

	ticker := n.clock.Ticker(n.cfg.RepublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.republishOriginValues()
		}
	}
}

// republishOriginValues 重发布所有本地发起的值
//
// 以记录的原始 TTL 重新走一遍 Store，重置过期时间；
// 发布者指定的生存时间在重发布后保持不变。
func (n *Node) republishOriginValues() {
	records := n.store.OriginRecords()
	for _, rec := range records {
		select {
		case <-n.stopCh:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), n.lookupBudget())
		err := n.Store(ctx, rec.Key, rec.Value, rec.TTL())
		cancel()
		if err != nil {
			logger.Warn("重发布失败", "key", rec.Key.ShortString(), "error", err)
		}
	}

	if len(records) > 0 {
		logger.Debug("重发布完成", "values", len(records))
	}
}

// sweepLoop 过期清扫循环
func (n *Node) sweepLoop() {
	defer n.wg.Done()

	ticker := n.clock.Ticker(n.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			if removed := n.store.ExpireSweep(); removed > 0 {
				logger.Debug("过期清扫", "removed", removed)
			}
		}
	}
}

// lookupBudget 单次维护查找的时间预算
//
// 查找轮数与网络规模呈对数关系，给足若干轮的截止时间即可。
func (n *Node) lookupBudget() time.Duration {
	return 8 * n.cfg.RPCTimeout
}
