package kaddht

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/dep2p/go-kaddht/internal/kbucket"
	"github.com/dep2p/go-kaddht/internal/rpc"
	"github.com/dep2p/go-kaddht/pkg/types"
)

// ============================================================================
//                           迭代查找
// ============================================================================

// lookupKind 查找类型
type lookupKind int

const (
	// lookupFindNode FIND_NODE 查找
	lookupFindNode lookupKind = iota

	// lookupFindValue FIND_VALUE 查找
	lookupFindValue
)

// lookupResult 查找结果
type lookupResult struct {
	// Contacts 最终候选表：距目标最近的至多 k 个联系人（距离升序）
	Contacts []types.Contact

	// Found 是否找到值（FIND_VALUE）
	Found bool

	// Value 找到的值
	Value []byte

	// FoundAt 返回值的联系人
	FoundAt types.Contact

	// CacheTarget 距目标最近、被查询过且未持有值的联系人
	// （FIND_VALUE 缓存优化的目标），可能为空
	CacheTarget *types.Contact

	// Rounds 经过的轮数
	Rounds int
}

// lookupState 单次查找的全部状态
//
// 每次调用独立创建，完成后丢弃，不持有跨调用状态。
type lookupState struct {
	node   *Node
	target types.NodeID
	kind   lookupKind

	// shortlist 候选表：距目标升序，按 NodeID 去重，长度受 k 约束
	shortlist []types.Contact

	// queried 已查询集合（本次查找内不重试）
	queried map[types.NodeID]struct{}

	// failed 失败集合（超时/不可达，排除出后续轮次）
	failed map[types.NodeID]struct{}

	// misses 被查询且未持有值的联系人（缓存优化候选）
	misses []types.Contact
}

// queryOutcome 单个联系人的查询结果
type queryOutcome struct {
	contact types.Contact
	resp    *rpc.Message
	err     error
}

// lookup 执行一次迭代查找
//
// 每轮向候选表中至多 alpha 个未查询联系人并发发出请求，
// 并等待整轮全部到达结果（响应或超时）后才推进下一轮：
// 这约束了在途工作量，也保证轮次间的候选表一致。
// 终止条件：某轮未发现比当前最近候选更近的联系人，
// 或候选表成员均已被查询。
func (n *Node) lookup(ctx context.Context, target types.NodeID, kind lookupKind) (*lookupResult, error) {
	st := &lookupState{
		node:      n,
		target:    target,
		kind:      kind,
		shortlist: n.table.NearestContacts(target, n.cfg.K),
		queried:   make(map[types.NodeID]struct{}),
		failed:    make(map[types.NodeID]struct{}),
	}

	result, err := st.run(ctx)
	if err == nil {
		// 任何完成的查找都遍历了目标距离域，等价于一次桶刷新
		n.table.MarkRefreshedFor(target)
		if n.metrics != nil {
			n.metrics.ObserveLookupRounds(result.Rounds)
		}
	}
	return result, err
}

// run 查找主循环
func (st *lookupState) run(ctx context.Context) (*lookupResult, error) {
	res := &lookupResult{}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		batch := st.nextBatch()
		if len(batch) == 0 {
			// 候选表成员均已查询
			break
		}
		res.Rounds++

		prevBest, hasPrev := st.closest()
		outcomes := st.queryRound(ctx, batch)

		for _, out := range outcomes {
			st.queried[out.contact.ID] = struct{}{}

			if out.err != nil {
				// 失败的联系人缩小候选池，而不是阻塞进度
				st.failed[out.contact.ID] = struct{}{}
				st.removeFromShortlist(out.contact.ID)
				if errors.Is(out.err, rpc.ErrUnreachable) {
					// 投递失败的联系人立即移出路由表
					st.node.table.Remove(out.contact.ID)
				}
				continue
			}

			if st.kind == lookupFindValue && len(out.resp.Value) > 0 {
				res.Found = true
				res.Value = out.resp.Value
				res.FoundAt = out.contact
			} else {
				st.misses = append(st.misses, out.contact)
			}

			st.merge(out.resp.CloserPeers)
		}

		// 找到值立即终止
		if res.Found {
			break
		}

		// 本轮未产生更近的联系人则终止
		if best, ok := st.closest(); ok && hasPrev {
			if kbucket.CompareDistance(best.ID, prevBest.ID, st.target) >= 0 {
				break
			}
		}
	}

	// FIND_VALUE 未定位到值时同样正常返回，
	// 由调用方把 !Found 转换为面向外部的 NotFound。
	res.Contacts = st.shortlist
	res.CacheTarget = st.closestMiss()
	return res, nil
}

// nextBatch 选出本轮要查询的至多 alpha 个最近未查询联系人
func (st *lookupState) nextBatch() []types.Contact {
	var batch []types.Contact
	for _, c := range st.shortlist {
		if len(batch) >= st.node.cfg.Alpha {
			break
		}
		if _, done := st.queried[c.ID]; done {
			continue
		}
		if _, bad := st.failed[c.ID]; bad {
			continue
		}
		batch = append(batch, c)
	}
	return batch
}

// queryRound 并发查询一批联系人并等待全部解决
func (st *lookupState) queryRound(ctx context.Context, batch []types.Contact) []queryOutcome {
	outcomes := make([]queryOutcome, len(batch))

	var wg sync.WaitGroup
	for i, c := range batch {
		wg.Add(1)
		go func(i int, c types.Contact) {
			defer wg.Done()

			var req *rpc.Message
			if st.kind == lookupFindValue {
				req = rpc.NewFindValueRequest(st.node.Self(), st.target)
			} else {
				req = rpc.NewFindNodeRequest(st.node.Self(), st.target)
			}

			resp, err := st.node.messenger.Send(ctx, c, req)
			outcomes[i] = queryOutcome{contact: c, resp: resp, err: err}
		}(i, c)
	}
	wg.Wait()

	return outcomes
}

// merge 将返回的联系人合并入候选表
//
// 按 NodeID 去重，排除本地节点与已失败联系人，
// 重新按距离排序并裁剪到 k。
func (st *lookupState) merge(peers []rpc.PeerRecord) {
	localID := st.node.Self().ID

	for _, p := range peers {
		if p.ID == localID || p.ID.IsZero() {
			continue
		}
		if _, bad := st.failed[p.ID]; bad {
			continue
		}
		if st.containsShortlist(p.ID) {
			continue
		}
		st.shortlist = append(st.shortlist, p.Contact())
	}

	sort.SliceStable(st.shortlist, func(i, j int) bool {
		return kbucket.CompareDistance(st.shortlist[i].ID, st.shortlist[j].ID, st.target) < 0
	})
	if len(st.shortlist) > st.node.cfg.K {
		st.shortlist = st.shortlist[:st.node.cfg.K]
	}
}

// closest 返回候选表中距目标最近的联系人
func (st *lookupState) closest() (types.Contact, bool) {
	if len(st.shortlist) == 0 {
		return types.Contact{}, false
	}
	return st.shortlist[0], true
}

// closestMiss 返回被查询过且未持有值的最近联系人
func (st *lookupState) closestMiss() *types.Contact {
	var best *types.Contact
	for i := range st.misses {
		c := st.misses[i]
		if best == nil || kbucket.CompareDistance(c.ID, best.ID, st.target) < 0 {
			best = &c
		}
	}
	return best
}

// containsShortlist 检查候选表是否已含指定 ID
func (st *lookupState) containsShortlist(id types.NodeID) bool {
	for _, c := range st.shortlist {
		if c.ID == id {
			return true
		}
	}
	return false
}

// removeFromShortlist 从候选表移除指定 ID
func (st *lookupState) removeFromShortlist(id types.NodeID) {
	for i, c := range st.shortlist {
		if c.ID == id {
			st.shortlist = append(st.shortlist[:i], st.shortlist[i+1:]...)
			return
		}
	}
}
