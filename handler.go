package kaddht

import (
	"time"

	"github.com/dep2p/go-kaddht/internal/rpc"
	"github.com/dep2p/go-kaddht/pkg/types"
)

// ============================================================================
//                              入站请求分发
// ============================================================================

// handleRequest 处理一条入站请求
//
// 发送者的路由表更新已由信使的观察回调完成（每条消息都是
// 存活信号），这里只做按类型的业务分发。四种类型穷尽处理，
// 协议外类型已在信使层丢弃。
func (n *Node) handleRequest(from types.Contact, req *rpc.Message) *rpc.Message {
	switch req.Type {
	case rpc.MessageTypePing:
		return n.handlePing(from, req)
	case rpc.MessageTypeStore:
		return n.handleStore(from, req)
	case rpc.MessageTypeFindNode:
		return n.handleFindNode(from, req)
	case rpc.MessageTypeFindValue:
		return n.handleFindValue(from, req)
	default:
		return nil
	}
}

// handlePing 处理 PING 请求
func (n *Node) handlePing(_ types.Contact, req *rpc.Message) *rpc.Message {
	return rpc.NewPingResponse(req.TxID, n.Self())
}

// handleStore 处理 STORE 请求
func (n *Node) handleStore(from types.Contact, req *rpc.Message) *rpc.Message {
	if len(req.Value) == 0 || req.Key.IsZero() {
		return rpc.NewErrorResponse(req.TxID, n.Self(), req.Type, "empty key or value")
	}

	ttl := time.Duration(req.TTL) * time.Second
	if ttl <= 0 || ttl > n.cfg.DefaultTTL {
		ttl = n.cfg.DefaultTTL
	}

	n.store.Put(req.Key, req.Value, ttl, from)
	logger.Debug("已存储值",
		"key", req.Key.ShortString(),
		"bytes", len(req.Value),
		"ttl", ttl,
		"from", from.ID.ShortString())

	return rpc.NewStoreResponse(req.TxID, n.Self(), true, "")
}

// handleFindNode 处理 FIND_NODE 请求
func (n *Node) handleFindNode(from types.Contact, req *rpc.Message) *rpc.Message {
	return rpc.NewFindNodeResponse(req.TxID, n.Self(), n.closerPeers(req.Target, from.ID))
}

// handleFindValue 处理 FIND_VALUE 请求
//
// 本地持有值则返回值；否则退化为 FIND_NODE。
func (n *Node) handleFindValue(from types.Contact, req *rpc.Message) *rpc.Message {
	if value, ok := n.store.Get(req.Key); ok {
		return rpc.NewFindValueResponse(req.TxID, n.Self(), value)
	}
	return rpc.NewFindValueResponseWithPeers(req.TxID, n.Self(), n.closerPeers(req.Key, from.ID))
}

// closerPeers 返回距 target 最近的至多 k 个联系人记录
//
// 排除请求方自身，避免把对方返还给对方。
func (n *Node) closerPeers(target types.NodeID, exclude types.NodeID) []rpc.PeerRecord {
	nearest := n.table.NearestContacts(target, n.cfg.K+1)

	records := make([]rpc.PeerRecord, 0, len(nearest))
	for _, c := range nearest {
		if c.ID == exclude {
			continue
		}
		records = append(records, rpc.PeerRecord{ID: c.ID, Addr: c.Addr})
		if len(records) >= n.cfg.K {
			break
		}
	}
	return records
}
