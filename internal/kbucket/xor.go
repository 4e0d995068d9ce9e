// Package kbucket 实现 XOR 距离度量与 K 桶路由表
package kbucket

import (
	"crypto/rand"
	"math/bits"

	"github.com/dep2p/go-kaddht/pkg/types"
)

// ============================================================================
//                              XOR 距离
// ============================================================================

// Distance 计算两个 NodeID 的 XOR 距离
//
// 返回距离的字节表示（大端序）。
// 满足 Distance(a,a)=0 与对称性。
func Distance(a, b types.NodeID) [types.IDBytes]byte {
	var d [types.IDBytes]byte
	for i := 0; i < types.IDBytes; i++ {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// CompareDistance 比较 a 和 b 到 target 的距离
//
// 返回：
//
//	-1 如果 dist(a, target) < dist(b, target)
//	 0 如果 dist(a, target) == dist(b, target)
//	 1 如果 dist(a, target) > dist(b, target)
func CompareDistance(a, b, target types.NodeID) int {
	for i := 0; i < types.IDBytes; i++ {
		da := a[i] ^ target[i]
		db := b[i] ^ target[i]
		if da < db {
			return -1
		}
		if da > db {
			return 1
		}
	}
	return 0
}

// CommonPrefixLen 计算两个 NodeID 的共同前缀长度（按位计数）
func CommonPrefixLen(a, b types.NodeID) int {
	zeroBits := 0
	for i := 0; i < types.IDBytes; i++ {
		d := a[i] ^ b[i]
		if d == 0 {
			zeroBits += 8
			continue
		}
		return zeroBits + bits.LeadingZeros8(d)
	}
	return zeroBits
}

// BucketIndex 计算 remote 相对于 local 应落入的 K 桶索引
//
// 索引为 XOR 距离最高置位比特的位置（从最低位记 0）：
// 0 表示仅最低位不同，索引越大距离越远。
// 两个相等的 ID 没有合法索引，返回 -1（调用方必须保证不出现）。
func BucketIndex(local, remote types.NodeID) int {
	cpl := CommonPrefixLen(local, remote)
	if cpl >= types.IDBits {
		return -1
	}
	return types.IDBits - 1 - cpl
}

// RandomIDInBucket 生成落在指定桶范围内的随机目标 ID
//
// 即生成一个与 local 的 XOR 距离最高置位比特恰好在 idx 位置的 ID，
// 用于桶刷新时的 FIND_NODE 目标。
func RandomIDInBucket(local types.NodeID, idx int) types.NodeID {
	if idx < 0 || idx >= types.IDBits {
		return types.NewRandomNodeID()
	}

	var dist [types.IDBytes]byte
	if _, err := rand.Read(dist[:]); err != nil {
		// 熵源不可用时退化为确定性目标
		dist = [types.IDBytes]byte{}
	}

	// 距离中高于 idx 的位必须为 0，idx 位必须为 1
	byteIdx := types.IDBytes - 1 - idx/8
	bitIdx := uint(idx % 8)
	for i := 0; i < byteIdx; i++ {
		dist[i] = 0
	}
	dist[byteIdx] &= byte(1<<bitIdx) - 1
	dist[byteIdx] |= 1 << bitIdx

	var target types.NodeID
	for i := 0; i < types.IDBytes; i++ {
		target[i] = local[i] ^ dist[i]
	}
	return target
}
