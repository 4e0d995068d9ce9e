package kbucket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kaddht/pkg/types"
)

// idWithLow 构造低位字节为指定值、其余为零的 NodeID（测试用）
func idWithLow(low ...byte) types.NodeID {
	var id types.NodeID
	copy(id[types.IDBytes-len(low):], low)
	return id
}

// ============================================================================
// XOR 距离测试
// ============================================================================

// TestDistance_SelfIsZero 测试自身距离为零
func TestDistance_SelfIsZero(t *testing.T) {
	a := types.NewRandomNodeID()

	dist := Distance(a, a)

	assert.Equal(t, [types.IDBytes]byte{}, dist)
	t.Log("✅ distance(a,a) = 0")
}

// TestDistance_Symmetric 测试距离对称性
func TestDistance_Symmetric(t *testing.T) {
	for i := 0; i < 32; i++ {
		a := types.NewRandomNodeID()
		b := types.NewRandomNodeID()
		assert.Equal(t, Distance(a, b), Distance(b, a))
	}
	t.Log("✅ distance(a,b) = distance(b,a)")
}

// TestCompareDistance 测试距离比较
func TestCompareDistance(t *testing.T) {
	target := idWithLow(0x01)
	near := idWithLow(0x03)  // dist = 0x02
	far := idWithLow(0x0f)   // dist = 0x0e

	assert.Equal(t, -1, CompareDistance(near, far, target))
	assert.Equal(t, 1, CompareDistance(far, near, target))
	assert.Equal(t, 0, CompareDistance(near, near, target))
	t.Log("✅ 距离比较正确")
}

// TestBucketIndex_KnownVectors 测试已知向量
//
// local=0001、contact=0101 时 dist=0100，最高位在 2；
// contact=1110 时 dist=1111，最高位在 3。
func TestBucketIndex_KnownVectors(t *testing.T) {
	local := idWithLow(0b0001)
	c1 := idWithLow(0b0101)
	c2 := idWithLow(0b1110)

	assert.Equal(t, 2, BucketIndex(local, c1))
	assert.Equal(t, 3, BucketIndex(local, c2))
	t.Log("✅ 桶索引与距离最高置位一致")
}

// TestBucketIndex_EqualIDs 测试相等 ID 无合法索引
func TestBucketIndex_EqualIDs(t *testing.T) {
	a := types.NewRandomNodeID()
	assert.Equal(t, -1, BucketIndex(a, a))
	t.Log("✅ 相等 ID 返回 -1")
}

// TestBucketIndex_Monotonic 测试桶索引随距离单调不减
func TestBucketIndex_Monotonic(t *testing.T) {
	local := idWithLow() // 全零

	prevIdx := -1
	// 距离严格递增的序列：0x01, 0x02, 0x04, ... 覆盖低 16 比特
	for bit := 0; bit < 16; bit++ {
		var other types.NodeID
		other[types.IDBytes-1-bit/8] = byte(1 << (bit % 8))
		idx := BucketIndex(local, other)
		require.Greater(t, idx, prevIdx)
		prevIdx = idx
	}
	t.Log("✅ 桶索引单调不减")
}

// TestCommonPrefixLen 测试共同前缀长度
func TestCommonPrefixLen(t *testing.T) {
	a := idWithLow()
	b := idWithLow(0x01)

	assert.Equal(t, types.IDBits, CommonPrefixLen(a, a))
	assert.Equal(t, types.IDBits-1, CommonPrefixLen(a, b))

	var c types.NodeID
	c[0] = 0x80
	assert.Equal(t, 0, CommonPrefixLen(a, c))
	t.Log("✅ 共同前缀长度正确")
}

// TestRandomIDInBucket 测试桶刷新目标落在正确的距离域
func TestRandomIDInBucket(t *testing.T) {
	local := types.NewRandomNodeID()

	for _, idx := range []int{0, 1, 7, 8, 42, 100, types.IDBits - 1} {
		target := RandomIDInBucket(local, idx)
		require.Equal(t, idx, BucketIndex(local, target),
			"目标应落在桶 %d 的距离域内", idx)
	}
	t.Log("✅ 刷新目标距离域正确")
}
