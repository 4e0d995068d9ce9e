package types

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseNodeID 测试十六进制解析
func TestParseNodeID(t *testing.T) {
	id := NewRandomNodeID()

	parsed, err := ParseNodeID(id.String())
	require.NoError(t, err)
	assert.True(t, parsed.Equal(id))

	_, err = ParseNodeID("not hex")
	assert.ErrorIs(t, err, ErrInvalidNodeID)

	_, err = ParseNodeID("abcd") // 长度不足
	assert.ErrorIs(t, err, ErrInvalidNodeID)

	t.Log("✅ 解析往返一致，非法输入返回 ErrInvalidNodeID")
}

// TestNodeIDFromBytes 测试字节构造
func TestNodeIDFromBytes(t *testing.T) {
	id := NewRandomNodeID()

	back, err := NodeIDFromBytes(id.Bytes())
	require.NoError(t, err)
	assert.Equal(t, id, back)

	_, err = NodeIDFromBytes(make([]byte, IDBytes-1))
	assert.ErrorIs(t, err, ErrInvalidNodeID)

	t.Log("✅ 字节往返一致，长度错误被拒绝")
}

// TestNodeIDFromKey 测试键派生的确定性
func TestNodeIDFromKey(t *testing.T) {
	a := NodeIDFromKey([]byte("same key"))
	b := NodeIDFromKey([]byte("same key"))
	c := NodeIDFromKey([]byte("other key"))

	assert.Equal(t, a, b, "相同键派生相同 ID")
	assert.NotEqual(t, a, c)
	assert.False(t, a.IsZero())

	t.Log("✅ 键派生确定且分散")
}

// TestNodeID_JSON 测试 JSON 编解码
func TestNodeID_JSON(t *testing.T) {
	id := NewRandomNodeID()

	data, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Contains(t, string(data), id.String())

	var back NodeID
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, id, back)

	assert.Error(t, json.Unmarshal([]byte(`"zz"`), &back))

	t.Log("✅ JSON 以十六进制字符串编码")
}

// TestContact_String 测试可读表示
func TestContact_String(t *testing.T) {
	id := NewRandomNodeID()
	c := NewContact(id, "127.0.0.1:4000")

	s := c.String()
	assert.True(t, strings.HasSuffix(s, "@127.0.0.1:4000"))
	assert.Contains(t, s, id.ShortString())
	assert.False(t, c.LastSeen.IsZero())

	t.Log("✅ Contact 表示为 id@addr")
}
