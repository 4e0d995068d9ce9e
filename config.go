package kaddht

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-kaddht/internal/rpc"
	"github.com/dep2p/go-kaddht/pkg/types"
)

// Config 节点配置
//
// 全部为纯配置，不含核心逻辑。零值字段在 New 中回落到默认值。
type Config struct {
	// NodeID 本地节点 ID（零值则随机生成）
	NodeID types.NodeID

	// ListenAddr UDP 监听地址
	ListenAddr string

	// K 桶容量 / 复制因子
	K int

	// Alpha 查找扇出：每轮并发查询的联系人数
	Alpha int

	// RPCTimeout 单次 RPC 截止时间
	RPCTimeout time.Duration

	// RefreshInterval 桶刷新间隔（同时作为过期窗口）
	RefreshInterval time.Duration

	// RepublishInterval 本地发起值的重发布间隔
	RepublishInterval time.Duration

	// DefaultTTL 值的默认生存时间
	DefaultTTL time.Duration

	// CleanupInterval 过期清扫间隔
	CleanupInterval time.Duration

	// Transport 数据报传输（nil 则使用 ListenAddr 上的 UDP）
	Transport rpc.Transport

	// Clock 时钟（测试注入 mock，nil 则使用系统时钟）
	Clock clock.Clock

	// Registerer 指标注册器（nil 则使用独立的私有注册表）
	Registerer prometheus.Registerer
}

// DefaultConfig 返回默认配置
//
// K 与 Alpha 采用经典 Kademlia 默认值。
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:        "0.0.0.0:0",
		K:                 20,
		Alpha:             3,
		RPCTimeout:        2 * time.Second,
		RefreshInterval:   1 * time.Hour,
		RepublishInterval: 1 * time.Hour,
		DefaultTTL:        24 * time.Hour,
		CleanupInterval:   10 * time.Minute,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.K <= 0 {
		return fmt.Errorf("%w: K must be positive, got %d", ErrInvalidConfig, c.K)
	}
	if c.Alpha <= 0 {
		return fmt.Errorf("%w: Alpha must be positive, got %d", ErrInvalidConfig, c.Alpha)
	}
	if c.Alpha > c.K {
		return fmt.Errorf("%w: Alpha (%d) must not exceed K (%d)", ErrInvalidConfig, c.Alpha, c.K)
	}
	if c.RPCTimeout <= 0 {
		return fmt.Errorf("%w: RPCTimeout must be positive", ErrInvalidConfig)
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("%w: RefreshInterval must be positive", ErrInvalidConfig)
	}
	if c.RepublishInterval <= 0 {
		return fmt.Errorf("%w: RepublishInterval must be positive", ErrInvalidConfig)
	}
	if c.DefaultTTL <= 0 {
		return fmt.Errorf("%w: DefaultTTL must be positive", ErrInvalidConfig)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("%w: CleanupInterval must be positive", ErrInvalidConfig)
	}
	if c.Transport == nil && c.ListenAddr == "" {
		return fmt.Errorf("%w: ListenAddr required without custom transport", ErrInvalidConfig)
	}
	return nil
}
