package kaddht

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-kaddht/internal/rpc"
	"github.com/dep2p/go-kaddht/pkg/types"
)

// Option 用户配置选项函数
type Option func(*Config) error

// WithNodeID 设置本地节点 ID
func WithNodeID(id types.NodeID) Option {
	return func(c *Config) error {
		c.NodeID = id
		return nil
	}
}

// WithListenAddr 设置 UDP 监听地址
func WithListenAddr(addr string) Option {
	return func(c *Config) error {
		c.ListenAddr = addr
		return nil
	}
}

// WithK 设置桶容量 / 复制因子
func WithK(k int) Option {
	return func(c *Config) error {
		c.K = k
		return nil
	}
}

// WithAlpha 设置查找扇出
func WithAlpha(alpha int) Option {
	return func(c *Config) error {
		c.Alpha = alpha
		return nil
	}
}

// WithRPCTimeout 设置单次 RPC 截止时间
func WithRPCTimeout(d time.Duration) Option {
	return func(c *Config) error {
		c.RPCTimeout = d
		return nil
	}
}

// WithRefreshInterval 设置桶刷新间隔
func WithRefreshInterval(d time.Duration) Option {
	return func(c *Config) error {
		c.RefreshInterval = d
		return nil
	}
}

// WithRepublishInterval 设置重发布间隔
func WithRepublishInterval(d time.Duration) Option {
	return func(c *Config) error {
		c.RepublishInterval = d
		return nil
	}
}

// WithDefaultTTL 设置值的默认生存时间
func WithDefaultTTL(d time.Duration) Option {
	return func(c *Config) error {
		c.DefaultTTL = d
		return nil
	}
}

// WithCleanupInterval 设置过期清扫间隔
func WithCleanupInterval(d time.Duration) Option {
	return func(c *Config) error {
		c.CleanupInterval = d
		return nil
	}
}

// WithTransport 注入自定义数据报传输（测试常用内存传输）
func WithTransport(t rpc.Transport) Option {
	return func(c *Config) error {
		c.Transport = t
		return nil
	}
}

// WithClock 注入时钟
func WithClock(clk clock.Clock) Option {
	return func(c *Config) error {
		c.Clock = clk
		return nil
	}
}

// WithRegisterer 注入指标注册器
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Config) error {
		c.Registerer = reg
		return nil
	}
}
