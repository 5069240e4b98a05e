package config

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Manager 配置管理器，支持文件热更新
type Manager struct {
	mu           sync.RWMutex
	config       *Config
	viper        *viper.Viper
	configPath   string
	watchEnabled bool
	onReload     func(*Config)
}

// ManagerOption 配置管理器选项
type ManagerOption func(*Manager)

// WithConfigPath 设置配置文件路径
func WithConfigPath(path string) ManagerOption {
	return func(m *Manager) {
		m.configPath = path
	}
}

// WithWatchEnabled 启用配置文件监控
func WithWatchEnabled(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.watchEnabled = enabled
	}
}

// WithReloadHook 配置热更新后的回调
func WithReloadHook(hook func(*Config)) ManagerOption {
	return func(m *Manager) {
		m.onReload = hook
	}
}

// NewManager 创建配置管理器
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Load 加载配置，配置文件缺失时使用默认值
func (m *Manager) Load() (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config != nil {
		return m.config, nil
	}

	v := newViper(m.configPath)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && m.configPath != "" {
			return nil, fmt.Errorf("read config failed: %w", err)
		}
		// 没有配置文件时按默认值运行
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	m.config = &config
	m.viper = v

	if m.watchEnabled {
		m.watch()
	}

	return m.config, nil
}

// Get 获取配置（未加载则自动加载）
func (m *Manager) Get() (*Config, error) {
	m.mu.RLock()
	if m.config != nil {
		defer m.mu.RUnlock()
		return m.config, nil
	}
	m.mu.RUnlock()

	return m.Load()
}

// Reload 重新加载配置文件
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.viper == nil {
		return fmt.Errorf("config not loaded yet")
	}

	if err := m.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("reload config failed: %w", err)
	}

	var config Config
	if err := m.viper.Unmarshal(&config); err != nil {
		return fmt.Errorf("unmarshal config failed: %w", err)
	}

	if err := config.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	m.config = &config
	return nil
}

// watch 监控配置文件变化并热更新
func (m *Manager) watch() {
	if m.viper == nil {
		return
	}

	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		slog.Info("config file changed, reloading", "file", e.Name)

		if err := m.Reload(); err != nil {
			slog.Error("config reload failed", "error", err)
			return
		}

		if m.onReload != nil {
			m.mu.RLock()
			config := m.config
			m.mu.RUnlock()
			m.onReload(config)
		}
	})
}
