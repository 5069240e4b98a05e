// Package config 基于viper的配置加载与热更新
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Sampling SamplingConfig `mapstructure:"sampling"`
	Camera   CameraConfig   `mapstructure:"camera"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServiceConfig 外部分析服务端点
type ServiceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	StreamURL      string        `mapstructure:"stream_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ResultTimeout  time.Duration `mapstructure:"result_timeout"`
	MaxRetries     uint64        `mapstructure:"max_retries"`
}

// SamplingConfig 帧采样参数
type SamplingConfig struct {
	SeekTimeout time.Duration `mapstructure:"seek_timeout"`
	JPEGQuality float64       `mapstructure:"jpeg_quality"`
}

// CameraConfig 摄像头采集参数
type CameraConfig struct {
	Device string `mapstructure:"device"`
	Width  int    `mapstructure:"width"`
	Height int    `mapstructure:"height"`
	FPS    int    `mapstructure:"fps"`
}

// DatabaseConfig 结果归档库，URL为空时禁用归档
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// setDefaults 写入默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("service.base_url", "http://localhost:8000")
	v.SetDefault("service.stream_url", "ws://localhost:8000/ws")
	v.SetDefault("service.request_timeout", 30*time.Second)
	v.SetDefault("service.result_timeout", 10*time.Second)
	v.SetDefault("service.max_retries", 2)

	v.SetDefault("sampling.seek_timeout", 5*time.Second)
	v.SetDefault("sampling.jpeg_quality", 0.8)

	v.SetDefault("camera.device", "/dev/video0")
	v.SetDefault("camera.width", 1280)
	v.SetDefault("camera.height", 720)
	v.SetDefault("camera.fps", 30)

	v.SetDefault("database.url", "")

	v.SetDefault("log.level", "info")
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Service.BaseURL == "" {
		return fmt.Errorf("service.base_url is required")
	}
	if c.Service.StreamURL == "" {
		return fmt.Errorf("service.stream_url is required")
	}
	if c.Sampling.JPEGQuality <= 0 || c.Sampling.JPEGQuality > 1 {
		return fmt.Errorf("sampling.jpeg_quality must be in (0, 1], got %v", c.Sampling.JPEGQuality)
	}
	if c.Service.ResultTimeout <= 0 {
		return fmt.Errorf("service.result_timeout must be positive")
	}
	return nil
}

// newViper 创建带默认值与环境变量绑定的viper实例
func newViper(configPath string) *viper.Viper {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SPORTVISION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("sportvision")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	return v
}
