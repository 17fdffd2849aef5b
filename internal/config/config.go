package config

import (
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"dbshell/internal/logger"
	"dbshell/internal/server"
)

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Server  ServerConfig  `yaml:"server" json:"server"`
	Monitor MonitorConfig `yaml:"monitor" json:"monitor"`
	Log     LogConfig     `yaml:"log" json:"log"`
}

// ServerConfig はリスナーとテーブルの設定
type ServerConfig struct {
	Address        string `yaml:"address" json:"address"`
	Port           int    `yaml:"port" json:"port"`
	Capacity       int    `yaml:"capacity" json:"capacity"`
	MaxConnections int    `yaml:"max_connections" json:"max_connections"`
	IdleTimeout    string `yaml:"idle_timeout" json:"idle_timeout"`
	MaxLineBytes   int    `yaml:"max_line_bytes" json:"max_line_bytes"`
}

// MonitorConfig はモニター設定（Address が空なら無効）
type MonitorConfig struct {
	Address string `yaml:"address" json:"address"`
}

// LogConfig はログ設定
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// Settings は解決済みの実行時設定
type Settings struct {
	Server   server.Config
	Capacity int
	Monitor  string
	LogLevel logger.Level
}

// DefaultSettings は設定ファイルもフラグも無い場合の設定を返す
func DefaultSettings() Settings {
	return Settings{
		Server:   server.DefaultConfig(),
		LogLevel: logger.LevelInfo,
	}
}

// LoadFile は設定ファイル（拡張子で YAML/JSON を判定）を読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var config FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, errors.Wrap(err, "failed to parse YAML")
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, errors.Wrap(err, "failed to parse JSON")
		}
	default:
		return nil, errors.Errorf("unsupported config format: %s", ext)
	}

	return &config, nil
}

// Validate は設定を検証する（時間とログレベルは ToSettings で検証する）
func (f *FileConfig) Validate() error {
	sc := f.Server

	if sc.Port < 0 || sc.Port > 65535 {
		return errors.Errorf("server.port %d out of range", sc.Port)
	}
	if sc.Capacity < 0 {
		return errors.New("server.capacity must be non-negative")
	}
	if sc.MaxConnections < 0 {
		return errors.New("server.max_connections must be non-negative")
	}
	if sc.MaxLineBytes < 0 {
		return errors.New("server.max_line_bytes must be non-negative")
	}
	return nil
}

// ToSettings はFileConfigをDefaultSettingsに上書きしたSettingsに変換する
func (f *FileConfig) ToSettings() (Settings, error) {
	settings := DefaultSettings()
	sc := f.Server

	port := server.DefaultPort
	if sc.Port > 0 {
		port = sc.Port
	}
	settings.Server.Addr = net.JoinHostPort(sc.Address, strconv.Itoa(port))

	settings.Capacity = sc.Capacity
	settings.Server.MaxConnections = sc.MaxConnections
	if sc.MaxLineBytes > 0 {
		settings.Server.MaxLineBytes = sc.MaxLineBytes
	}
	if sc.IdleTimeout != "" {
		d, err := time.ParseDuration(sc.IdleTimeout)
		if err != nil {
			return settings, errors.Wrap(err, "invalid server.idle_timeout")
		}
		if d < 0 {
			return settings, errors.New("server.idle_timeout must be non-negative")
		}
		settings.Server.IdleTimeout = d
	}

	settings.Monitor = f.Monitor.Address

	level, err := logger.ParseLevel(f.Log.Level)
	if err != nil {
		return settings, errors.Wrap(err, "invalid log.level")
	}
	settings.LogLevel = level

	return settings, nil
}

// WithPort はリッスンアドレスのポートを置き換える（ホストは維持する）
func (s Settings) WithPort(port int) (Settings, error) {
	if port <= 0 || port > 65535 {
		return s, errors.Errorf("port %d out of range", port)
	}
	host, _, err := net.SplitHostPort(s.Server.Addr)
	if err != nil {
		host = ""
	}
	s.Server.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	return s, nil
}
