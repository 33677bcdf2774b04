package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Duration accepts Go duration strings ("30s", "5m") or plain seconds.
type Duration time.Duration

func (d Duration) DurationValue() time.Duration { return time.Duration(d) }

// ByteSize accepts plain byte counts or sizes with a unit suffix: KB, MB, GB
// (powers of 1000) and KiB, MiB, GiB (powers of 1024).
type ByteSize int64

func (b ByteSize) Int64() int64 { return int64(b) }

var byteUnits = []struct {
	suffix string
	mult   int64
}{
	{"kib", 1 << 10}, {"mib", 1 << 20}, {"gib", 1 << 30}, {"tib", 1 << 40},
	{"kb", 1e3}, {"mb", 1e6}, {"gb", 1e9}, {"tb", 1e12},
	{"b", 1},
}

// ParseByteSize parses "256MiB", "1.5GB", "4096" and the like.
func ParseByteSize(s string) (ByteSize, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	if raw == "" {
		return 0, nil
	}
	mult := int64(1)
	for _, u := range byteUnits {
		if strings.HasSuffix(raw, u.suffix) {
			mult = u.mult
			raw = strings.TrimSpace(strings.TrimSuffix(raw, u.suffix))
			break
		}
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative size: %s", s)
		}
		return ByteSize(n * mult), nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid size value: %s", s)
	}
	return ByteSize(f * float64(mult)), nil
}

// Backend names a hot-storage provider.
type Backend string

const (
	BackendFile      Backend = "file"
	BackendSQLite    Backend = "sqlite"
	BackendRedis     Backend = "redis"
	BackendBigcache  Backend = "bigcache"
	BackendRistretto Backend = "ristretto"
	BackendNone      Backend = "none"
)

type HotStorageConfig struct {
	Backend       Backend  `mapstructure:"Backend"`
	Root          string   `mapstructure:"Root"`       // file
	SQLitePath    string   `mapstructure:"SQLitePath"` // sqlite
	RedisAddr     string   `mapstructure:"RedisAddr"`  // redis
	RedisDB       int      `mapstructure:"RedisDB"`
	Namespace     string   `mapstructure:"Namespace"`
	MaxBytes      ByteSize `mapstructure:"MaxBytes"`      // advisory ceiling; ristretto/bigcache capacity
	LifeWindow    Duration `mapstructure:"LifeWindow"`    // bigcache
	DeleteOnClose bool     `mapstructure:"DeleteOnClose"` // wipe on shutdown
}

type SchedulerConfig struct {
	Threaded bool `mapstructure:"Threaded"`
	Workers  int  `mapstructure:"Workers"`
}

type MemoryConfig struct {
	MaxBytes ByteSize `mapstructure:"MaxBytes"`
	MaxItems int      `mapstructure:"MaxItems"`
}

type LogConfig struct {
	Level      string `mapstructure:"Level"`
	FilePath   string `mapstructure:"FilePath"`
	MaxSize    int    `mapstructure:"MaxSize"` // megabytes per file before rotation
	MaxBackups int    `mapstructure:"MaxBackups"`
	Compress   bool   `mapstructure:"Compress"`
}

type AdminConfig struct {
	Listen      string   `mapstructure:"Listen"`
	ReadTimeout Duration `mapstructure:"ReadTimeout"`
}

// Config is the file-level configuration of a bank and the tools around it.
type Config struct {
	Separator  string           `mapstructure:"Separator"`
	HotStorage HotStorageConfig `mapstructure:"HotStorage"`
	Scheduler  SchedulerConfig  `mapstructure:"Scheduler"`
	Memory     MemoryConfig     `mapstructure:"Memory"`
	Log        LogConfig        `mapstructure:"Log"`
	Admin      AdminConfig      `mapstructure:"Admin"`
}

// SeparatorRune returns the configured key separator.
func (c Config) SeparatorRune() rune {
	r, _ := utf8.DecodeRuneInString(c.Separator)
	if r == utf8.RuneError {
		return 0
	}
	return r
}
