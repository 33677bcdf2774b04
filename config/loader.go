// Package config loads bank settings from TOML, YAML or JSON files through
// viper and maps them onto databank.Options.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/unkn0wn-root/databank"
)

// EnvPrefix scopes environment overrides: DATABANK_HOTSTORAGE_ROOT, ...
const EnvPrefix = "DATABANK"

// Load reads path (or only defaults and environment when path is ""),
// applies defaults and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		byteSizeDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.HotStorage.Root != "" {
		abs, err := filepath.Abs(cfg.HotStorage.Root)
		if err != nil {
			return nil, fmt.Errorf("config: resolve hot storage root: %w", err)
		}
		cfg.HotStorage.Root = abs
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Separator", ".")
	v.SetDefault("HotStorage.Backend", string(BackendFile))
	v.SetDefault("HotStorage.Root", "./hot")
	v.SetDefault("HotStorage.Namespace", "databank")
	v.SetDefault("HotStorage.LifeWindow", "720h")
	v.SetDefault("Scheduler.Threaded", true)
	v.SetDefault("Scheduler.Workers", 2)
	v.SetDefault("Log.Level", "info")
	v.SetDefault("Log.MaxSize", 100)
	v.SetDefault("Log.MaxBackups", 10)
	v.SetDefault("Log.Compress", true)
	v.SetDefault("Admin.Listen", "127.0.0.1:7400")
	v.SetDefault("Admin.ReadTimeout", "10s")
}

func applyDefaults(c *Config) {
	c.HotStorage.Backend = Backend(strings.ToLower(strings.TrimSpace(string(c.HotStorage.Backend))))
	if c.HotStorage.Backend == "" {
		c.HotStorage.Backend = BackendFile
	}
	if c.Scheduler.Workers <= 0 {
		c.Scheduler.Workers = 2
	}
	if c.Admin.ReadTimeout.DurationValue() <= 0 {
		c.Admin.ReadTimeout = Duration(10 * time.Second)
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if utf8.RuneCountInString(c.Separator) != 1 {
		errs = append(errs, newFieldError("Separator", "must be exactly one character"))
	} else if c.Separator == "/" {
		errs = append(errs, newFieldError("Separator", "'/' is reserved for hot-storage paths"))
	}

	switch c.HotStorage.Backend {
	case BackendFile:
		if c.HotStorage.Root == "" {
			errs = append(errs, newFieldError("HotStorage.Root", "required for the file backend"))
		}
	case BackendSQLite:
		if c.HotStorage.SQLitePath == "" {
			errs = append(errs, newFieldError("HotStorage.SQLitePath", "required for the sqlite backend"))
		}
	case BackendRedis:
		if c.HotStorage.RedisAddr == "" {
			errs = append(errs, newFieldError("HotStorage.RedisAddr", "required for the redis backend"))
		}
	case BackendRistretto:
		if c.HotStorage.MaxBytes <= 0 {
			errs = append(errs, newFieldError("HotStorage.MaxBytes", "required for the ristretto backend"))
		}
	case BackendBigcache, BackendNone:
	default:
		errs = append(errs, newFieldError("HotStorage.Backend", fmt.Sprintf("unknown backend %q", c.HotStorage.Backend)))
	}

	if c.Memory.MaxItems < 0 {
		errs = append(errs, newFieldError("Memory.MaxItems", "must not be negative"))
	}
	if c.Log.Level != "" {
		switch strings.ToLower(c.Log.Level) {
		case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
		default:
			errs = append(errs, newFieldError("Log.Level", fmt.Sprintf("unknown level %q", c.Log.Level)))
		}
	}
	return errors.Join(errs...)
}

// Apply copies the bank-level settings onto opts. The hot-storage provider
// itself is opened by the caller (see cmd/bankctl); for the file backend,
// Apply sets HotStorageRoot so the bank opens it.
func Apply[V databank.Data](c *Config, opts *databank.Options[V]) {
	opts.Separator = c.SeparatorRune()
	opts.Threaded = c.Scheduler.Threaded
	opts.Workers = c.Scheduler.Workers
	opts.MaxMemoryBytes = c.Memory.MaxBytes.Int64()
	opts.MaxMemoryItems = c.Memory.MaxItems
	opts.MaxHotStorageBytes = c.HotStorage.MaxBytes.Int64()
	opts.DeleteHotStorageOnClose = c.HotStorage.DeleteOnClose
	switch c.HotStorage.Backend {
	case BackendNone:
		opts.DisableHotStorage = true
	case BackendFile:
		opts.HotStorageRoot = c.HotStorage.Root
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("invalid duration: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("unsupported duration type: %T", v)
		}
	}
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(ByteSize(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return ParseByteSize(v)
		case int:
			return ByteSize(v), nil
		case int64:
			return ByteSize(v), nil
		case uint64:
			return ByteSize(v), nil
		case float64:
			return ByteSize(v), nil
		case ByteSize:
			return v, nil
		default:
			return nil, fmt.Errorf("unsupported size type: %T", v)
		}
	}
}
