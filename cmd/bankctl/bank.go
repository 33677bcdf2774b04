package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/databank"
	"github.com/unkn0wn-root/databank/codec"
	"github.com/unkn0wn-root/databank/config"
	asynchook "github.com/unkn0wn-root/databank/hooks/async"
	dblogrus "github.com/unkn0wn-root/databank/log/logrus"
	"github.com/unkn0wn-root/databank/provider"
	bcprovider "github.com/unkn0wn-root/databank/provider/bigcache"
	redisprovider "github.com/unkn0wn-root/databank/provider/redis"
	rprovider "github.com/unkn0wn-root/databank/provider/ristretto"
	sqliteprovider "github.com/unkn0wn-root/databank/provider/sqlite"
	"github.com/unkn0wn-root/databank/sloghooks"
	"github.com/unkn0wn-root/databank/source/file"
)

type bankHandle struct {
	bank  databank.Bank[*file.Blob]
	hot   provider.Provider // nil for the file backend, which the bank owns
	hooks *asynchook.Hooks
}

func (h *bankHandle) Close(ctx context.Context) error {
	errs := []error{h.bank.Close(ctx)}
	if h.hot != nil {
		errs = append(errs, h.hot.Close(ctx))
	}
	h.hooks.Close()
	return errors.Join(errs...)
}

func bankLogger(l *logrus.Logger) databank.Logger { return dblogrus.New(l, "databank") }

// openBank builds a bank of file blobs from cfg with logrus logging and
// sampled slog hooks delivered off the hot path.
func openBank(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*bankHandle, error) {
	hot, err := newHotStorage(ctx, cfg.HotStorage)
	if err != nil {
		return nil, err
	}

	sl := slog.New(slog.NewJSONHandler(logger.Out, nil))
	hooks := asynchook.New(sloghooks.New(sl, sloghooks.Options{
		CollapsedEvery: 100,
		StaleEvery:     10,
		PlainKeys:      true,
	}), 1, 1024)

	opts := databank.Options[*file.Blob]{
		Loader:     file.Loader{},
		Codec:      codec.Msgpack[*file.Blob]{},
		HotStorage: hot,
		Logger:     bankLogger(logger),
		Hooks:      hooks,
	}
	config.Apply(cfg, &opts)

	b, err := databank.New(opts)
	if err != nil {
		hooks.Close()
		if hot != nil {
			_ = hot.Close(ctx)
		}
		return nil, err
	}
	return &bankHandle{bank: b, hot: hot, hooks: hooks}, nil
}

// newHotStorage opens the provider for backends the bank does not open
// itself. The file backend and "none" return nil.
func newHotStorage(ctx context.Context, c config.HotStorageConfig) (provider.Provider, error) {
	switch c.Backend {
	case config.BackendFile, config.BackendNone:
		return nil, nil
	case config.BackendSQLite:
		s, err := sqliteprovider.Open(ctx, c.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendRedis:
		rdb := goredis.NewClient(&goredis.Options{Addr: c.RedisAddr, DB: c.RedisDB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis %s: %w", c.RedisAddr, err)
		}
		r, err := redisprovider.New(redisprovider.Config{Client: rdb, Namespace: c.Namespace, CloseClient: true})
		if err != nil {
			_ = rdb.Close()
			return nil, err
		}
		return r, nil
	case config.BackendBigcache:
		bc, err := bcprovider.New(bcprovider.Config{
			LifeWindow:         c.LifeWindow.DurationValue(),
			HardMaxCacheSizeMB: int(c.MaxBytes.Int64() >> 20),
		})
		if err != nil {
			return nil, err
		}
		return bc, nil
	case config.BackendRistretto:
		rc, err := rprovider.New(rprovider.Config{MaxBytes: c.MaxBytes.Int64()})
		if err != nil {
			return nil, err
		}
		return rc, nil
	default:
		return nil, errors.New("unknown hot storage backend " + string(c.Backend))
	}
}
