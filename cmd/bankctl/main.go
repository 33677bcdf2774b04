// Command bankctl runs a file-backed data bank: it warms hot storage from a
// directory, clears it, or serves a directory with a live watcher and a small
// admin API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/databank"
	"github.com/unkn0wn-root/databank/config"
	"github.com/unkn0wn-root/databank/internal/logging"
	"github.com/unkn0wn-root/databank/source/file"
	"github.com/unkn0wn-root/databank/watch"
)

const usage = `usage: bankctl [-config path] <command> [dir]

commands:
  warm <dir>    register every file under dir and write its hot copy
  clear-hot     delete every hot copy
  serve <dir>   watch dir and serve the admin API
  check         validate the configuration and exit`

type cliOptions struct {
	configPath string
	command    string
	dir        string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		fmt.Fprintln(stdErr, usage)
		os.Exit(2)
	}
	os.Exit(run(opts))
}

func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("bankctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var configFlag string
	fs.StringVar(&configFlag, "config", "", "config file (default: $DATABANK_CONFIG, then built-in defaults)")
	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("parse flags: %w", err)
	}

	path := os.Getenv("DATABANK_CONFIG")
	if configFlag != "" {
		path = configFlag
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return cliOptions{}, errors.New("missing command")
	}
	opts := cliOptions{configPath: path, command: rest[0]}
	switch opts.command {
	case "warm", "serve":
		if len(rest) != 2 {
			return cliOptions{}, fmt.Errorf("%s needs exactly one directory", opts.command)
		}
		opts.dir = rest[1]
	case "clear-hot", "check":
		if len(rest) != 1 {
			return cliOptions{}, fmt.Errorf("%s takes no arguments", opts.command)
		}
	default:
		return cliOptions{}, fmt.Errorf("unknown command %q", opts.command)
	}
	return opts, nil
}

func run(opts cliOptions) int {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "load config: %v\n", err)
		return 1
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(stdErr, "init logger: %v\n", err)
		return 1
	}

	if opts.command == "check" {
		logger.WithFields(logging.Fields("check_config", "path", opts.configPath, "backend", cfg.HotStorage.Backend)).Info("config ok")
		fmt.Fprintln(stdOut, "config ok")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := openBank(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "open bank: %v\n", err)
		return 1
	}
	defer func() {
		if err := h.Close(context.Background()); err != nil {
			logger.WithFields(logging.Fields("shutdown")).WithError(err).Warn("close bank")
		}
	}()

	switch opts.command {
	case "warm":
		err = warm(ctx, h.bank, cfg, opts.dir, logger)
	case "clear-hot":
		err = h.bank.ClearHotStorage(ctx)
		if err == nil {
			fmt.Fprintln(stdOut, "hot storage cleared")
		}
	case "serve":
		err = serve(ctx, h.bank, cfg, opts.dir, logger)
	}
	if err != nil {
		fmt.Fprintf(stdErr, "%s: %v\n", opts.command, err)
		return 1
	}
	return 0
}

// warm registers every file under dir and pushes it to hot storage, or into
// memory when hot storage is off.
func warm(ctx context.Context, b databank.Bank[*file.Blob], cfg *config.Config, dir string, logger *logrus.Logger) error {
	entries, scanErr := file.Scan(dir, cfg.SeparatorRune())
	if scanErr != nil {
		logger.WithFields(logging.Fields("warm", "dir", dir)).WithError(scanErr).Warn("scan reported problems")
	}
	var errs []error
	for _, e := range entries {
		if err := b.Add(ctx, e.Key, file.Source{Path: e.Path}); err != nil {
			var dup *databank.DuplicateKeyError
			if !errors.As(err, &dup) {
				errs = append(errs, err)
				continue
			}
		}
		if b.HotStorageEnabled() {
			err := b.Serialize(e.Key, databank.AfterQueued)
			if err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if err := b.Load(e.Key, databank.AfterQueued); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.Wait(ctx); err != nil {
		errs = append(errs, err)
	}

	st := b.Stats()
	logger.WithFields(logging.Fields("warm",
		"dir", dir,
		"files", len(entries),
		"hot_items", st.HotStorage.Items,
		"hot_bytes", st.HotStorage.Bytes,
		"memory_items", st.Memory.Items,
	)).Info("warm finished")
	fmt.Fprintf(stdOut, "warmed %d files (%d hot, %d in memory)\n", len(entries), st.HotStorage.Items, st.Memory.Items)
	return errors.Join(errs...)
}

func serve(ctx context.Context, b databank.Bank[*file.Blob], cfg *config.Config, dir string, logger *logrus.Logger) error {
	w, err := watch.New(b, dir, watch.Options{
		Separator:  cfg.SeparatorRune(),
		Importance: databank.Soon,
		Logger:     bankLogger(logger),
	})
	if err != nil {
		return err
	}
	defer w.Stop()

	n, err := w.Sync(ctx)
	if err != nil {
		logger.WithFields(logging.Fields("serve", "dir", dir)).WithError(err).Warn("initial sync reported problems")
	}

	app := newAdminApp(adminOptions{
		Bank:        b,
		Logger:      logger,
		ReadTimeout: cfg.Admin.ReadTimeout.DurationValue(),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- listen(app, cfg.Admin.Listen) }()

	logger.WithFields(logging.Fields("listen", "addr", cfg.Admin.Listen, "dir", dir, "items", n)).Info("admin server started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.WithFields(logging.Fields("shutdown")).Info("stopping")
	return app.Shutdown()
}
