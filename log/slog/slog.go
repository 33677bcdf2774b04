//go:build go1.21

// Package slog adapts a log/slog logger to databank.Logger.
package slog

import (
	"context"
	stdslog "log/slog"

	"github.com/unkn0wn-root/databank"
)

var _ databank.Logger = Logger{}

// Logger writes through L. Ctx, when set, is passed to every record so
// handlers can pick up request-scoped values.
type Logger struct {
	L   *stdslog.Logger
	Ctx context.Context
}

func (s Logger) Debug(msg string, f databank.Fields) { s.log(stdslog.LevelDebug, msg, f) }
func (s Logger) Info(msg string, f databank.Fields)  { s.log(stdslog.LevelInfo, msg, f) }
func (s Logger) Warn(msg string, f databank.Fields)  { s.log(stdslog.LevelWarn, msg, f) }
func (s Logger) Error(msg string, f databank.Fields) { s.log(stdslog.LevelError, msg, f) }

func (s Logger) log(lvl stdslog.Level, msg string, f databank.Fields) {
	ctx := s.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	s.L.LogAttrs(ctx, lvl, msg, attrs(f)...)
}

func attrs(f databank.Fields) []stdslog.Attr {
	if len(f) == 0 {
		return nil
	}
	out := make([]stdslog.Attr, 0, len(f))
	for k, v := range f {
		out = append(out, stdslog.Any(k, v))
	}
	return out
}
