package main

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/databank"
	"github.com/unkn0wn-root/databank/source/file"
)

const contextKeyRequestID = "_databank_request_id"

type adminOptions struct {
	Bank        databank.Bank[*file.Blob]
	Logger      *logrus.Logger
	ReadTimeout time.Duration
}

type itemPayload struct {
	Key        string     `json:"key"`
	Tier       string     `json:"tier"`
	Bytes      int64      `json:"bytes"`
	LastAccess *time.Time `json:"last_access,omitempty"`
}

type usagePayload struct {
	Items    int   `json:"items"`
	Bytes    int64 `json:"bytes"`
	MaxItems int   `json:"max_items,omitempty"`
	MaxBytes int64 `json:"max_bytes,omitempty"`
	Over     bool  `json:"over"`
}

func encodeItem(in databank.ItemInfo) itemPayload {
	p := itemPayload{Key: in.Key, Tier: in.Tier.String(), Bytes: in.Bytes}
	if !in.LastAccess.IsZero() {
		at := in.LastAccess
		p.LastAccess = &at
	}
	return p
}

func encodeUsage(u databank.Usage) usagePayload {
	return usagePayload{Items: u.Items, Bytes: u.Bytes, MaxItems: u.MaxItems, MaxBytes: u.MaxBytes, Over: u.Over()}
}

// newAdminApp exposes inspection and tier control over HTTP.
func newAdminApp(opts adminOptions) *fiber.App {
	timeout := opts.ReadTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ReadTimeout:   timeout,
	})
	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	b := opts.Bank
	log := opts.Logger

	app.Get("/stats", func(c fiber.Ctx) error {
		st := b.Stats()
		return c.JSON(fiber.Map{
			"source":      encodeUsage(st.Source),
			"hot_storage": encodeUsage(st.HotStorage),
			"memory":      encodeUsage(st.Memory),
			"hot_enabled": b.HotStorageEnabled(),
		})
	})

	app.Get("/items", func(c fiber.Ctx) error {
		items := []itemPayload{}
		b.Walk(strings.TrimSpace(c.Query("prefix")), func(k string, _ databank.Tier) bool {
			if in, ok := b.Info(k); ok {
				items = append(items, encodeItem(in))
			}
			return true
		})
		return c.JSON(fiber.Map{"items": items})
	})

	app.Get("/items/:key", func(c fiber.Ctx) error {
		in, ok := b.Info(c.Params("key"))
		if !ok {
			return notFound(c)
		}
		return c.JSON(encodeItem(in))
	})

	app.Get("/items/:key/data", func(c fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		v, err := b.Data(ctx, c.Params("key"))
		if err != nil {
			return renderError(c, log, "data", err)
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
		return c.Send(v.Data)
	})

	app.Post("/items/:key/load", func(c fiber.Ctx) error {
		if err := b.Load(c.Params("key"), databank.Soon); err != nil {
			return renderError(c, log, "load", err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"queued": "load"})
	})

	app.Post("/items/:key/unload", func(c fiber.Ctx) error {
		to, ok := parseTier(c.Query("to", "hot"))
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_tier"})
		}
		if err := b.Unload(c.Params("key"), to, databank.Soon); err != nil {
			return renderError(c, log, "unload", err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"queued": "unload", "to": to.String()})
	})

	app.Post("/purge", func(c fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		n, err := b.Purge(ctx)
		if err != nil {
			return renderError(c, log, "purge", err)
		}
		return c.JSON(fiber.Map{"demoted": n})
	})

	app.Delete("/hot", func(c fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := b.ClearHotStorage(ctx); err != nil {
			return renderError(c, log, "clear_hot", err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	return app
}

func listen(app *fiber.App, addr string) error {
	return app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

func requestID(c fiber.Ctx) string {
	if v, ok := c.Locals(contextKeyRequestID).(string); ok {
		return v
	}
	return ""
}

func parseTier(s string) (databank.Tier, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "source":
		return databank.InSource, true
	case "hot", "hot_storage":
		return databank.InHotStorage, true
	default:
		return 0, false
	}
}

func notFound(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "item_not_found"})
}

func renderError(c fiber.Ctx, log *logrus.Logger, action string, err error) error {
	switch {
	case errors.Is(err, databank.ErrNotFound):
		return notFound(c)
	case errors.Is(err, databank.ErrInvalidTier):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_tier"})
	case errors.Is(err, databank.ErrHotStorageDisabled):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "hot_storage_disabled"})
	case errors.Is(err, databank.ErrClosed):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "closed"})
	}
	log.WithFields(logrus.Fields{
		"action":     action,
		"request_id": requestID(c),
		"key":        c.Params("key"),
	}).WithError(err).Warn("admin request failed")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}
