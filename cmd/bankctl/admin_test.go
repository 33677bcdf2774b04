package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/databank"
	"github.com/unkn0wn-root/databank/codec"
	"github.com/unkn0wn-root/databank/source/file"
)

type testAdmin struct {
	app  *fiber.App
	bank databank.Bank[*file.Blob]
}

func newTestAdmin(t *testing.T) *testAdmin {
	t.Helper()
	dir := t.TempDir()
	b, err := databank.New[*file.Blob](databank.Options[*file.Blob]{
		Loader:         file.Loader{},
		Codec:          codec.Msgpack[*file.Blob]{},
		HotStorageRoot: filepath.Join(dir, "hot"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	src := filepath.Join(dir, "src")
	for name, body := range map[string]string{"a": "alpha", "b": "bravo"} {
		p := filepath.Join(src, "docs", name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := b.Add(context.Background(), "docs."+name, file.Source{Path: p}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &testAdmin{app: newAdminApp(adminOptions{Bank: b, Logger: logger}), bank: b}
}

func (a *testAdmin) do(t *testing.T, method, target string) (int, []byte, string) {
	t.Helper()
	resp, err := a.app.Test(httptest.NewRequest(method, target, nil))
	if err != nil {
		t.Fatalf("app.Test %s %s: %v", method, target, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body, resp.Header.Get("X-Request-ID")
}

func TestAdminListsItems(t *testing.T) {
	a := newTestAdmin(t)
	code, body, reqID := a.do(t, "GET", "/items?prefix=docs")
	if code != fiber.StatusOK {
		t.Fatalf("status %d body=%s", code, body)
	}
	if reqID == "" {
		t.Fatalf("expected X-Request-ID header")
	}
	var out struct {
		Items []itemPayload `json:"items"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Items) != 2 || out.Items[0].Key != "docs.a" || out.Items[0].Tier != databank.InSource.String() {
		t.Fatalf("items %+v", out.Items)
	}
}

func TestAdminLoadThenData(t *testing.T) {
	a := newTestAdmin(t)
	if code, body, _ := a.do(t, "POST", "/items/docs.a/load"); code != fiber.StatusAccepted {
		t.Fatalf("load status %d body=%s", code, body)
	}
	if err := a.bank.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !a.bank.IsLoaded("docs.a") {
		t.Fatalf("docs.a not loaded")
	}

	code, body, _ := a.do(t, "GET", "/items/docs.a/data")
	if code != fiber.StatusOK || string(body) != "alpha" {
		t.Fatalf("data status %d body=%q", code, body)
	}

	code, body, _ = a.do(t, "GET", "/items/docs.a")
	var item itemPayload
	if code != fiber.StatusOK || json.Unmarshal(body, &item) != nil {
		t.Fatalf("info status %d body=%s", code, body)
	}
	if item.Tier != databank.InMemory.String() || item.Bytes != 5 || item.LastAccess == nil {
		t.Fatalf("item %+v", item)
	}
}

func TestAdminUnloadToHotStorage(t *testing.T) {
	a := newTestAdmin(t)
	if _, err := a.bank.Data(context.Background(), "docs.b"); err != nil {
		t.Fatalf("Data: %v", err)
	}
	if code, body, _ := a.do(t, "POST", "/items/docs.b/unload?to=hot"); code != fiber.StatusAccepted {
		t.Fatalf("unload status %d body=%s", code, body)
	}
	_ = a.bank.Wait(context.Background())
	if tier, _ := a.bank.TierOf("docs.b"); tier != databank.InHotStorage {
		t.Fatalf("tier %v", tier)
	}

	if code, _, _ := a.do(t, "POST", "/items/docs.b/unload?to=memory"); code != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for invalid tier, got %d", code)
	}
}

func TestAdminUnknownKey(t *testing.T) {
	a := newTestAdmin(t)
	for _, tc := range []struct{ method, target string }{
		{"GET", "/items/nope"},
		{"GET", "/items/nope/data"},
		{"POST", "/items/nope/load"},
	} {
		code, body, _ := a.do(t, tc.method, tc.target)
		if code != fiber.StatusNotFound {
			t.Fatalf("%s %s: status %d body=%s", tc.method, tc.target, code, body)
		}
	}
}

func TestAdminStatsAndClearHot(t *testing.T) {
	a := newTestAdmin(t)
	if err := a.bank.Serialize("docs.a", databank.Immediately); err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	code, body, _ := a.do(t, "GET", "/stats")
	var st struct {
		Source     usagePayload `json:"source"`
		HotStorage usagePayload `json:"hot_storage"`
		HotEnabled bool         `json:"hot_enabled"`
	}
	if code != fiber.StatusOK || json.Unmarshal(body, &st) != nil {
		t.Fatalf("stats status %d body=%s", code, body)
	}
	if st.Source.Items != 1 || st.HotStorage.Items != 1 || !st.HotEnabled {
		t.Fatalf("stats %+v", st)
	}

	if code, _, _ := a.do(t, "DELETE", "/hot"); code != fiber.StatusNoContent {
		t.Fatalf("clear hot status %d", code)
	}
	if tier, _ := a.bank.TierOf("docs.a"); tier != databank.InSource {
		t.Fatalf("tier after clear %v", tier)
	}
}

func TestAdminPurgeWithoutEvictor(t *testing.T) {
	a := newTestAdmin(t)
	code, body, _ := a.do(t, "POST", "/purge")
	if code != fiber.StatusOK || string(body) != `{"demoted":0}` {
		t.Fatalf("purge status %d body=%s", code, body)
	}
}
