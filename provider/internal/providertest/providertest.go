// Package providertest is a conformance suite shared by provider tests.
package providertest

import (
	"bytes"
	"context"
	"testing"

	pr "github.com/unkn0wn-root/databank/provider"
)

// Run exercises the provider.Provider contract against p. p must start empty.
func Run(t *testing.T, p pr.Provider) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := p.Get(ctx, "mesh/rock"); err != nil || ok {
		t.Fatalf("expected miss on empty store, ok=%v err=%v", ok, err)
	}

	val := []byte{0, 1, 2, 0xFF, 'x'}
	ok, err := p.Set(ctx, "mesh/rock", val)
	if err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	got, ok, err := p.Get(ctx, "mesh/rock")
	if err != nil || !ok || !bytes.Equal(got, val) {
		t.Fatalf("Get: got=%x ok=%v err=%v", got, ok, err)
	}

	if _, err := p.Set(ctx, "mesh/rock", []byte("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if got, _, _ := p.Get(ctx, "mesh/rock"); string(got) != "v2" {
		t.Fatalf("overwrite not visible, got %q", got)
	}

	if err := p.Del(ctx, "mesh/rock"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok, _ := p.Get(ctx, "mesh/rock"); ok {
		t.Fatalf("entry survived Del")
	}
	if err := p.Del(ctx, "never/written"); err != nil {
		t.Fatalf("Del of missing key must be nil, got %v", err)
	}

	for _, k := range []string{"a", "b/c", "d/e/f"} {
		if _, err := p.Set(ctx, k, []byte(k)); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}
	if err := p.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	for _, k := range []string{"a", "b/c", "d/e/f"} {
		if _, ok, _ := p.Get(ctx, k); ok {
			t.Fatalf("%s survived Clear", k)
		}
	}
}
