package redis

import (
	"context"
	"sort"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/config"
	"github.com/alicebob/miniredis/v2"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewClient(config.RedisConfig{Addr: mr.Addr(), PoolSize: 2})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestAddRemoveMembers(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	if err := c.AddToSets(ctx, []string{"a", "b"}, "p1"); err != nil {
		t.Fatalf("AddToSets: %v", err)
	}
	if err := c.AddToSets(ctx, []string{"b"}, "p2"); err != nil {
		t.Fatalf("AddToSets: %v", err)
	}
	if ok, _ := mr.SIsMember("a", "p1"); !ok {
		t.Error("p1 should be in a")
	}

	if err := c.RemoveFromSets(ctx, []string{"a", "missing"}, "p1"); err != nil {
		t.Fatalf("RemoveFromSets: %v", err)
	}
	got, err := c.Members(ctx, []string{"a", "b", "missing"})
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(got["a"]) != 0 {
		t.Errorf("a = %v, want empty", got["a"])
	}
	b := got["b"]
	sort.Strings(b)
	if len(b) != 2 || b[0] != "p1" || b[1] != "p2" {
		t.Errorf("b = %v", b)
	}
	if len(got["missing"]) != 0 {
		t.Errorf("missing = %v", got["missing"])
	}
}

func TestUnion(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	c.AddToSets(ctx, []string{"x"}, "p1")
	c.AddToSets(ctx, []string{"y"}, "p2")
	c.AddToSets(ctx, []string{"x", "y"}, "p3")

	got, err := c.Union(ctx, "x", "y", "z")
	if err != nil {
		t.Fatalf("Union: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("union = %v, want 3 members", got)
	}
	if got, _ := c.Union(ctx); got != nil {
		t.Errorf("empty union = %v", got)
	}
}
