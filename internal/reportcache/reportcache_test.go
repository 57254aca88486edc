package reportcache

import (
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestGetSetRoundTrip(t *testing.T) {
	c := New(time.Minute)

	if _, ok := c.Get("sales"); ok {
		t.Error("empty cache should miss")
	}

	c.Set("sales", 42)
	v, ok := c.Get("sales")
	if !ok || v.(int) != 42 {
		t.Errorf("Get = %v,%v, want 42,true", v, ok)
	}
}

func TestExpiry(t *testing.T) {
	c := New(time.Minute)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	c.now = func() time.Time { return now }

	c.Set("sales", "v1")

	now = base.Add(59 * time.Second)
	if _, ok := c.Get("sales"); !ok {
		t.Error("entry should still be live before TTL")
	}

	now = base.Add(61 * time.Second)
	if _, ok := c.Get("sales"); ok {
		t.Error("entry should expire after TTL")
	}
}

func TestInvalidate(t *testing.T) {
	c := New(time.Minute)
	c.Set("top-products", []string{"85123A"})
	c.Invalidate("top-products")
	if _, ok := c.Get("top-products"); ok {
		t.Error("invalidated entry should miss")
	}
}

func TestGetOrCompute(t *testing.T) {
	c := New(time.Minute)
	calls := 0
	compute := func() (interface{}, error) {
		calls++
		return "report", nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrCompute("summary", compute)
		if err != nil || v.(string) != "report" {
			t.Fatalf("GetOrCompute = %v,%v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("compute ran %d times, want 1", calls)
	}

	_, err := c.GetOrCompute("failing", func() (interface{}, error) {
		return nil, errors.New("query failed")
	})
	if err == nil {
		t.Fatal("compute error should propagate")
	}
	if _, ok := c.Get("failing"); ok {
		t.Error("failed compute should not be cached")
	}
}
