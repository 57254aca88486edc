package dimcache

import "testing"

func TestCache_SetGet(t *testing.T) {
	c := New(10)
	c.Set(Product, ProductKey("85123A"), 42)
	if v, ok := c.Get(Product, ProductKey("85123A")); !ok || v != 42 {
		t.Fatalf("Get = %d, %v, want 42, true", v, ok)
	}
	if _, ok := c.Get(Customer, ProductKey("85123A")); ok {
		t.Fatalf("namespaces must not leak into each other")
	}
}

func TestCache_EvictsOldest20Percent(t *testing.T) {
	c := New(10)
	for i := 0; i < 10; i++ {
		c.Set(Date, string(rune('a'+i)), int64(i))
	}
	// Pushes the shard over its bound; expect the oldest 2 entries gone.
	c.Set(Date, "k", 99)

	if c.Len(Date) != 9 {
		t.Fatalf("Len = %d, want 9 after eviction", c.Len(Date))
	}
	if _, ok := c.Get(Date, "a"); ok {
		t.Errorf("oldest entry %q should have been evicted", "a")
	}
	if _, ok := c.Get(Date, "k"); !ok {
		t.Errorf("newest entry should survive eviction")
	}
}
