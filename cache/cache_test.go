package cache

import "testing"

func TestPutGet(t *testing.T) {
	c := New(4 * numShards)
	k := Key{Resource: "r1", Kind: 3, Offset: 42}
	if _, ok := c.Get(k); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.Put(k, "hello")
	v, ok := c.Get(k)
	if !ok || v.(string) != "hello" {
		t.Fatalf("got %v, %v", v, ok)
	}
}

func TestEviction(t *testing.T) {
	// force everything into a single logical bucket by keeping Resource
	// and Kind fixed but varying Offset; with capacity 1 per shard the
	// shard holding this key evicts down to its most recent entry only
	// when all keys land on the same shard, so instead we just check that
	// Len() never exceeds the configured capacity.
	c := New(numShards) // 1 per shard
	for i := int64(0); i < 1000; i++ {
		c.Put(Key{Resource: "r", Offset: i}, i)
	}
	if c.Len() > numShards {
		t.Fatalf("cache grew beyond capacity: %d entries", c.Len())
	}
}

func TestRemove(t *testing.T) {
	c := New(4 * numShards)
	k := Key{Resource: "r", Offset: 1}
	c.Put(k, 1)
	c.Remove(k)
	if _, ok := c.Get(k); ok {
		t.Fatal("expected miss after remove")
	}
}
