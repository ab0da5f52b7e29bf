package cache

import (
	"testing"
	"time"
)

func TestGetWithinTTLReturnsStoredValue(t *testing.T) {
	c := NewExpirationCache[string, string](50 * time.Millisecond)
	c.Put("k", "v")

	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("Get() = (%q, %v), want (\"v\", true)", v, ok)
	}
}

func TestGetAfterTTLReturnsAbsentAndDisposes(t *testing.T) {
	var disposed []string
	c := NewExpirationCache[string, string](10*time.Millisecond,
		ShouldDispose[string, string](func(string) bool { return true }),
		DisposeItem[string, string](func(v string) { disposed = append(disposed, v) }),
	)
	c.Put("k", "v")
	time.Sleep(25 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Fatal("expected absent after TTL expiry")
	}
	if len(disposed) != 1 || disposed[0] != "v" {
		t.Fatalf("disposeItem not invoked correctly, got %v", disposed)
	}
}

func TestGetAfterTTLWithShouldDisposeFalseKeepsEntry(t *testing.T) {
	c := NewExpirationCache[string, string](10*time.Millisecond,
		ShouldDispose[string, string](func(string) bool { return false }),
	)
	c.Put("k", "v")
	time.Sleep(25 * time.Millisecond)

	v, ok := c.Get("k")
	if !ok || v != "v" {
		t.Fatalf("expected stale-but-retained value, got (%q, %v)", v, ok)
	}
}

func TestRenewableOnReadResetsDeadline(t *testing.T) {
	c := NewExpirationCache[string, string](30*time.Millisecond, RenewableOnRead[string, string]())
	c.Put("k", "v")

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("expected hit before TTL")
	}
	// Had renewal not happened, total elapsed time (40ms) would exceed the
	// 30ms TTL by now.
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("renewable-on-read entry expired despite being read within TTL")
	}
}

func TestSweepEvictsExpiredDisposableEntries(t *testing.T) {
	var disposed int
	c := NewExpirationCache[string, int](10*time.Millisecond,
		ShouldDispose[string, int](func(int) bool { return true }),
		DisposeItem[string, int](func(int) { disposed++ }),
	)
	c.Put("a", 1)
	c.Put("b", 2)
	time.Sleep(25 * time.Millisecond)

	c.Sweep()

	if c.Len() != 0 {
		t.Fatalf("Len() = %d after sweep, want 0", c.Len())
	}
	if disposed != 2 {
		t.Fatalf("disposed = %d, want 2", disposed)
	}
}
