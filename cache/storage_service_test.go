package cache

import (
	"testing"
	"time"
)

func TestStorageServiceSetGetDefensiveTypeCheck(t *testing.T) {
	s := NewStorageService()
	s.SetWithTTL(TopologyClass, "cluster-a", []string{"h1", "h2"}, time.Minute)

	got, ok := Get[[]string](s, TopologyClass, "cluster-a")
	if !ok {
		t.Fatal("expected hit")
	}
	if len(got) != 2 || got[0] != "h1" {
		t.Fatalf("unexpected value: %v", got)
	}

	// Wrong type assertion must fail defensively rather than panic.
	if _, ok := Get[int](s, TopologyClass, "cluster-a"); ok {
		t.Fatal("expected type-mismatched Get to report absent")
	}
}

func TestStorageServiceSharesCacheAcrossCallersWithSameClusterID(t *testing.T) {
	s := NewStorageService()
	s.SetWithTTL(TopologyClass, "cluster-a", 42, time.Minute)

	v1, ok1 := Get[int](s, TopologyClass, "cluster-a")
	v2, ok2 := Get[int](s, TopologyClass, "cluster-a")
	if !ok1 || !ok2 || v1 != v2 {
		t.Fatal("expected both readers to observe the same cached value")
	}
}

func TestStorageServiceRegisterClassIdempotent(t *testing.T) {
	s := NewStorageService()
	s.RegisterClass("custom", time.Second)
	s.RegisterClass("custom", time.Hour) // should be a no-op, not replace the cache

	s.Set("custom", "k", "v")
	if _, ok := Get[string](s, "custom", "k"); !ok {
		t.Fatal("expected value to be retrievable after idempotent re-registration")
	}
}

func TestStorageServiceStartStopJoins(t *testing.T) {
	s := NewStorageService()
	s.Start()
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}
