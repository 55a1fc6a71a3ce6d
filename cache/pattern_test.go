package cache

import (
	"testing"
	"time"
)

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		key     string
		pattern string
		want    bool
	}{
		{"11", "2*", false},
		{"22", "2*", true},
		{"23", "2*", true},
		{"13", "2*", false},
		{"33", "2*", false},
		{"11", "1*", true},
		{"33", "1*", false},
		{"users:123", "users:*", true},
		{"accounts:123", "users:*", false},
		{"users:123", "*:123", true},
		{"orders:123", "*:123", true},
		{"orders:124", "*:123", false},
		{"exact", "exact", true},
		{"exactly", "exact", false},
		{"anything", "*", true},
	}

	for _, c := range cases {
		if got := matchPattern(c.key, c.pattern); got != c.want {
			t.Errorf("matchPattern(%q, %q) = %v, want %v", c.key, c.pattern, got, c.want)
		}
	}
}

func TestStoreRemoveByPatternScenario(t *testing.T) {
	cfg := DefaultConfig("test")
	cfg.NotificationType = NotificationNone
	s := NewStore(cfg, nil)
	defer s.Stop()

	for _, k := range []string{"11", "12", "22", "13", "23", "33"} {
		s.Set(k, k, time.Minute)
	}

	s.RemoveByPattern("2*", true)
	for _, k := range []string{"11", "12", "13", "33"} {
		if _, ok := s.Get(k); !ok {
			t.Errorf("key %q should still be present", k)
		}
	}
	for _, k := range []string{"22", "23"} {
		if _, ok := s.Get(k); ok {
			t.Errorf("key %q should have been removed", k)
		}
	}

	s.RemoveByPattern("1*", true)
	if _, ok := s.Get("33"); !ok {
		t.Errorf("key 33 should survive the 1* pattern remove")
	}
	for _, k := range []string{"11", "12", "13"} {
		if _, ok := s.Get(k); ok {
			t.Errorf("key %q should have been removed by 1*", k)
		}
	}
}
