package gcpool

import "testing"

func TestConfigValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero free lists", Config{FreeListCount: 0, MinimumFreeEntrySize: 32, VeryLargeObjectThreshold: 64, TLHMinimumSize: 1, TLHMaximumSize: 2}},
		{"minimum below header", Config{FreeListCount: 1, MinimumFreeEntrySize: 8, VeryLargeObjectThreshold: 64, TLHMinimumSize: 1, TLHMaximumSize: 2}},
		{"minimum not power of two", Config{FreeListCount: 1, MinimumFreeEntrySize: 48, VeryLargeObjectThreshold: 64, TLHMinimumSize: 1, TLHMaximumSize: 2}},
		{"threshold below minimum", Config{FreeListCount: 1, MinimumFreeEntrySize: 32, VeryLargeObjectThreshold: 16, TLHMinimumSize: 1, TLHMaximumSize: 2}},
		{"tlh max below min", Config{FreeListCount: 1, MinimumFreeEntrySize: 32, VeryLargeObjectThreshold: 64, TLHMinimumSize: 100, TLHMaximumSize: 10}},
	}
	for _, c := range cases {
		if err := c.cfg.validate(); err == nil {
			t.Errorf("%s: validate() = nil, want error", c.name)
		}
	}
}

func TestConfigValidateAcceptsDefault(t *testing.T) {
	if err := DefaultConfig().validate(); err != nil {
		t.Fatalf("DefaultConfig().validate() = %v, want nil", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FreeListCount = 0
	if _, err := New(cfg); err == nil {
		t.Fatalf("New() with invalid config returned nil error")
	}
}
