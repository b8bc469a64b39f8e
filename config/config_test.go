package config

import (
	"testing"
	"time"
)

func TestParseTimecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"bare seconds", "90", 90 * time.Second, false},
		{"mm:ss", "02:30", 150 * time.Second, false},
		{"hh:mm:ss", "01:02:03", 3723 * time.Second, false},
		{"zero", "00:00:00", 0, false},
		{"leading space", " 00:10 ", 10 * time.Second, false},
		{"empty", "", 0, true},
		{"negative", "-5", 0, true},
		{"letters", "abc", 0, true},
		{"too many parts", "1:2:3:4", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimecode(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTimecode(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseTimecode(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatTimecode(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00"},
		{65 * time.Second, "00:01:05"},
		{3723 * time.Second, "01:02:03"},
		{-time.Second, "00:00:00"},
		{25 * time.Second, "00:00:25"},
	}
	for _, tt := range tests {
		if got := FormatTimecode(tt.in); got != tt.want {
			t.Errorf("FormatTimecode(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseWindow(t *testing.T) {
	s, e, err := ParseWindow("00:00:40", "00:01:10")
	if err != nil {
		t.Fatalf("ParseWindow error: %v", err)
	}
	if s != 40*time.Second || e != 70*time.Second {
		t.Errorf("ParseWindow = (%v, %v), want (40s, 70s)", s, e)
	}

	if _, _, err := ParseWindow("00:01:00", "00:01:00"); err == nil {
		t.Error("ParseWindow should reject end == start")
	}
	if _, _, err := ParseWindow("00:02:00", "00:01:00"); err == nil {
		t.Error("ParseWindow should reject end before start")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATA_DIR", "")
	t.Setenv("DB_DSN", "")
	t.Setenv("DEFAULT_QUALITY", "")
	t.Setenv("CHAT_COLLECT", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.DataDir != "data" {
		t.Errorf("DataDir = %s, want data", cfg.DataDir)
	}
	if cfg.DefaultQuality != "best" {
		t.Errorf("DefaultQuality = %s, want best", cfg.DefaultQuality)
	}
	if !cfg.ChatEnabled {
		t.Error("ChatEnabled should default to true")
	}
	if cfg.SegmentWorkers != 4 || cfg.FetchAttempts != 3 {
		t.Errorf("fetch tuning defaults = (%d workers, %d attempts)", cfg.SegmentWorkers, cfg.FetchAttempts)
	}
	if cfg.ChatMaxPages != 1000 {
		t.Errorf("ChatMaxPages = %d, want 1000", cfg.ChatMaxPages)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CHAT_COLLECT", "0")
	t.Setenv("CHAT_MAX_PAGES", "50")
	t.Setenv("SEGMENT_WORKERS", "8")
	t.Setenv("FETCH_BACKOFF_BASE", "500ms")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.ChatEnabled {
		t.Error("CHAT_COLLECT=0 should disable chat")
	}
	if cfg.SegmentWorkers != 8 {
		t.Errorf("SegmentWorkers = %d, want 8", cfg.SegmentWorkers)
	}
	if cfg.FetchBackoff != 500*time.Millisecond {
		t.Errorf("FetchBackoff = %v, want 500ms", cfg.FetchBackoff)
	}
	if cfg.ChatMaxPages != 50 {
		t.Errorf("ChatMaxPages = %d, want 50", cfg.ChatMaxPages)
	}
}
