package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseSource(t *testing.T) {
	tests := []struct {
		raw     string
		wantErr bool
	}{
		{"https://www.youtube.com/watch?v=abc123", false},
		{"  https://youtu.be/abc123  ", false},
		{"http://example.com/live", false},
		{"youtube.com/watch?v=abc", true},
		{"not a url", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseSource(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSource) {
					t.Errorf("ParseSource(%q) error = %v, want ErrInvalidSource", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSource(%q) error = %v", tt.raw, err)
			}
			if string(got) != strings.TrimSpace(tt.raw) {
				t.Errorf("ParseSource(%q) = %q", tt.raw, got)
			}
		})
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		source SourceID
		want   string
	}{
		{"https://www.youtube.com/watch?v=abc123", "www.youtube.com_watch_v_abc123"},
		{"https://youtu.be/abc123", "youtu.be_abc123"},
		{"http://example.com:8080/live//stream", "example.com_8080_live_stream"},
		{"https://example.com/a;rm -rf /", "example.com_a_rm_-rf"},
		{"https://例え.jp/ライブ", "jp"},
		{"", "source"},
	}

	for _, tt := range tests {
		t.Run(string(tt.source), func(t *testing.T) {
			if got := Sanitize(tt.source); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.source, got, tt.want)
			}
		})
	}
}

func TestSanitize_Length(t *testing.T) {
	long := SourceID("https://example.com/" + strings.Repeat("a", 500))
	if got := Sanitize(long); len(got) > maxSanitizedLen {
		t.Errorf("len(Sanitize()) = %d, want <= %d", len(got), maxSanitizedLen)
	}
}

func TestStem(t *testing.T) {
	at := time.Date(2024, 3, 9, 18, 4, 5, 0, time.FixedZone("CET", 3600))
	got := Stem("https://youtu.be/abc", at)
	want := "youtu.be_abc_3f64322d_20240309_170405"
	if got != want {
		t.Errorf("Stem() = %q, want %q", got, want)
	}
}

func TestSourceKey_Distinct(t *testing.T) {
	a := SourceKey("https://h/live?id=1")
	b := SourceKey("https://h/live/id/1")
	if a != "h_live_id_1_e39a8926" {
		t.Errorf("SourceKey() = %q", a)
	}
	if b != "h_live_id_1_dd0dd00c" {
		t.Errorf("SourceKey() = %q", b)
	}

	long := "https://example.com/" + strings.Repeat("a", 500)
	if SourceKey(SourceID(long+"1")) == SourceKey(SourceID(long+"2")) {
		t.Error("truncated sources share a key")
	}
	if got := SourceKey("plain"); got != "plain" {
		t.Errorf("SourceKey(plain) = %q, want unchanged", got)
	}
}

func TestStem_PrefixedBySourcePrefix(t *testing.T) {
	at := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	src := SourceID("https://www.youtube.com/watch?v=abc")
	if !strings.HasPrefix(Stem(src, at), SourcePrefix(src)) {
		t.Errorf("Stem() = %q does not start with %q", Stem(src, at), SourcePrefix(src))
	}
	if strings.HasPrefix(Stem("https://www.youtube.com/watch?v=abcd", at), SourcePrefix(src)) {
		t.Error("prefix of one source matches another source's stem")
	}
}

func TestRemoteDestination(t *testing.T) {
	tests := []struct {
		root, file, want string
	}{
		{"gdrive:yt_backups", "a.mp4", "gdrive:yt_backups/a.mp4"},
		{"gdrive:yt_backups/", "a.mp4", "gdrive:yt_backups/a.mp4"},
		{"", "a.mp4", "a.mp4"},
	}
	for _, tt := range tests {
		if got := RemoteDestination(tt.root, tt.file); got != tt.want {
			t.Errorf("RemoteDestination(%q, %q) = %q, want %q", tt.root, tt.file, got, tt.want)
		}
	}
}
