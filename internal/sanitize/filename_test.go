package sanitize

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestToSafeFilename_Basics(t *testing.T) {
	got := ToSafeFilename("Hello:/\\*?\"<>| World", "mp4")
	if got != "Hello_ World.mp4" {
		t.Fatalf("got %q", got)
	}
}

func TestToSafeFilename_Defaults(t *testing.T) {
	got := ToSafeFilename("", "")
	if got != "video.mp4" {
		t.Fatalf("got %q", got)
	}
	if got := ToSafeFilename("clip", ".WEBM"); got != "clip.webm" {
		t.Fatalf("got %q", got)
	}
}

func TestToSafeFilename_Long(t *testing.T) {
	got := ToSafeFilename(strings.Repeat("a", 200), "mp4")
	if len(got) > MaxFilenameLength+len(".mp4") {
		t.Fatalf("too long: %d", len(got))
	}
}

func TestToSafeFilename_LongMultibyte(t *testing.T) {
	got := ToSafeFilename(strings.Repeat("ж", 100), "mp4")
	if !utf8.ValidString(got) {
		t.Fatalf("truncation split a rune: %q", got)
	}
}

func TestDirName(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"My Playlist", "My-Playlist"},
		{"My Playlist: Vol 1", "My-Playlist-Vol-1"},
		{"  lo-fi / beats  ", "lo-fi-beats"},
		{"snake_case_title", "snake_case_title"},
		{"Музыка 2024", "Музыка-2024"},
		{"Best of!", "Best-of-"},
		{"", "video"},
		{"!!!", "video"},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			if got := DirName(tt.title); got != tt.want {
				t.Errorf("DirName(%q) = %q, want %q", tt.title, got, tt.want)
			}
		})
	}
}
