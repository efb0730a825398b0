package identity_test

import (
	"testing"

	"curator/internal/identity"
)

func TestExtractMovieCode(t *testing.T) {
	cases := []struct {
		filename string
		want     string
	}{
		{"SONE-760 english sub.mp4", "SONE-760"},
		{"sone-760.mp4", "SONE-760"},
		{"[Site] MIDV-00123 Chinese Subbed.mkv", "MIDV-00123"},
		{"prefix ABCDEF-1 suffix.avi", "ABCDEF-1"},
		{"random movie title.mp4", ""},
		{"A-123.mp4", ""},
		{"TOOLONGG-123.mp4", "OLONGG-123"},
	}
	for _, tc := range cases {
		if got := identity.ExtractMovieCode(tc.filename); got != tc.want {
			t.Fatalf("ExtractMovieCode(%q) = %q, want %q", tc.filename, got, tc.want)
		}
	}
}

func TestDetectSubtitle(t *testing.T) {
	cases := []struct {
		filename string
		want     string
	}{
		{"SONE-760 English Sub.mp4", identity.SubEnglish},
		{"SONE-760 english subtitled.mp4", identity.SubEnglish},
		{"SONE-760 ENG.mp4", identity.SubEnglish},
		{"SONE-760 chinese subs.mp4", identity.SubChinese},
		{"SONE-760 chi.mp4", identity.SubChinese},
		{"SONE-760.mp4", identity.NoSub},
		{"SONE-760 engine.mp4", identity.NoSub},
	}
	for _, tc := range cases {
		if got := identity.DetectSubtitle(tc.filename); got != tc.want {
			t.Fatalf("DetectSubtitle(%q) = %q, want %q", tc.filename, got, tc.want)
		}
	}
}
