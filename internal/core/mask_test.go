package core

import "testing"

func TestMaskSecret(t *testing.T) {
	cases := map[string]string{
		"":             "••••••••",
		"abc":          "••••••••",
		"abcdefg":      "••••••••",
		"abcdefgh":     "abcd••••••••efgh",
		"abcdefghijkl": "abcd••••••••ijkl",
	}
	for in, want := range cases {
		if got := MaskSecret(in); got != want {
			t.Fatalf("MaskSecret(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaskKey(t *testing.T) {
	if got := MaskKey("0123456789"); got != "01234..." {
		t.Fatalf("MaskKey() = %q, want 01234...", got)
	}
	if got := MaskKey("abc"); got != "..." {
		t.Fatalf("MaskKey(short) = %q, want ...", got)
	}
}

func TestMaskCountsRunes(t *testing.T) {
	if got := MaskSecret("ünïcödé-sëcrët"); got != "ünïc••••••••crët" {
		t.Fatalf("MaskSecret(unicode) = %q", got)
	}
	if got := MaskSecret("ééééééé"); got != maskFill {
		t.Fatalf("MaskSecret(7 runes) = %q, want fill only", got)
	}
	if got := MaskKey("ké-123456"); got != "ké-12..." {
		t.Fatalf("MaskKey(unicode) = %q, want ké-12...", got)
	}
}
