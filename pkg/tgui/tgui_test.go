package tgui

import "testing"

func TestBuilder(t *testing.T) {
	b := New().Title("📊", "Stats").KV("a<b", 3).Blank().Blank().Textf("%d%%", 50)
	want := "📊 <b>Stats</b>\n<b>a&lt;b:</b> 3\n\n50%"
	if got := b.Text(); got != want {
		t.Fatalf("Text() = %q, want %q", got, want)
	}
	if o := b.Options(); o.ParseMode != "HTML" || !o.DisablePreview {
		t.Fatalf("options = %+v", o)
	}
}

func TestJoinHSkipsBlank(t *testing.T) {
	if got := JoinH(", ", B("x"), "", Code("y")); got != "<b>x</b>, <code>y</code>" {
		t.Fatalf("JoinH = %q", got)
	}
}

func TestTruncRunes(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"привет", 3, "при…"},
		{"abc", 3, "abc"},
		{"abc", 0, ""},
		{"ab", 5, "ab"},
	}
	for _, tc := range cases {
		if got := TruncRunes(tc.in, tc.n); got != tc.want {
			t.Fatalf("TruncRunes(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}
