package textutil

import "testing"

func TestCleanText(t *testing.T) {
	cases := []struct {
		name  string
		input string
		max   int
		want  string
	}{
		{name: "strips tags", input: "<b>Leave</b> at <script>alert(1)</script>door", want: "Leave at door"},
		{name: "keeps ampersand", input: "Tom & Jerry", want: "Tom & Jerry"},
		{name: "collapses whitespace", input: "  ring\n\n the   bell ", want: "ring the bell"},
		{name: "truncates runes", input: "नमस्ते दुनिया", max: 6, want: "नमस्ते"},
		{name: "empty", input: "   ", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CleanText(tc.input, tc.max); got != tc.want {
				t.Fatalf("expected %q got %q", tc.want, got)
			}
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Asha.Rao@Example.COM "); got != "asha.rao@example.com" {
		t.Fatalf("unexpected normalised email %q", got)
	}
	if NormalizeEmail(" ") != "" {
		t.Fatalf("expected empty result")
	}
}

func TestLooksLikeEmail(t *testing.T) {
	valid := []string{"a@b.co", "first.last@shop.example.in"}
	invalid := []string{"", "plain", "@b.co", "a@b", "a@b.", "a b@c.com", "a@b@c.com"}
	for _, v := range valid {
		if !LooksLikeEmail(v) {
			t.Fatalf("expected %q to be accepted", v)
		}
	}
	for _, v := range invalid {
		if LooksLikeEmail(v) {
			t.Fatalf("expected %q to be rejected", v)
		}
	}
}
