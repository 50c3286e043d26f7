package extractor

import "testing"

func TestParseFrameRate(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 29.97002997002997},
		{"25", 25},
		{"0/0", 0},
		{"garbage", 0},
		{"", 0},
	}
	for _, c := range cases {
		if got := parseFrameRate(c.in); got != c.want {
			t.Fatalf("parseFrameRate(%q): want=%v got=%v", c.in, c.want, got)
		}
	}
}

func TestFramePath(t *testing.T) {
	got := FramePath("out", "drive01", 42)
	want := "out/drive01/frame_000042.jpg"
	if got != want {
		t.Fatalf("FramePath: want=%q got=%q", want, got)
	}
}
