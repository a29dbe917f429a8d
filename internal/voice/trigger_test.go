package voice

import (
	"testing"
)

func TestTriggerContains(t *testing.T) {
	d := NewTriggerDetector("Hey Agent")
	cases := []struct {
		in   string
		want bool
	}{
		{"hey agent", true},
		{"HEY   agent, what time is it", true},
		{"so hey agent", true},
		{"hey", false},
		{"agent hey", false},
		{"", false},
	}
	for _, c := range cases {
		if got := d.Contains(c.in); got != c.want {
			t.Fatalf("Contains(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestTriggerCapture(t *testing.T) {
	d := NewTriggerDetector("hey agent")
	cases := []struct {
		in    string
		rest  string
		found bool
	}{
		{"hey agent turn on the lights.", "turn on the lights.", true},
		{"hey agent, turn on the lights", "turn on the lights", true},
		{"um hey agent what is", "what is", true},
		{"hey agent what hey agent is", "what is", true},
		{"hey agent", "", true},
		{"Turn It Off", "turn it off", false},
	}
	for _, c := range cases {
		rest, found := d.Capture(c.in)
		if rest != c.rest || found != c.found {
			t.Fatalf("Capture(%q) = (%q, %v), want (%q, %v)", c.in, rest, found, c.rest, c.found)
		}
	}
}

func TestTriggerStrip(t *testing.T) {
	d := NewTriggerDetector("hey agent")
	cases := map[string]string{
		"the kitchen lights hey agent please": "the kitchen lights please",
		"hey agent, again":                    "again",
		"lights hey agent":                    "lights",
		"hey agent hey agent":                 "",
		"no trigger here":                     "no trigger here",
	}
	for in, want := range cases {
		if got := d.Strip(in); got != want {
			t.Fatalf("Strip(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCutSubmitWord(t *testing.T) {
	if rest, ok := cutSubmitWord("turn on the lights go", "go"); !ok || rest != "turn on the lights" {
		t.Fatalf("unexpected cut: %q %v", rest, ok)
	}
	if rest, ok := cutSubmitWord("go.", "go"); !ok || rest != "" {
		t.Fatalf("unexpected cut: %q %v", rest, ok)
	}
	if _, ok := cutSubmitWord("let's go outside", "go"); ok {
		t.Fatalf("submit word must be the final word")
	}
	if _, ok := cutSubmitWord("go", ""); ok {
		t.Fatalf("empty submit word must never match")
	}
}
