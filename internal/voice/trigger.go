package voice

import (
	"strings"
)

// edgePunct is trimmed from the front of captured text after the trigger
// ("hey agent, turn on" captures "turn on").
const edgePunct = " ,.!?;:-\"'`~"

// TriggerDetector matches the wake phrase as a case-insensitive literal
// substring of normalized text.
type TriggerDetector struct {
	Phrase string
}

func NewTriggerDetector(phrase string) *TriggerDetector {
	return &TriggerDetector{Phrase: Normalize(phrase)}
}

// Contains reports whether text carries the trigger phrase.
func (d *TriggerDetector) Contains(text string) bool {
	if d == nil || d.Phrase == "" || text == "" {
		return false
	}
	return strings.Contains(Normalize(text), d.Phrase)
}

// Capture returns the words spoken after the first trigger occurrence,
// with any repeated occurrences removed. found is false when text has no
// trigger, in which case rest is the normalized text unchanged.
func (d *TriggerDetector) Capture(text string) (rest string, found bool) {
	s := Normalize(text)
	if d == nil || d.Phrase == "" {
		return s, false
	}
	idx := strings.Index(s, d.Phrase)
	if idx < 0 {
		return s, false
	}
	rest = s[idx+len(d.Phrase):]
	rest = strings.ReplaceAll(rest, d.Phrase, " ")
	rest = strings.TrimLeft(Normalize(rest), edgePunct)
	return strings.TrimSpace(rest), true
}

// Strip removes every trigger occurrence from text and keeps the words
// around them.
func (d *TriggerDetector) Strip(text string) string {
	s := Normalize(text)
	if d == nil || d.Phrase == "" {
		return s
	}
	s = Normalize(strings.ReplaceAll(s, d.Phrase, " "))
	return strings.Trim(s, edgePunct)
}

// cutSubmitWord reports whether text ends with word (ignoring trailing
// punctuation) and returns the text without it.
func cutSubmitWord(text, word string) (string, bool) {
	if word == "" {
		return text, false
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return text, false
	}
	last := strings.Trim(fields[len(fields)-1], edgePunct)
	if last != word {
		return text, false
	}
	return strings.TrimRight(strings.Join(fields[:len(fields)-1], " "), edgePunct), true
}
