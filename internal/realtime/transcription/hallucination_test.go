package transcription

import "testing"

func TestIsHallucination(t *testing.T) {
	cases := map[string]bool{
		"[blank_audio]":          true,
		"[BLANK_AUDIO]":          true,
		"  [silence]  ":          true,
		"[music]":                true,
		"You":                    true,
		"Thank you.":             true,
		"Thanks for watching!":   true,
		"":                       true,
		"   ":                    true,
		"hello, can you hear me": false,
		"thank you for the help": false,
	}

	for text, want := range cases {
		if got := isHallucination(text); got != want {
			t.Errorf("isHallucination(%q) = %v, want %v", text, got, want)
		}
	}
}
