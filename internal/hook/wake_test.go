package hook

import "testing"

func TestWakeMatchesAliases(t *testing.T) {
	if !WakeMatches("hi Claude", "clawd", []string{"claude", "cloud"}) {
		t.Fatalf("expected alias match")
	}
	if WakeMatches("hi there", "clawd", []string{"claude"}) {
		t.Fatalf("expected no match")
	}
}

func TestRemoveWakeWord(t *testing.T) {
	cases := []struct {
		text   string
		expect string
	}{
		{"clawd make it so", "make it so"},
		{"hey ClAwD computer", "hey computer"},
		{"clawd, launch torpedo", "launch torpedo"},
		{"we said clawd twice clawd", "we said twice clawd"},
		{"cloud start the build", "start the build"},
		{"no wake here", "no wake here"},
	}
	for _, c := range cases {
		if got := RemoveWakeWord(c.text, "clawd", []string{"cloud"}); got != c.expect {
			t.Fatalf("RemoveWakeWord(%q)=%q want %q", c.text, got, c.expect)
		}
	}
}
