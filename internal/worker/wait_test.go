package worker

import (
	"testing"

	"github.com/rjwalters/loom/internal/store"
)

func TestMatchCompletionPattern(t *testing.T) {
	cases := []struct {
		name  string
		phase store.Phase
		pane  string
		want  bool
	}{
		{"builder PR link", store.PhaseBuilder, "Opened https://github.com/acme/widgets/pull/42", true},
		{"builder no link", store.PhaseBuilder, "still working...", false},
		{"judge label", store.PhaseJudge, "applied loom:changes-requested", true},
		{"doctor label", store.PhaseDoctor, "re-labeled loom:review-requested", true},
		{"curator label", store.PhaseCurator, "moved to loom:curated", true},
		{"generic exit token", store.PhaseBuilder, "> /exit", true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := matchCompletionPattern(c.phase, c.pane)
			if got != c.want {
				t.Errorf("matchCompletionPattern(%q, %q) = %v, want %v", c.phase, c.pane, got, c.want)
			}
		})
	}
}

func TestLooksLikePromptIdle(t *testing.T) {
	cases := []struct {
		name string
		pane string
		want bool
	}{
		{"idle slash prompt", "some output\n/builder", true},
		{"spinner active", "some output\n⠋ thinking...", false},
		{"streaming ellipsis", "generating response...", false},
		{"plain prose", "Here is the summary of changes.", false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := looksLikePromptIdle(c.pane)
			if got != c.want {
				t.Errorf("looksLikePromptIdle(%q) = %v, want %v", c.pane, got, c.want)
			}
		})
	}
}
