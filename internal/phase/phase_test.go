package phase

import (
	"testing"

	"github.com/rjwalters/loom/internal/platform"
)

func TestHasLabel(t *testing.T) {
	labels := []string{"loom:building", "loom:urgent"}
	if !hasLabel(labels, "loom:building") {
		t.Error("expected loom:building to be present")
	}
	if hasLabel(labels, "loom:curated") {
		t.Error("expected loom:curated to be absent")
	}
}

func TestSubstantiveFiles(t *testing.T) {
	cases := []struct {
		name   string
		status *platform.Status
		want   bool
	}{
		{"only marker", &platform.Status{Untracked: []string{".loom-in-use"}}, false},
		{"real change", &platform.Status{Modified: []string{"main.go"}}, true},
		{"empty", &platform.Status{}, false},
		{"marker plus change", &platform.Status{Untracked: []string{".loom-in-use"}, Added: []string{"new_file.go"}}, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := substantiveFiles(c.status)
			if got != c.want {
				t.Errorf("substantiveFiles() = %v, want %v", got, c.want)
			}
		})
	}
}
