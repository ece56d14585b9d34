package doctor

import "testing"

type fakeCheck struct {
	BaseCheck
	status Status
}

func (c fakeCheck) Run(ctx *CheckContext) *CheckResult {
	return &CheckResult{Name: c.Name(), Status: c.status}
}

func TestWorstPicksMostSevere(t *testing.T) {
	results := []*CheckResult{
		{Status: StatusOK},
		{Status: StatusWarning},
		{Status: StatusOK},
	}
	if got := Worst(results); got != StatusWarning {
		t.Errorf("Worst = %v, want warning", got)
	}
}

func TestWorstErrorOutranksWarning(t *testing.T) {
	results := []*CheckResult{{Status: StatusWarning}, {Status: StatusError}, {Status: StatusOK}}
	if got := Worst(results); got != StatusError {
		t.Errorf("Worst = %v, want error", got)
	}
}

func TestExitCodeMapping(t *testing.T) {
	cases := map[Status]int{StatusOK: 0, StatusWarning: 1, StatusError: 2}
	for status, want := range cases {
		if got := ExitCode(status); got != want {
			t.Errorf("ExitCode(%v) = %d, want %d", status, got, want)
		}
	}
}

func TestRunFillsDefaultCategory(t *testing.T) {
	check := fakeCheck{BaseCheck: BaseCheck{CheckName: "fake", CheckCategory: CategoryState}, status: StatusOK}
	results := Run([]Check{check}, &CheckContext{})
	if results[0].Category != CategoryState {
		t.Errorf("Category = %v, want %v", results[0].Category, CategoryState)
	}
}
