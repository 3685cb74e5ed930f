package idgen

import (
	"regexp"
	"testing"
)

func TestIDs(t *testing.T) {
	for _, tc := range []struct {
		name string
		gen  func() (string, error)
		re   *regexp.Regexp
	}{
		{"job", JobID, regexp.MustCompile(`^job-[0-9a-z]{12}$`)},
		{"run", RunID, regexp.MustCompile(`^run-[0-9a-z]{12}$`)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			seen := make(map[string]bool)
			for i := 0; i < 200; i++ {
				id, err := tc.gen()
				if err != nil {
					t.Fatalf("iteration %d: %v", i, err)
				}
				if !tc.re.MatchString(id) {
					t.Fatalf("id %q does not match %s", id, tc.re)
				}
				if seen[id] {
					t.Fatalf("duplicate id %q", id)
				}
				seen[id] = true
			}
		})
	}
}
