// Package idgen generates the short ids carried by reply jobs and publish
// runs. Event ids are content hashes and never come from here.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Id prefixes.
const (
	JobPrefix = "job-"
	RunPrefix = "run-"
)

const (
	alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	length   = 12
)

// JobID returns a fresh reply-job id.
func JobID() (string, error) { return withPrefix(JobPrefix) }

// RunID returns a fresh id for one publish run, used to correlate log lines.
func RunID() (string, error) { return withPrefix(RunPrefix) }

func withPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(alphabet, length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
