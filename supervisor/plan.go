package supervisor

import (
	"errors"
	"strings"

	"shift-booker/pkg/booker"
)

// Problem is one reason a run cannot start. Account is empty for problems
// that concern the run as a whole.
type Problem struct {
	Account string
	Message string
}

func (p Problem) String() string {
	if p.Account == "" {
		return p.Message
	}
	return p.Account + ": " + p.Message
}

// ValidationError lists every problem found while planning a run. No worker
// is started when it is returned.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.String()
	}
	return "cannot start: " + strings.Join(parts, "; ")
}

// Accounts returns the labels of the offending accounts, in order.
func (e *ValidationError) Accounts() []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range e.Problems {
		if p.Account != "" && !seen[p.Account] {
			seen[p.Account] = true
			out = append(out, p.Account)
		}
	}
	return out
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// Plan resolves one RunSpec per account. Accounts in shared mode take the
// shared inputs; the others must carry their own. Each RunSpec receives its
// own copy of the targets. All accounts are checked before anything is
// returned.
func Plan(accounts []booker.Account, shared booker.SharedInputs) ([]booker.RunSpec, error) {
	if len(accounts) == 0 {
		return nil, &ValidationError{Problems: []Problem{{Message: "add at least one account before starting"}}}
	}

	var problems []Problem
	specs := make([]booker.RunSpec, 0, len(accounts))
	for idx, a := range accounts {
		label := a.DisplayName(idx)
		room, cooldown, targets := a.Room, a.Cooldown, a.Targets
		source := "custom config"
		if a.UseShared {
			room, cooldown, targets = shared.Room, shared.Cooldown, shared.Targets
			source = "main list"
		}

		if msgs := booker.CheckRunInputs(room, cooldown, targets); len(msgs) > 0 {
			for _, m := range msgs {
				problems = append(problems, Problem{Account: label, Message: source + ": " + m})
			}
			continue
		}

		d, err := cooldown.Duration()
		if err != nil {
			problems = append(problems, Problem{Account: label, Message: source + ": " + err.Error()})
			continue
		}
		specs = append(specs, booker.RunSpec{
			Room:        strings.TrimSpace(room),
			Cooldown:    d,
			Targets:     targets.Clone(),
			Credentials: a.Credentials(),
			Label:       label,
		})
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return specs, nil
}
