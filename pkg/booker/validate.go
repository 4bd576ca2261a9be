package booker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// runInputs is the set of values a run needs, whether they come from the
// shared inputs or from an account's own configuration.
type runInputs struct {
	Room     string    `validate:"required,number"`
	Cooldown string    `validate:"required,number"`
	Targets  TargetSet `validate:"required,min=1,dive"`
}

// CheckRunInputs reports every problem with room, cooldown and targets.
// Room and cooldown must be non-empty strings of decimal digits and at least
// one complete target is required. It returns nil when the inputs are usable.
func CheckRunInputs(room string, cooldown Seconds, targets TargetSet) []string {
	in := runInputs{
		Room:     strings.TrimSpace(room),
		Cooldown: strings.TrimSpace(string(cooldown)),
		Targets:  targets,
	}
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, describe(fe))
	}
	return problems
}

func describe(fe validator.FieldError) string {
	switch fe.StructField() {
	case "Room":
		if fe.Tag() == "required" {
			return "room number is required"
		}
		return "room number must contain only numbers"
	case "Cooldown":
		if fe.Tag() == "required" {
			return "cooldown is required"
		}
		return "cooldown must be a number (seconds)"
	case "Targets":
		return "at least one shift is required"
	case "Date":
		return fmt.Sprintf("shift %s is missing its date", targetIndex(fe.Namespace()))
	case "Label":
		return fmt.Sprintf("shift %s is missing its name", targetIndex(fe.Namespace()))
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

// targetIndex extracts "2" from a namespace like "runInputs.Targets[1].Date"
// and makes it one-based.
func targetIndex(ns string) string {
	open := strings.Index(ns, "[")
	end := strings.Index(ns, "]")
	if open < 0 || end < open {
		return "?"
	}
	var i int
	if _, err := fmt.Sscanf(ns[open+1:end], "%d", &i); err != nil {
		return "?"
	}
	return fmt.Sprint(i + 1)
}
