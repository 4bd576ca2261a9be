// Package booker contains the core domain types for the shift booking engine.
package booker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SlotTarget identifies a bookable shift by the date and label the site renders.
// Matching against the page is literal apart from the whitespace a browser
// collapses when it displays the text. There is no case folding.
type SlotTarget struct {
	Date  string `json:"date" validate:"required"`
	Label string `json:"name" validate:"required"`
}

func (t SlotTarget) String() string {
	return t.Date + " | " + t.Label
}

// Observation is what a session sees when it looks for a target on the current view.
type Observation int

const (
	NotPresent  Observation = iota // not rendered on the current view
	Full                           // rendered, remaining capacity is zero
	Claimable                      // rendered, claim action visible and enabled
	Unclaimable                    // rendered, claim action absent or disabled
)

func (o Observation) String() string {
	switch o {
	case NotPresent:
		return "not_present"
	case Full:
		return "full"
	case Claimable:
		return "claimable"
	case Unclaimable:
		return "unclaimable"
	default:
		return "unknown(" + strconv.Itoa(int(o)) + ")"
	}
}

// Seconds is a cooldown as entered by the operator. Older account files store
// it either as a JSON number or as an empty string, so both decode.
type Seconds string

// UnmarshalJSON accepts a JSON number, a string, or null.
func (s *Seconds) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return fmt.Errorf("decode cooldown: %w", err)
		}
		*s = Seconds(strings.TrimSpace(str))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("decode cooldown: %w", err)
	}
	*s = Seconds(n.String())
	return nil
}

// MarshalJSON writes numeric values as numbers and anything else as a string.
func (s Seconds) MarshalJSON() ([]byte, error) {
	if n, err := strconv.Atoi(string(s)); err == nil {
		return []byte(strconv.Itoa(n)), nil
	}
	return json.Marshal(string(s))
}

// Duration parses the value as a whole number of seconds.
func (s Seconds) Duration() (time.Duration, error) {
	n, err := strconv.Atoi(strings.TrimSpace(string(s)))
	if err != nil {
		return 0, fmt.Errorf("cooldown %q is not a number: %w", string(s), err)
	}
	if n < 0 {
		return 0, fmt.Errorf("cooldown %d is negative", n)
	}
	return time.Duration(n) * time.Second, nil
}

// Credentials is a username and secret pair used to log in to the site.
type Credentials struct {
	Username string `json:"username"`
	Secret   string `json:"password"`
}

// Account is one site login. When UseShared is set, Room, Cooldown and Targets
// are ignored in favour of the run-wide shared inputs.
type Account struct {
	Username  string    `json:"username"`
	Secret    string    `json:"password"`
	UseShared bool      `json:"use_shared"`
	Room      string    `json:"room"`
	Cooldown  Seconds   `json:"cooldown"`
	Targets   TargetSet `json:"shifts"`
}

// Credentials returns the login pair of the account.
func (a Account) Credentials() Credentials {
	return Credentials{Username: a.Username, Secret: a.Secret}
}

// DisplayName returns a short label that does not expose the full username.
// A negative index omits the position prefix.
func (a Account) DisplayName(index int) string {
	base := a.Username
	if at := strings.Index(base, "@"); at >= 0 {
		base = base[:at]
	}
	if r := []rune(base); len(r) > 3 {
		base = string(r[:3]) + "***"
	}
	if base == "" {
		base = "Account"
	}
	if index < 0 {
		return base
	}
	return strconv.Itoa(index+1) + ":" + base
}

// SharedInputs are the run-wide values used by accounts with UseShared set.
type SharedInputs struct {
	Room     string
	Cooldown Seconds
	Targets  TargetSet
}

// Preset is a named, reusable combination of room, cooldown and targets.
type Preset struct {
	Room     string    `json:"room_number"`
	Cooldown Seconds   `json:"cooldown"`
	Targets  TargetSet `json:"shifts"`
}

// RunSpec holds the resolved parameters of one account's run. It owns its
// Targets; nothing else references them.
type RunSpec struct {
	Room        string
	Cooldown    time.Duration
	Targets     TargetSet
	Credentials Credentials
	Label       string
}
