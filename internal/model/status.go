package model

import (
	"encoding/json"
	"fmt"
)

// Status is the lifecycle state of a waitlist entry. The set is closed:
// values can only be obtained from the constants below or ParseStatus.
type Status struct {
	name string
}

var (
	StatusWaiting   = Status{"WAITING"}
	StatusNotified  = Status{"NOTIFIED"}
	StatusPromoted  = Status{"PROMOTED"}
	StatusExpired   = Status{"EXPIRED"}
	StatusCancelled = Status{"CANCELLED"}
)

var allStatuses = []Status{StatusWaiting, StatusNotified, StatusPromoted, StatusExpired, StatusCancelled}

// transitions lists the legal edges of the entry state machine.
var transitions = map[Status][]Status{
	StatusWaiting:  {StatusNotified, StatusCancelled},
	StatusNotified: {StatusPromoted, StatusExpired, StatusCancelled},
}

// ParseStatus converts a stored or user-supplied value into a Status.
func ParseStatus(s string) (Status, error) {
	for _, st := range allStatuses {
		if st.name == s {
			return st, nil
		}
	}
	return Status{}, fmt.Errorf("unknown waitlist status %q", s)
}

func (s Status) String() string { return s.name }

// IsZero reports whether s is the unset status.
func (s Status) IsZero() bool { return s.name == "" }

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return !s.IsZero() && len(transitions[s]) == 0
}

// CanTransitionTo reports whether s -> next is an edge of the state machine.
func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.name)
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
