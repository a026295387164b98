package order

import (
	"strings"

	"github.com/InnokentiyKim/Retail/internal/domain/fault"
)

// State is an order lifecycle state.
type State string

const (
	Preparing State = "PREPARING"
	Created   State = "CREATED"
	Confirmed State = "CONFIRMED"
	Assembled State = "ASSEMBLED"
	Sent      State = "SENT"
	Delivered State = "DELIVERED"
	Canceled  State = "CANCELED"
)

// States lists every state in lifecycle order.
var States = []State{Preparing, Created, Confirmed, Assembled, Sent, Delivered, Canceled}

var forward = map[State]State{
	Preparing: Created,
	Created:   Confirmed,
	Confirmed: Assembled,
	Assembled: Sent,
	Sent:      Delivered,
}

// ParseState parses a state token, case-insensitively.
func ParseState(s string) (State, error) {
	st := State(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range States {
		if st == known {
			return st, nil
		}
	}
	return "", fault.Validationf("parse state", "unknown state %q", s)
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == Delivered || s == Canceled
}

// Next returns the forward successor of s.
func (s State) Next() (State, bool) {
	n, ok := forward[s]
	return n, ok
}

// StockCommitted reports whether an order in s holds committed stock.
func (s State) StockCommitted() bool {
	switch s {
	case Created, Confirmed, Assembled, Sent:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a lifecycle edge.
func CanTransition(from, to State) bool {
	if to == Canceled {
		return !from.Terminal()
	}
	next, ok := forward[from]
	return ok && next == to
}
