package task

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Matcher selects records during queries. Implementations report whether a
// record matches; an error aborts the query and surfaces synchronously to
// the caller.
type Matcher interface {
	Matches(r Record) (bool, error)
}

// Match is a structural subset matcher: a record matches if every entry is
// present and equal. The keys "id", "kind" and "status" compare against the
// record's own fields; every other key compares against the corresponding
// field of the decoded JSON payload object.
type Match map[string]any

// Matches implements Matcher.
func (m Match) Matches(r Record) (bool, error) {
	var payload map[string]any
	for key, want := range m {
		var got any
		switch key {
		case "id":
			got = r.ID.String()
		case "kind":
			got = r.Kind
		case "status":
			got = string(r.Status)
		default:
			if payload == nil {
				if len(r.Payload) == 0 {
					return false, nil
				}
				if err := json.Unmarshal(r.Payload, &payload); err != nil {
					// Non-object payloads can never satisfy a field match.
					return false, nil
				}
			}
			v, ok := payload[key]
			if !ok {
				return false, nil
			}
			got = v
		}

		equal, err := jsonEqual(got, want)
		if err != nil {
			return false, err
		}
		if !equal {
			return false, nil
		}
	}
	return true, nil
}

// MatchFunc adapts a predicate function to the Matcher interface. A panic
// inside the predicate is recovered and surfaced as ErrMatchPredicate.
type MatchFunc func(r Record) bool

// Matches implements Matcher.
func (f MatchFunc) Matches(r Record) (matched bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			matched = false
			err = fmt.Errorf("%w: %v", ErrMatchPredicate, p)
		}
	}()
	return f(r), nil
}

// jsonEqual compares two values after normalizing both through JSON, so a
// criteria value of int(123) equals the float64 a decoded payload carries.
func jsonEqual(got, want any) (bool, error) {
	normGot, err := jsonNormalize(got)
	if err != nil {
		return false, err
	}
	normWant, err := jsonNormalize(want)
	if err != nil {
		return false, err
	}
	return reflect.DeepEqual(normGot, normWant), nil
}

func jsonNormalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: criteria value not serializable: %w", ErrMatchPredicate, err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMatchPredicate, err)
	}
	return out, nil
}
