package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/joshsymonds/mailrules/internal/store"
)

// Clock supplies the current time for date predicates. A nil Clock
// means time.Now. It is read inside the date evaluator on every call;
// a batch run must not share a single sampled "now".
type Clock func() time.Time

// Evaluate tests one predicate against one email. It is a pure
// function of its inputs apart from the wall-clock read for date
// predicates. Unknown operators or fields are configuration errors,
// never a silent false.
func Evaluate(p Predicate, email store.Email, clock Clock) (bool, error) {
	if p.Field == FieldReceivedTime {
		return evaluateDate(p, email.ReceivedAt, clock)
	}
	value, err := textField(p.Field, email)
	if err != nil {
		return false, err
	}
	return evaluateString(p, value)
}

func textField(f Field, e store.Email) (string, error) {
	switch f {
	case FieldSender:
		return e.Sender, nil
	case FieldRecipient:
		return e.Recipient, nil
	case FieldSubject:
		return e.Subject, nil
	case FieldMessage:
		return e.Body, nil
	default:
		return "", fmt.Errorf("unknown field %q", f)
	}
}

func evaluateString(p Predicate, fieldValue string) (bool, error) {
	have := strings.ToLower(fieldValue)
	want := strings.ToLower(p.Value)
	switch p.StringOp {
	case OpContains:
		return strings.Contains(have, want), nil
	case OpDoesNotContain:
		return !strings.Contains(have, want), nil
	case OpEquals:
		return have == want, nil
	case OpDoesNotEqual:
		return have != want, nil
	default:
		return false, fmt.Errorf("invalid string predicate %q", p.StringOp)
	}
}

func evaluateDate(p Predicate, receivedAt time.Time, clock Clock) (bool, error) {
	threshold, err := parseDateValue(p.Value)
	if err != nil {
		return false, err
	}
	if clock == nil {
		clock = time.Now
	}
	age := clock().UTC().Sub(receivedAt)
	switch p.DateOp {
	case OpIsLessThan:
		return age < threshold, nil
	case OpIsGreaterThan:
		return age > threshold, nil
	default:
		return false, fmt.Errorf("invalid date predicate %q", p.DateOp)
	}
}

// Apply evaluates every predicate in order (no short-circuiting, so an
// evaluator error surfaces regardless of position) and folds the
// results per the combine mode. On a match it returns the rule set's
// actions unchanged and in order; otherwise nil. An empty predicate
// list matches under CombineAll and does not match under CombineAny.
func (rs RuleSet) Apply(email store.Email, clock Clock) ([]Action, error) {
	results := make([]bool, 0, len(rs.Rules))
	for _, p := range rs.Rules {
		ok, err := Evaluate(p, email, clock)
		if err != nil {
			return nil, fmt.Errorf("evaluate %s predicate against %s: %w", p.Field, email.ID, err)
		}
		results = append(results, ok)
	}

	var matched bool
	switch rs.Combine {
	case CombineAll:
		matched = true
		for _, r := range results {
			if !r {
				matched = false
				break
			}
		}
	case CombineAny:
		for _, r := range results {
			if r {
				matched = true
				break
			}
		}
	default:
		return nil, fmt.Errorf("invalid rule_predicate %q", rs.Combine)
	}

	if !matched {
		return nil, nil
	}
	return rs.Actions, nil
}
