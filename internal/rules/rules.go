// Package rules defines the declarative rule model and evaluates rule
// sets against stored emails.
package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Field selects the email attribute a predicate tests. The set is
// closed; adding a field requires adding evaluation support.
type Field string

const (
	FieldSender       Field = "sender"
	FieldRecipient    Field = "recipient"
	FieldSubject      Field = "subject"
	FieldMessage      Field = "message"
	FieldReceivedTime Field = "received_time"
)

// StringOp compares text fields. Spellings match the rules document.
type StringOp string

const (
	OpContains       StringOp = "contains"
	OpDoesNotContain StringOp = "does not contain"
	OpEquals         StringOp = "equals"
	OpDoesNotEqual   StringOp = "does not equal"
)

// DateOp compares the age of a message (now - received_time) against a
// duration threshold. Valid only for FieldReceivedTime.
type DateOp string

const (
	OpIsLessThan    DateOp = "is less than"
	OpIsGreaterThan DateOp = "is greater than"
)

// CombineMode folds per-predicate results into a rule-set match.
type CombineMode string

const (
	CombineAll CombineMode = "all"
	CombineAny CombineMode = "any"
)

// ActionType names a mailbox mutation.
type ActionType string

const (
	ActionMarkAsRead    ActionType = "mark_as_read"
	ActionMarkAsUnread  ActionType = "mark_as_unread"
	ActionMoveToMailbox ActionType = "move_to_mailbox"
)

// Action is one mailbox mutation to apply when a rule set matches.
// FolderName is meaningful only for ActionMoveToMailbox.
type Action struct {
	Type       ActionType `json:"action_type"`
	FolderName string     `json:"folder_name,omitempty"`
}

// Predicate is a single field/operator/comparand test. Exactly one of
// StringOp and DateOp is set, keyed by Field: date operators apply only
// to received_time, string operators to everything else. The pairing is
// enforced at construction and load time so a mismatched predicate is
// never evaluated.
type Predicate struct {
	Field    Field
	StringOp StringOp
	DateOp   DateOp
	Value    string
}

// RuleSet is a predicate list, a combination mode, and the actions to
// take when the combination matches. Immutable after loading.
type RuleSet struct {
	Rules   []Predicate `json:"rules"`
	Combine CombineMode `json:"rule_predicate"`
	Actions []Action    `json:"actions"`
}

// NewStringPredicate builds a validated text-field predicate.
func NewStringPredicate(field Field, op StringOp, value string) (Predicate, error) {
	p := Predicate{Field: field, StringOp: op, Value: value}
	if err := p.Validate(); err != nil {
		return Predicate{}, err
	}
	return p, nil
}

// NewDatePredicate builds a validated received_time predicate. The
// value must parse as "<integer> <unit>" with unit day(s) or month(s).
func NewDatePredicate(op DateOp, value string) (Predicate, error) {
	p := Predicate{Field: FieldReceivedTime, DateOp: op, Value: value}
	if err := p.Validate(); err != nil {
		return Predicate{}, err
	}
	return p, nil
}

// Validate reports whether the predicate is a legal field/operator/value
// combination. Violations are configuration errors, surfaced at load
// time rather than per email.
func (p Predicate) Validate() error {
	switch p.Field {
	case FieldSender, FieldRecipient, FieldSubject, FieldMessage:
		if p.DateOp != "" {
			return fmt.Errorf("date predicate %q not valid for field %q", p.DateOp, p.Field)
		}
		switch p.StringOp {
		case OpContains, OpDoesNotContain, OpEquals, OpDoesNotEqual:
			return nil
		default:
			return fmt.Errorf("invalid string predicate %q for field %q", p.StringOp, p.Field)
		}
	case FieldReceivedTime:
		if p.StringOp != "" {
			return fmt.Errorf("string predicate %q not valid for field %q", p.StringOp, p.Field)
		}
		switch p.DateOp {
		case OpIsLessThan, OpIsGreaterThan:
		default:
			return fmt.Errorf("invalid date predicate %q for field %q", p.DateOp, p.Field)
		}
		if _, err := parseDateValue(p.Value); err != nil {
			return err
		}
		return nil
	default:
		return fmt.Errorf("unknown field %q", p.Field)
	}
}

func (a Action) validate() error {
	switch a.Type {
	case ActionMarkAsRead, ActionMarkAsUnread:
		return nil
	case ActionMoveToMailbox:
		if strings.TrimSpace(a.FolderName) == "" {
			return fmt.Errorf("%s requires folder_name", ActionMoveToMailbox)
		}
		return nil
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
}

// Validate checks the whole rule set. Rules and Actions must be present
// in the document (an empty list is allowed; a missing key is not).
func (rs RuleSet) Validate() error {
	if rs.Rules == nil {
		return fmt.Errorf("rules list is required")
	}
	if rs.Actions == nil {
		return fmt.Errorf("actions list is required")
	}
	switch rs.Combine {
	case CombineAll, CombineAny:
	case "":
		return fmt.Errorf("rule_predicate is required")
	default:
		return fmt.Errorf("invalid rule_predicate %q", rs.Combine)
	}
	for i, p := range rs.Rules {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	for i, a := range rs.Actions {
		if err := a.validate(); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	return nil
}

// predicateDoc is the wire shape of a predicate in the rules document.
type predicateDoc struct {
	Field     Field  `json:"field_name"`
	Predicate string `json:"predicate"`
	Value     string `json:"value"`
}

// UnmarshalJSON decodes the wire shape and tags the operator by field
// type, rejecting unknown keys and illegal combinations.
func (p *Predicate) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var doc predicateDoc
	if err := dec.Decode(&doc); err != nil {
		return err
	}
	parsed := Predicate{Field: doc.Field, Value: doc.Value}
	if doc.Field == FieldReceivedTime {
		parsed.DateOp = DateOp(doc.Predicate)
	} else {
		parsed.StringOp = StringOp(doc.Predicate)
	}
	if err := parsed.Validate(); err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalJSON emits the wire shape, preserving the document round trip.
func (p Predicate) MarshalJSON() ([]byte, error) {
	op := string(p.StringOp)
	if p.Field == FieldReceivedTime {
		op = string(p.DateOp)
	}
	return json.Marshal(predicateDoc{Field: p.Field, Predicate: op, Value: p.Value})
}

// Load reads and validates a rule-set document. Unknown or missing
// required fields are load-time errors, never per-email errors.
func Load(path string) (RuleSet, error) {
	f, err := os.Open(path) // #nosec G304 - path comes from a flag
	if err != nil {
		return RuleSet{}, fmt.Errorf("open rules file: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	var rs RuleSet
	if err := dec.Decode(&rs); err != nil {
		return RuleSet{}, fmt.Errorf("decode rules file %s: %w", path, err)
	}
	if err := rs.Validate(); err != nil {
		return RuleSet{}, fmt.Errorf("invalid rules file %s: %w", path, err)
	}
	return rs, nil
}

// parseDateValue parses "<integer> <unit>" into a duration. A month is
// an intentionally approximate 30 days; calendar months are not modeled.
func parseDateValue(value string) (time.Duration, error) {
	parts := strings.Fields(value)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid date value %q: want \"<amount> <unit>\"", value)
	}
	amount, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid date amount %q: %w", parts[0], err)
	}
	const day = 24 * time.Hour
	switch unit := parts[1]; {
	case strings.HasPrefix(unit, "day"):
		return time.Duration(amount) * day, nil
	case strings.HasPrefix(unit, "month"):
		return time.Duration(amount) * 30 * day, nil
	default:
		return 0, fmt.Errorf("invalid time unit %q", parts[1])
	}
}
