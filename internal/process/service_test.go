package process

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/joshsymonds/mailrules/internal/gmail"
	"github.com/joshsymonds/mailrules/internal/rules"
	"github.com/joshsymonds/mailrules/internal/store"
)

type modifyCall struct {
	id  gmail.MessageID
	ops gmail.ModifyOps
}

type fakeClient struct {
	modifies      []modifyCall
	modifyErr     error
	ensureCalls   []string
	ensureErr     error
	ensureLabelID gmail.LabelID
}

func (f *fakeClient) List(ctx context.Context, q gmail.Query, pageToken string, pageSize int) (gmail.ListPage, error) {
	_ = ctx
	_ = q
	_ = pageToken
	_ = pageSize
	return gmail.ListPage{}, nil
}

func (f *fakeClient) GetMessage(ctx context.Context, id gmail.MessageID) (gmail.Message, error) {
	_ = ctx
	return gmail.Message{ID: id}, nil
}

func (f *fakeClient) Modify(ctx context.Context, id gmail.MessageID, ops gmail.ModifyOps) error {
	_ = ctx
	f.modifies = append(f.modifies, modifyCall{id: id, ops: ops})
	return f.modifyErr
}

func (f *fakeClient) ListLabels(ctx context.Context) (map[string]gmail.LabelID, map[gmail.LabelID]string, error) {
	_ = ctx
	return nil, nil, nil
}

func (f *fakeClient) EnsureLabel(ctx context.Context, name string) (gmail.LabelID, error) {
	_ = ctx
	f.ensureCalls = append(f.ensureCalls, name)
	if f.ensureErr != nil {
		return "", f.ensureErr
	}
	if f.ensureLabelID != "" {
		return f.ensureLabelID, nil
	}
	return "Label123", nil
}

type fakeLister struct {
	emails []store.Email
	err    error
}

func (f *fakeLister) List(ctx context.Context) ([]store.Email, error) {
	_ = ctx
	return f.emails, f.err
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustString(t *testing.T, field rules.Field, op rules.StringOp, value string) rules.Predicate {
	t.Helper()
	p, err := rules.NewStringPredicate(field, op, value)
	if err != nil {
		t.Fatalf("build predicate: %v", err)
	}
	return p
}

func importantRuleSet(t *testing.T) rules.RuleSet {
	t.Helper()
	return rules.RuleSet{
		Rules: []rules.Predicate{
			mustString(t, rules.FieldSender, rules.OpContains, "example.com"),
			mustString(t, rules.FieldSubject, rules.OpContains, "important"),
		},
		Combine: rules.CombineAll,
		Actions: []rules.Action{
			{Type: rules.ActionMarkAsRead},
			{Type: rules.ActionMoveToMailbox, FolderName: "Important"},
		},
	}
}

func TestRunEndToEnd(t *testing.T) {
	fake := &fakeClient{}
	lister := &fakeLister{emails: []store.Email{
		{ID: "m1", Sender: "sender@example.com", Subject: "This is an important email"},
		{ID: "m2", Sender: "sender@other.com", Subject: "unimportant"},
	}}
	svc := NewService(fake, lister, nil, slogDiscard())
	svc.Clock = func() time.Time { return time.Unix(1700000000, 0) }

	if err := svc.Run(context.Background(), Spec{RuleSet: importantRuleSet(t)}); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(fake.modifies) != 2 {
		t.Fatalf("expected 2 modify calls, got %d", len(fake.modifies))
	}
	first := fake.modifies[0]
	if first.id != "m1" || len(first.ops.RemoveLabels) != 1 || first.ops.RemoveLabels[0] != gmail.LabelUnread {
		t.Fatalf("first modify should mark m1 read, got %+v", first)
	}
	second := fake.modifies[1]
	if second.id != "m1" || len(second.ops.AddLabels) != 1 || second.ops.AddLabels[0] != "Label123" {
		t.Fatalf("second modify should attach the Important label to m1, got %+v", second)
	}
	if len(fake.ensureCalls) != 1 || fake.ensureCalls[0] != "Important" {
		t.Fatalf("expected one label resolution for Important, got %v", fake.ensureCalls)
	}
}

func TestRunDryRunSkipsMutations(t *testing.T) {
	fake := &fakeClient{}
	lister := &fakeLister{emails: []store.Email{
		{ID: "m1", Sender: "sender@example.com", Subject: "important"},
	}}
	svc := NewService(fake, lister, nil, slogDiscard())

	if err := svc.Run(context.Background(), Spec{RuleSet: importantRuleSet(t), DryRun: true}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(fake.modifies) != 0 {
		t.Fatalf("expected no modify calls in dry-run, got %d", len(fake.modifies))
	}
	if len(fake.ensureCalls) != 0 {
		t.Fatalf("expected no label resolution in dry-run, got %v", fake.ensureCalls)
	}
}

func TestExecuteLabelFailureSkipsOnlyThatMove(t *testing.T) {
	fake := &fakeClient{ensureErr: errors.New("quota exceeded")}
	svc := NewService(fake, &fakeLister{}, nil, slogDiscard())

	email := store.Email{ID: "m1"}
	actions := []rules.Action{
		{Type: rules.ActionMoveToMailbox, FolderName: "Broken"},
		{Type: rules.ActionMarkAsUnread},
	}
	if err := svc.Execute(context.Background(), email, actions); err != nil {
		t.Fatalf("execute should recover from label failure: %v", err)
	}
	if len(fake.modifies) != 1 {
		t.Fatalf("expected the sibling action to run, got %d modifies", len(fake.modifies))
	}
	ops := fake.modifies[0].ops
	if len(ops.AddLabels) != 1 || ops.AddLabels[0] != gmail.LabelUnread {
		t.Fatalf("expected mark-as-unread modify, got %+v", ops)
	}
}

func TestRunMemoizesLabelResolution(t *testing.T) {
	fake := &fakeClient{}
	lister := &fakeLister{emails: []store.Email{
		{ID: "m1", Sender: "a@example.com", Subject: "important one"},
		{ID: "m2", Sender: "b@example.com", Subject: "important two"},
	}}
	svc := NewService(fake, lister, nil, slogDiscard())

	if err := svc.Run(context.Background(), Spec{RuleSet: importantRuleSet(t)}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(fake.ensureCalls) != 1 {
		t.Fatalf("expected a single label resolution across the run, got %v", fake.ensureCalls)
	}
	if len(fake.modifies) != 4 {
		t.Fatalf("expected 4 modify calls, got %d", len(fake.modifies))
	}
}

func TestRunFailedResolutionNotCached(t *testing.T) {
	fake := &fakeClient{ensureErr: errors.New("transient")}
	lister := &fakeLister{emails: []store.Email{
		{ID: "m1", Sender: "a@example.com", Subject: "important one"},
		{ID: "m2", Sender: "b@example.com", Subject: "important two"},
	}}
	svc := NewService(fake, lister, nil, slogDiscard())

	if err := svc.Run(context.Background(), Spec{RuleSet: importantRuleSet(t)}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	// Only successes are cached, so the second email retries.
	if len(fake.ensureCalls) != 2 {
		t.Fatalf("expected a resolution attempt per email, got %v", fake.ensureCalls)
	}
}

func TestRunConfigurationErrorAborts(t *testing.T) {
	fake := &fakeClient{}
	lister := &fakeLister{emails: []store.Email{{ID: "m1", Sender: "a@b.c"}}}
	svc := NewService(fake, lister, nil, slogDiscard())

	bad := rules.RuleSet{
		Rules:   []rules.Predicate{{Field: rules.FieldSender, StringOp: "matches", Value: "x"}},
		Combine: rules.CombineAll,
		Actions: []rules.Action{{Type: rules.ActionMarkAsRead}},
	}
	if err := svc.Run(context.Background(), Spec{RuleSet: bad}); err == nil {
		t.Fatalf("expected configuration error to surface")
	}
	if len(fake.modifies) != 0 {
		t.Fatalf("expected no modifications after configuration error, got %d", len(fake.modifies))
	}
}

func TestRunModifyErrorPropagates(t *testing.T) {
	fake := &fakeClient{modifyErr: errors.New("backend unavailable")}
	lister := &fakeLister{emails: []store.Email{
		{ID: "m1", Sender: "a@example.com", Subject: "important"},
	}}
	svc := NewService(fake, lister, nil, slogDiscard())

	if err := svc.Run(context.Background(), Spec{RuleSet: importantRuleSet(t)}); err == nil {
		t.Fatalf("expected modify error to propagate")
	}
}

func TestRunStoreErrorPropagates(t *testing.T) {
	svc := NewService(&fakeClient{}, &fakeLister{err: errors.New("locked")}, nil, slogDiscard())
	if err := svc.Run(context.Background(), Spec{RuleSet: importantRuleSet(t)}); err == nil {
		t.Fatalf("expected store error to propagate")
	}
}
