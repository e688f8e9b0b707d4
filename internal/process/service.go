// Package process applies a rule set to stored emails and executes the
// resulting mailbox actions against Gmail.
package process

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joshsymonds/mailrules/internal/gmail"
	"github.com/joshsymonds/mailrules/internal/rate"
	"github.com/joshsymonds/mailrules/internal/rules"
	"github.com/joshsymonds/mailrules/internal/store"
)

// Lister is the slice of the mail store the processor needs.
type Lister interface {
	List(ctx context.Context) ([]store.Email, error)
}

// Spec controls a single processing run.
type Spec struct {
	RuleSet rules.RuleSet
	DryRun  bool
}

// Service evaluates the rule set per stored email and dispatches
// actions. Emails are independent; a provider failure on one label
// resolution skips that single action, while rule-set configuration
// errors abort the run.
type Service struct {
	Client  gmail.Client
	Store   Lister
	Limiter rate.Limiter
	Logger  *slog.Logger
	Clock   rules.Clock

	labelIDs map[string]gmail.LabelID // folder name -> resolved label, successes only
}

// NewService constructs a Service with sane defaults.
func NewService(client gmail.Client, lister Lister, limiter rate.Limiter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Service{
		Client:   client,
		Store:    lister,
		Limiter:  limiter,
		Logger:   logger,
		labelIDs: map[string]gmail.LabelID{},
	}
}

// Run loads every stored email, applies the rule set, and executes the
// matched actions (or just logs them when DryRun is set).
func (s *Service) Run(ctx context.Context, spec Spec) error {
	emails, err := s.Store.List(ctx)
	if err != nil {
		return fmt.Errorf("list stored emails: %w", err)
	}

	matched := 0
	for _, email := range emails {
		actions, err := spec.RuleSet.Apply(email, s.Clock)
		if err != nil {
			return fmt.Errorf("apply rules: %w", err)
		}
		if len(actions) == 0 {
			continue
		}
		matched++
		if spec.DryRun {
			s.Logger.InfoContext(ctx, "dry-run: matched",
				"id", email.ID, "sender", email.Sender, "actions", describeActions(actions))
			continue
		}
		if err := s.Execute(ctx, email, actions); err != nil {
			return fmt.Errorf("execute actions for %s: %w", email.ID, err)
		}
	}

	s.Logger.InfoContext(ctx, "processed emails",
		"total", len(emails), "matched", matched, "dry_run", spec.DryRun)
	return nil
}

// Execute issues the resolved actions for one email, in order. Each
// action is an independent idempotent command; a label that fails to
// resolve skips only its own move.
func (s *Service) Execute(ctx context.Context, email store.Email, actions []rules.Action) error {
	id := gmail.MessageID(email.ID)
	for _, action := range actions {
		switch action.Type {
		case rules.ActionMarkAsRead:
			ops := gmail.ModifyOps{RemoveLabels: []gmail.LabelID{gmail.LabelUnread}}
			if err := s.modify(ctx, id, ops); err != nil {
				return err
			}
		case rules.ActionMarkAsUnread:
			ops := gmail.ModifyOps{AddLabels: []gmail.LabelID{gmail.LabelUnread}}
			if err := s.modify(ctx, id, ops); err != nil {
				return err
			}
		case rules.ActionMoveToMailbox:
			lid, err := s.resolveLabel(ctx, action.FolderName)
			if err != nil {
				return err
			}
			if lid == "" {
				continue
			}
			ops := gmail.ModifyOps{AddLabels: []gmail.LabelID{lid}}
			if err := s.modify(ctx, id, ops); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown action type %q", action.Type)
		}
	}
	return nil
}

// resolveLabel returns the label ID for a folder name, creating the
// label when absent. Provider failures are logged and reported as an
// empty ID so the caller skips that action; they never abort the run.
func (s *Service) resolveLabel(ctx context.Context, name string) (gmail.LabelID, error) {
	if lid, ok := s.labelIDs[name]; ok {
		return lid, nil
	}
	if err := s.wait(ctx, "rate limit ensure label"); err != nil {
		return "", err
	}
	lid, err := s.Client.EnsureLabel(ctx, name)
	if err != nil {
		s.Logger.ErrorContext(ctx, "resolve label failed", "folder", name, "error", err)
		return "", nil
	}
	if s.labelIDs == nil {
		s.labelIDs = map[string]gmail.LabelID{}
	}
	s.labelIDs[name] = lid
	return lid, nil
}

func (s *Service) modify(ctx context.Context, id gmail.MessageID, ops gmail.ModifyOps) error {
	if err := s.wait(ctx, "rate limit modify"); err != nil {
		return err
	}
	if err := s.Client.Modify(ctx, id, ops); err != nil {
		return fmt.Errorf("modify message %s: %w", id, err)
	}
	return nil
}

func (s *Service) wait(ctx context.Context, operation string) error {
	if s.Limiter == nil {
		return nil
	}
	if err := s.Limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	return nil
}

func describeActions(actions []rules.Action) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		if a.Type == rules.ActionMoveToMailbox {
			out = append(out, fmt.Sprintf("%s(%s)", a.Type, a.FolderName))
			continue
		}
		out = append(out, string(a.Type))
	}
	return out
}
