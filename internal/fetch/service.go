// Package fetch pulls messages from Gmail and persists them locally.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/joshsymonds/mailrules/internal/gmail"
	"github.com/joshsymonds/mailrules/internal/rate"
	"github.com/joshsymonds/mailrules/internal/store"
)

// Saver is the slice of the mail store the fetcher needs.
type Saver interface {
	Save(ctx context.Context, emails []store.Email) error
}

// Spec controls a single fetch run.
type Spec struct {
	Query     string // optional Gmail query to restrict the fetch
	MaxEmails int
	PageSize  int
}

// Service downloads message metadata and bodies into the store.
type Service struct {
	Client  gmail.Client
	Store   Saver
	Limiter rate.Limiter
	Logger  *slog.Logger
}

// NewService constructs a Service with sane defaults.
func NewService(client gmail.Client, saver Saver, limiter rate.Limiter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Service{Client: client, Store: saver, Limiter: limiter, Logger: logger}
}

// Fallbacks for messages missing the expected headers.
const (
	unknownSender    = "Unknown sender"
	unknownRecipient = "Unknown recipient"
	unknownSubject   = "Unknown subject"
)

var fallbackDate = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Run lists up to MaxEmails message IDs, fetches each message, and
// saves the batch in one store call.
func (s *Service) Run(ctx context.Context, spec Spec) error {
	maxEmails := spec.MaxEmails
	if maxEmails <= 0 {
		maxEmails = 100
	}
	pageSize := spec.PageSize
	if pageSize <= 0 || pageSize > 500 {
		pageSize = 500
	}

	ids, err := s.listIDs(ctx, spec.Query, maxEmails, pageSize)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		s.Logger.InfoContext(ctx, "no messages matched", "query", spec.Query)
		return nil
	}

	emails := make([]store.Email, 0, len(ids))
	for _, id := range ids {
		if err := s.wait(ctx, "rate limit get message"); err != nil {
			return err
		}
		msg, err := s.Client.GetMessage(ctx, id)
		if err != nil {
			return fmt.Errorf("get message %s: %w", id, err)
		}
		emails = append(emails, s.toEmail(ctx, msg))
		s.Logger.DebugContext(ctx, "fetched message", "id", string(id))
	}

	if err := s.Store.Save(ctx, emails); err != nil {
		return fmt.Errorf("save emails: %w", err)
	}
	s.Logger.InfoContext(ctx, "stored emails", "count", len(emails))
	return nil
}

func (s *Service) listIDs(ctx context.Context, query string, maxEmails, pageSize int) ([]gmail.MessageID, error) {
	var (
		all   []gmail.MessageID
		token string
	)
	for {
		if err := s.wait(ctx, "rate limit list"); err != nil {
			return nil, err
		}
		page, err := s.Client.List(ctx, gmail.Query{Raw: query}, token, pageSize)
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		all = append(all, page.IDs...)
		if page.NextPageToken == "" || len(all) >= maxEmails {
			break
		}
		token = page.NextPageToken
	}
	if len(all) > maxEmails {
		all = all[:maxEmails]
	}
	return all, nil
}

func (s *Service) toEmail(ctx context.Context, msg gmail.Message) store.Email {
	e := store.Email{
		ID:         string(msg.ID),
		Sender:     headerOr(msg.Headers, "From", unknownSender),
		Recipient:  headerOr(msg.Headers, "To", unknownRecipient),
		Subject:    headerOr(msg.Headers, "Subject", unknownSubject),
		Body:       msg.Body,
		ReceivedAt: fallbackDate,
	}
	if date, ok := header(msg.Headers, "Date"); ok {
		ts, err := mail.ParseDate(date)
		if err != nil {
			s.Logger.WarnContext(ctx, "unparseable date header", "id", string(msg.ID), "date", date, "error", err)
		} else {
			e.ReceivedAt = ts
		}
	}
	return e
}

func header(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

func headerOr(headers map[string]string, name, fallback string) string {
	if v, ok := header(headers, name); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
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
