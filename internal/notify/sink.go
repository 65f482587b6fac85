package notify

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/text/language"

	"github.com/coopledger/coopledger/internal/allocation"
)

// Notification is one row for the dispatcher to deliver.
type Notification struct {
	UserID    int64
	MemberID  int64
	PeriodID  int64
	Kind      string
	Title     string
	Body      string
	CreatedAt time.Time
}

// Repository persists notifications.
type Repository interface {
	Insert(ctx context.Context, n Notification) error
}

// Sink consumes committed events. Failures are logged and never returned.
type Sink struct {
	repo      Repository
	formatter *Formatter
	logger    *slog.Logger
	now       func() time.Time
}

// NewSink constructs a Sink rendering in English.
func NewSink(repo Repository, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{repo: repo, formatter: NewFormatter(language.English), logger: logger, now: time.Now}
}

// WithFormatter overrides the renderer.
func (s *Sink) WithFormatter(f *Formatter) {
	if f != nil {
		s.formatter = f
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Sink) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Publish writes one notification per renderable event.
func (s *Sink) Publish(ctx context.Context, events []allocation.Event) {
	if s == nil || s.repo == nil {
		return
	}
	now := s.now().UTC()
	for _, ev := range events {
		title, body, ok := s.formatter.Render(ev)
		if !ok {
			continue
		}
		if ev.UserID == 0 {
			s.logger.Warn("notification without user", slog.Int64("member_id", ev.MemberID), slog.String("kind", string(ev.Kind)))
			continue
		}
		n := Notification{
			UserID:    ev.UserID,
			MemberID:  ev.MemberID,
			PeriodID:  ev.PeriodID,
			Kind:      string(ev.Kind),
			Title:     title,
			Body:      body,
			CreatedAt: now,
		}
		if err := s.repo.Insert(ctx, n); err != nil {
			s.logger.Error("insert notification",
				slog.Int64("member_id", ev.MemberID),
				slog.Int64("period_id", ev.PeriodID),
				slog.String("kind", n.Kind),
				slog.Any("error", err),
			)
		}
	}
}
