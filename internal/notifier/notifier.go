// Package notifier fans collection events out to the log, the state store and
// an optional mail provider.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"github.com/rs/zerolog"

	"github.com/ibeckermayer/xhscollect/internal/config"
	"github.com/ibeckermayer/xhscollect/internal/digest"
	"github.com/ibeckermayer/xhscollect/internal/export"
	"github.com/ibeckermayer/xhscollect/internal/notifier/providers"
	"github.com/ibeckermayer/xhscollect/internal/types"
)

// Kind names an event.
type Kind string

const (
	KindComplete Kind = "collectionComplete"
	KindError    Kind = "collectionError"
	KindProgress Kind = "updateProgress"
)

// Event is one message from a collection session.
type Event struct {
	Kind      Kind
	SessionID string
	Page      types.PageMeta
	Time      time.Time

	// Count and Expected are set on every kind; Expected is 0 when unknown.
	Count    int
	Expected int

	// Comments and Report are set on KindComplete.
	Comments []types.Comment
	Report   *export.Report

	// Message is set on KindError.
	Message string
}

// Sink receives events.
type Sink interface {
	Notify(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Notifier delivers every event to each of its sinks
type Notifier struct {
	sinks []Sink
	log   zerolog.Logger
}

// New creates a notifier with the given sinks
func New(log zerolog.Logger, sinks ...Sink) *Notifier {
	return &Notifier{sinks: sinks, log: log}
}

// Add appends a sink.
func (n *Notifier) Add(s Sink) {
	n.sinks = append(n.sinks, s)
}

// Notify delivers ev to all sinks. A failing sink does not stop delivery to
// the others; their errors are joined.
func (n *Notifier) Notify(ctx context.Context, ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	var errs []error
	for _, s := range n.sinks {
		if err := s.Notify(ctx, ev); err != nil {
			n.log.Warn().Err(err).Str("event", string(ev.Kind)).Msg("sink failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes events to a logger.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Notify(_ context.Context, ev Event) error {
	switch ev.Kind {
	case KindProgress:
		s.Log.Debug().Str("session", ev.SessionID).Int("count", ev.Count).Int("expected", ev.Expected).Msg("progress")
	case KindComplete:
		e := s.Log.Info().Str("session", ev.SessionID).Int("comments", len(ev.Comments)).Str("url", ev.Page.URL)
		if ev.Report != nil {
			e = e.Str("status", ev.Report.Status).Int("rate", ev.Report.CompletionRate)
		}
		e.Msg("collection complete")
	case KindError:
		s.Log.Error().Str("session", ev.SessionID).Str("url", ev.Page.URL).Msg(ev.Message)
	}
	return nil
}

// Recorder persists the outcome of a collection.
type Recorder interface {
	SaveComments(ctx context.Context, comments []types.Comment) error
}

// StoreSink keeps the last completed record list.
type StoreSink struct {
	Store Recorder
}

func (s StoreSink) Notify(ctx context.Context, ev Event) error {
	if ev.Kind != KindComplete {
		return nil
	}
	if err := s.Store.SaveComments(ctx, ev.Comments); err != nil {
		return fmt.Errorf("failed to save comments: %w", err)
	}
	return nil
}

// Sender defines the interface for email sending
type Sender interface {
	Send(to, subject, htmlBody, plainBody string) error
}

// MailSink mails a summary of completed collections and a short note on
// failures.
type MailSink struct {
	sender  Sender
	to      string
	builder *digest.Builder
}

// NewMailSink creates a mail sink with the given sender
func NewMailSink(sender Sender, to string, builder *digest.Builder) *MailSink {
	return &MailSink{sender: sender, to: to, builder: builder}
}

// NewMailSinkFromConfig creates a mail sink based on configuration. It
// returns nil when mail is disabled.
func NewMailSinkFromConfig(cfg config.EmailConfig) (*MailSink, error) {
	var sender Sender

	switch cfg.Provider {
	case "":
		return nil, nil
	case "smtp":
		sender = providers.NewSMTPSender(
			cfg.SMTPHost,
			cfg.SMTPPort,
			cfg.SMTPUser,
			cfg.SMTPPass,
			cfg.FromAddr,
		)
	default:
		return nil, fmt.Errorf("unknown email provider: %s", cfg.Provider)
	}

	if cfg.ToAddr == "" {
		return nil, errors.New("email.to_addr is required when a provider is set")
	}

	builder, err := digest.New(10)
	if err != nil {
		return nil, err
	}
	return NewMailSink(sender, cfg.ToAddr, builder), nil
}

func (s *MailSink) Notify(_ context.Context, ev Event) error {
	switch ev.Kind {
	case KindComplete:
		if ev.Report == nil || ev.Report.CollectedComments == 0 {
			return nil
		}
		d, err := s.builder.Build(*ev.Report)
		if err != nil {
			return err
		}
		return s.sender.Send(s.to, d.Subject, d.HTMLBody, d.PlainBody)
	case KindError:
		subject := "评论采集失败"
		body := fmt.Sprintf("%s\n\n%s", ev.Page.URL, ev.Message)
		return s.sender.Send(s.to, subject, "<pre>"+html.EscapeString(body)+"</pre>", body)
	}
	return nil
}
