package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloudsql-report-agent/internal/report"
)

const (
	ChannelEmail = "email"
	ChannelChat  = "chat"

	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

var ErrNotConfigured = errors.New("channel not configured")

type Report struct {
	Email report.Email
	Card  report.Message
}

type Result struct {
	EmailOK     bool  `json:"email_ok"`
	ChatOK      bool  `json:"chat_ok"`
	ChatSkipped bool  `json:"chat_skipped"`
	EmailErr    error `json:"-"`
	ChatErr     error `json:"-"`
}

type Observer interface {
	Dispatched(channel, outcome string)
}

// Dispatcher delivers one report to email and then chat. Each channel is attempted
// regardless of how the other one fared.
type Dispatcher struct {
	mailer   Mailer
	chat     Poster
	logger   *slog.Logger
	observer Observer
}

// NewDispatcher accepts a nil chat poster, which turns the chat channel into a silent skip.
func NewDispatcher(mailer Mailer, chat Poster, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{mailer: mailer, chat: chat, logger: logger}
}

func (d *Dispatcher) WithObserver(o Observer) *Dispatcher {
	d.observer = o
	return d
}

func (d *Dispatcher) Dispatch(ctx context.Context, r Report) Result {
	var res Result

	if d.mailer == nil {
		res.EmailErr = fmt.Errorf("email: %w", ErrNotConfigured)
	} else {
		res.EmailErr = guard(func() error { return d.mailer.Send(ctx, r.Email) })
	}
	res.EmailOK = res.EmailErr == nil
	if res.EmailOK {
		d.logger.Info("email report sent", "subject", r.Email.Subject)
		d.observe(ChannelEmail, OutcomeOK)
	} else {
		d.logger.Error("email report failed", "error", res.EmailErr)
		d.observe(ChannelEmail, OutcomeFailed)
	}

	if d.chat == nil {
		res.ChatSkipped = true
		d.logger.Debug("chat webhook not configured, skipping")
		d.observe(ChannelChat, OutcomeSkipped)
		return res
	}
	res.ChatErr = guard(func() error { return d.chat.Post(ctx, r.Card) })
	res.ChatOK = res.ChatErr == nil
	if res.ChatOK {
		d.logger.Info("chat report sent")
		d.observe(ChannelChat, OutcomeOK)
	} else {
		d.logger.Error("chat report failed", "error", res.ChatErr)
		d.observe(ChannelChat, OutcomeFailed)
	}
	return res
}

func (d *Dispatcher) observe(channel, outcome string) {
	if d.observer != nil {
		d.observer.Dispatched(channel, outcome)
	}
}

// guard turns a panicking sender into an error so the next channel still runs.
func guard(send func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	return send()
}
