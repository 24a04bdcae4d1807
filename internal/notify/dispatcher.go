package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/beacon/internal/alert"
	"github.com/linnemanlabs/beacon/internal/contact"
	"github.com/linnemanlabs/beacon/internal/user"
)

var tracer = otel.Tracer("github.com/linnemanlabs/beacon/internal/notify")

// errChannelDisabled marks attempts on a channel with no configured sender.
var errChannelDisabled = errors.New("channel not configured")

// ContactRecorder is the slice of contact.Store the dispatcher needs to
// track successful notifications.
type ContactRecorder interface {
	RecordAlert(ctx context.Context, id string, at time.Time) error
}

// Dispatcher fans an alert out to a contact set. Delivery is best-effort:
// every failure is captured in an outcome, none is propagated.
type Dispatcher struct {
	sms      SMSSender
	email    EmailSender
	push     PushSender
	contacts ContactRecorder
	logger   log.Logger
	hooks    Hooks
	now      func() time.Time
}

// NewDispatcher creates a dispatcher. Senders may be nil when a channel is
// not deployed; attempts on a nil sender record a failed outcome.
func NewDispatcher(sms SMSSender, email EmailSender, push PushSender, contacts ContactRecorder, logger log.Logger, hooks Hooks) *Dispatcher {
	if logger == nil {
		logger = log.Nop()
	}
	return &Dispatcher{
		sms:      sms,
		email:    email,
		push:     push,
		contacts: contacts,
		logger:   logger,
		hooks:    hooks,
		now:      time.Now,
	}
}

// Dispatch attempts every enabled channel for every contact, concurrently
// and without ordering, and returns the full outcome set once all attempts
// have settled. It never returns an error: an activation where every
// channel failed still succeeds, with the failures visible in the
// outcomes.
func (d *Dispatcher) Dispatch(ctx context.Context, u *user.User, al *alert.Alert, contacts []*contact.Contact) []alert.Outcome {
	ctx, span := tracer.Start(ctx, "notify.dispatch", trace.WithAttributes(
		attribute.String("alert.id", al.ID),
		attribute.Int("contacts", len(contacts)),
	))
	defer span.End()

	start := d.now()

	perContact := make([][]alert.Outcome, len(contacts))
	var wg sync.WaitGroup
	for i, c := range contacts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			perContact[i] = d.notifyContact(ctx, u, al, c)
		}()
	}
	wg.Wait()

	var outcomes []alert.Outcome
	for _, part := range perContact {
		outcomes = append(outcomes, part...)
	}

	span.SetAttributes(attribute.Int("outcomes", len(outcomes)))

	duration := d.now().Sub(start).Seconds()
	if d.hooks.OnDispatch != nil {
		d.hooks.OnDispatch(len(contacts), len(outcomes), duration)
	}
	d.logger.Info(ctx, "dispatch complete",
		"alert_id", al.ID,
		"contacts", len(contacts),
		"outcomes", len(outcomes),
		"duration", duration,
	)
	return outcomes
}

// notifyContact runs the enabled channels for one contact. Each channel is
// attempted regardless of how the previous one fared.
func (d *Dispatcher) notifyContact(ctx context.Context, u *user.User, al *alert.Alert, c *contact.Contact) []alert.Outcome {
	var outcomes []alert.Outcome

	if c.Prefs.SMS {
		out := d.attempt(ctx, c, alert.ChannelSMS, func() error {
			if d.sms == nil {
				return errChannelDisabled
			}
			return d.sms.SendSMS(ctx, c.Phone, AlertSMS(u, al))
		})
		if out.Status == alert.DeliverySent {
			if err := d.contacts.RecordAlert(ctx, c.ID, out.AttemptedAt); err != nil {
				d.logger.Warn(ctx, "record alert on contact failed",
					"contact_id", c.ID, "error", err)
			}
		}
		outcomes = append(outcomes, out)
	}

	if c.Prefs.Email && c.Email != "" {
		outcomes = append(outcomes, d.attempt(ctx, c, alert.ChannelEmail, func() error {
			if d.email == nil {
				return errChannelDisabled
			}
			return d.email.SendEmail(ctx, c.Email, AlertEmailSubject(u, al), AlertEmailHTML(u, al))
		}))
	}

	if c.Prefs.Push {
		outcomes = append(outcomes, d.attempt(ctx, c, alert.ChannelPush, func() error {
			if d.push == nil {
				return errChannelDisabled
			}
			return d.push.SendPush(ctx, c.Phone, AlertPush(u, al))
		}))
	}

	return outcomes
}

// attempt runs one channel send and converts the result to an outcome.
func (d *Dispatcher) attempt(ctx context.Context, c *contact.Contact, ch alert.Channel, send func() error) alert.Outcome {
	ctx, span := tracer.Start(ctx, "notify.send", trace.WithAttributes(
		attribute.String("channel", string(ch)),
		attribute.String("contact.id", c.ID),
	))
	defer span.End()

	out := alert.Outcome{
		ContactID:   c.ID,
		ContactName: c.Name,
		Channel:     ch,
		Status:      alert.DeliverySent,
		AttemptedAt: d.now(),
	}
	if err := send(); err != nil {
		out.Status = alert.DeliveryFailed
		out.Error = err.Error()
		span.SetStatus(codes.Error, err.Error())
		d.logger.Warn(ctx, "channel delivery failed",
			"channel", string(ch), "contact_id", c.ID, "error", err)
	}
	span.SetAttributes(attribute.String("status", string(out.Status)))
	if d.hooks.OnAttempt != nil {
		d.hooks.OnAttempt(string(ch), string(out.Status))
	}
	return out
}

// SendResolutionSMS sends the best-effort all-clear notice over SMS to each
// contact with the SMS preference enabled. Failures are logged only.
func (d *Dispatcher) SendResolutionSMS(ctx context.Context, u *user.User, al *alert.Alert, contacts []*contact.Contact) {
	body := ResolutionSMS(u, al)
	for _, c := range contacts {
		if !c.Prefs.SMS {
			continue
		}
		if d.sms == nil {
			return
		}
		if err := d.sms.SendSMS(ctx, c.Phone, body); err != nil {
			d.logger.Warn(ctx, "resolution notice failed",
				"contact_id", c.ID, "error", err)
		}
	}
}
