package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/go-playground/validator/v10"

	"consult-platform/internal/consult"
	"consult-platform/internal/events"
	"consult-platform/internal/messaging"
	"consult-platform/internal/participant"
	"consult-platform/pkg/logger"
)

// Broker is the request surface the dispatcher drives.
type Broker interface {
	CreateRequest(ctx context.Context, requesterID, providerID string, modality participant.Modality) (consult.Request, error)
	Respond(ctx context.Context, requestID, providerID string, action consult.Action) (consult.RespondResult, error)
}

type Meter interface {
	End(ctx context.Context, sessionID, callerID string, callerKind participant.Kind) (consult.Transaction, error)
}

type Messenger interface {
	Send(ctx context.Context, in messaging.SendInput) (messaging.View, error)
	Edit(ctx context.Context, messageID string, caller messaging.Party, body string) (messaging.Message, error)
	Delete(ctx context.Context, messageID string, caller messaging.Party, forEveryone bool) (messaging.Message, error)
	MarkRead(ctx context.Context, reader messaging.Party, senderID string) (int, error)
}

// Identity is the verified identity a connection was opened with.
type Identity struct {
	Kind participant.Kind
	ID   string
}

// Reply sends an event back to the originating connection.
type Reply func(ev events.Event)

type handlerFunc func(ctx context.Context, who Identity, raw json.RawMessage) error

// Dispatcher routes inbound events to the core. Every failure, panics included,
// becomes an error event on the originating connection.
type Dispatcher struct {
	broker   Broker
	meter    Meter
	messages Messenger
	validate *validator.Validate
	log      *slog.Logger

	handlers map[string]handlerFunc
}

func NewDispatcher(broker Broker, meter Meter, messages Messenger, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		broker:   broker,
		meter:    meter,
		messages: messages,
		validate: validator.New(),
		log:      log.With("component", "realtime"),
	}
	d.handlers = map[string]handlerFunc{
		events.RequestCreate:  d.createRequest,
		events.RequestRespond: d.respond,
		events.SessionEnd:     d.endSession,
		events.ChatEnd:        d.endSession,
		events.VoiceEnd:       d.endSession,
		events.VideoEnd:       d.endSession,
		events.MessageSend:    d.sendMessage,
		events.MessageEdit:    d.editMessage,
		events.MessageDelete:  d.deleteMessage,
		events.MessageRead:    d.markRead,
	}
	return d
}

// Dispatch handles one inbound event. It never panics.
func (d *Dispatcher) Dispatch(ctx context.Context, who Identity, in events.Inbound, reply Reply) {
	defer func() {
		if r := recover(); r != nil {
			logger.From(ctx).Error("handler panic", "event", in.Type, "panic", r, "stack", string(debug.Stack()))
			reply(errorEvent(in.Type, errors.New("internal error")))
		}
	}()

	if in.Type == events.Ping {
		reply(events.Event{Type: events.Pong, Payload: struct{}{}})
		return
	}

	h, ok := d.handlers[in.Type]
	if !ok {
		reply(errorEvent(in.Type, fmt.Errorf("%w: unknown event %q", consult.ErrValidation, in.Type)))
		return
	}
	if err := h(ctx, who, in.Payload); err != nil {
		l := logger.From(ctx)
		if consult.Code(err) == "internal" {
			l.Error("event failed", "event", in.Type, "err", err)
		} else {
			l.Debug("event rejected", "event", in.Type, "err", err)
		}
		reply(errorEvent(in.Type, err))
	}
}

func errorEvent(inType string, err error) events.Event {
	msg := err.Error()
	code := consult.Code(err)
	if code == "internal" {
		msg = "internal error"
	}
	return events.Event{Type: events.Error, Payload: events.ErrorPayload{Code: code, Message: msg, Event: inType}}
}

// decode unmarshals raw into dst and runs struct validation.
func (d *Dispatcher) decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: malformed payload", consult.ErrValidation)
	}
	if err := d.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %s", consult.ErrValidation, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", consult.ErrValidation, err)
	}
	return nil
}

func requireKind(who Identity, kind participant.Kind, event string) error {
	if who.Kind != kind {
		return fmt.Errorf("%w: only a %s may send %s", consult.ErrForbidden, kind, event)
	}
	return nil
}

type createRequestPayload struct {
	ProviderID string `json:"provider_id" validate:"required"`
	Modality   string `json:"modality" validate:"required,oneof=chat voice video"`
}

func (d *Dispatcher) createRequest(ctx context.Context, who Identity, raw json.RawMessage) error {
	if err := requireKind(who, participant.KindRequester, events.RequestCreate); err != nil {
		return err
	}
	var p createRequestPayload
	if err := d.decode(raw, &p); err != nil {
		return err
	}
	_, err := d.broker.CreateRequest(ctx, who.ID, p.ProviderID, participant.Modality(p.Modality))
	return err
}

type respondPayload struct {
	RequestID string `json:"request_id" validate:"required"`
	Action    string `json:"action" validate:"required,oneof=accept reject"`
}

func (d *Dispatcher) respond(ctx context.Context, who Identity, raw json.RawMessage) error {
	if err := requireKind(who, participant.KindProvider, events.RequestRespond); err != nil {
		return err
	}
	var p respondPayload
	if err := d.decode(raw, &p); err != nil {
		return err
	}
	_, err := d.broker.Respond(ctx, p.RequestID, who.ID, consult.Action(p.Action))
	return err
}

type endPayload struct {
	SessionID string `json:"session_id" validate:"required"`
}

func (d *Dispatcher) endSession(ctx context.Context, who Identity, raw json.RawMessage) error {
	var p endPayload
	if err := d.decode(raw, &p); err != nil {
		return err
	}
	_, err := d.meter.End(ctx, p.SessionID, who.ID, who.Kind)
	return err
}

type sendPayload struct {
	SessionID   string `json:"session_id" validate:"required"`
	RecipientID string `json:"recipient_id"`
	Body        string `json:"body" validate:"required"`
}

func (d *Dispatcher) sendMessage(ctx context.Context, who Identity, raw json.RawMessage) error {
	var p sendPayload
	if err := d.decode(raw, &p); err != nil {
		return err
	}
	_, err := d.messages.Send(ctx, messaging.SendInput{
		SessionID:   p.SessionID,
		Sender:      messaging.Party{Kind: who.Kind, ID: who.ID},
		RecipientID: p.RecipientID,
		Body:        p.Body,
	})
	return err
}

type editPayload struct {
	MessageID string `json:"message_id" validate:"required"`
	Body      string `json:"body" validate:"required"`
}

func (d *Dispatcher) editMessage(ctx context.Context, who Identity, raw json.RawMessage) error {
	var p editPayload
	if err := d.decode(raw, &p); err != nil {
		return err
	}
	_, err := d.messages.Edit(ctx, p.MessageID, messaging.Party{Kind: who.Kind, ID: who.ID}, p.Body)
	return err
}

type deletePayload struct {
	MessageID   string `json:"message_id" validate:"required"`
	ForEveryone bool   `json:"for_everyone"`
}

func (d *Dispatcher) deleteMessage(ctx context.Context, who Identity, raw json.RawMessage) error {
	var p deletePayload
	if err := d.decode(raw, &p); err != nil {
		return err
	}
	_, err := d.messages.Delete(ctx, p.MessageID, messaging.Party{Kind: who.Kind, ID: who.ID}, p.ForEveryone)
	return err
}

type readPayload struct {
	SenderID string `json:"sender_id" validate:"required"`
}

func (d *Dispatcher) markRead(ctx context.Context, who Identity, raw json.RawMessage) error {
	var p readPayload
	if err := d.decode(raw, &p); err != nil {
		return err
	}
	_, err := d.messages.MarkRead(ctx, messaging.Party{Kind: who.Kind, ID: who.ID}, p.SenderID)
	return err
}
