package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"consult-platform/internal/consult"
	"consult-platform/internal/events"
	"consult-platform/internal/participant"
)

// SessionReader is the slice of the consult store messaging needs.
type SessionReader interface {
	GetSession(ctx context.Context, id string) (consult.Session, error)
	FindActiveSessionBetween(ctx context.Context, requesterID, providerID string) (consult.Session, bool, error)
}

type Service struct {
	store        Store
	sessions     SessionReader
	participants participant.Repository
	notifier     consult.Notifier
	clock        func() time.Time
	log          *slog.Logger
}

func NewService(store Store, sessions SessionReader, participants participant.Repository, notifier consult.Notifier, clock func() time.Time, log *slog.Logger) *Service {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, sessions: sessions, participants: participants, notifier: notifier, clock: clock, log: log}
}

type SendInput struct {
	SessionID   string
	Sender      Party
	RecipientID string
	Body        string
}

// Send persists a message inside an active session and returns the view shown
// to both sides. An empty RecipientID addresses the sender's counterpart.
func (s *Service) Send(ctx context.Context, in SendInput) (View, error) {
	body, err := cleanBody(in.Body)
	if err != nil {
		return View{}, err
	}
	if in.SessionID == "" || in.Sender.ID == "" || !in.Sender.Kind.Valid() {
		return View{}, fmt.Errorf("%w: session_id and sender are required", consult.ErrValidation)
	}

	sess, err := s.activeSession(ctx, in.SessionID)
	if err != nil {
		return View{}, err
	}
	if !sess.HasParty(in.Sender.Kind, in.Sender.ID) {
		return View{}, fmt.Errorf("%w: sender is not part of this session", consult.ErrForbidden)
	}
	recipient := Party{Kind: in.Sender.Kind.Counterpart(), ID: in.RecipientID}
	if recipient.ID == "" {
		recipient.ID = sess.PartyID(recipient.Kind)
	}
	if !sess.HasParty(recipient.Kind, recipient.ID) {
		return View{}, fmt.Errorf("%w: recipient is not part of this session", consult.ErrForbidden)
	}

	sender, rcpt, err := s.resolve(ctx, in.Sender, recipient)
	if err != nil {
		return View{}, err
	}

	now := s.clock().UTC()
	m := Message{
		ID:            uuid.NewString(),
		SessionID:     sess.ID,
		SenderID:      sender.ID,
		SenderKind:    sender.Kind,
		RecipientID:   rcpt.ID,
		RecipientKind: rcpt.Kind,
		Body:          body,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Create(ctx, m); err != nil {
		return View{}, fmt.Errorf("create message: %w", err)
	}

	v := View{Message: m, Sender: sender, Recipient: rcpt}
	s.notifier.Notify(rcpt.Kind, rcpt.ID, events.Event{Type: events.MessageNew, Payload: v})
	s.notifier.Notify(sender.Kind, sender.ID, events.Event{Type: events.MessageSent, Payload: v})
	return v, nil
}

// Edit replaces the body of a message the caller sent within EditWindow.
func (s *Service) Edit(ctx context.Context, messageID string, caller Party, body string) (Message, error) {
	body, err := cleanBody(body)
	if err != nil {
		return Message{}, err
	}
	m, err := s.get(ctx, messageID)
	if err != nil {
		return Message{}, err
	}
	if !m.sentBy(caller.Kind, caller.ID) {
		return Message{}, fmt.Errorf("%w: only the sender may edit a message", consult.ErrForbidden)
	}
	if m.DeletedForEveryone {
		return Message{}, fmt.Errorf("%w: message was deleted", consult.ErrConflict)
	}
	if _, err := s.activeSession(ctx, m.SessionID); err != nil {
		return Message{}, err
	}
	now := s.clock().UTC()
	if now.Sub(m.CreatedAt) > EditWindow {
		return Message{}, fmt.Errorf("%w: messages can only be edited within %s", consult.ErrExpired, EditWindow)
	}

	updated, err := s.store.UpdateBody(ctx, m.ID, body, now)
	if err != nil {
		return Message{}, fmt.Errorf("update message: %w", err)
	}
	ev := events.Event{Type: events.MessageUpdated, Payload: updated}
	s.notifier.Notify(updated.RecipientKind, updated.RecipientID, ev)
	s.notifier.Notify(updated.SenderKind, updated.SenderID, ev)
	return updated, nil
}

// Delete hides a message. forEveryone is reserved to the sender; otherwise
// the caller hides it only from their own history.
func (s *Service) Delete(ctx context.Context, messageID string, caller Party, forEveryone bool) (Message, error) {
	m, err := s.get(ctx, messageID)
	if err != nil {
		return Message{}, err
	}

	var scope DeleteScope
	switch {
	case forEveryone && m.sentBy(caller.Kind, caller.ID):
		scope = DeleteForEveryone
	case forEveryone:
		return Message{}, fmt.Errorf("%w: only the sender may delete for everyone", consult.ErrForbidden)
	case m.sentBy(caller.Kind, caller.ID):
		scope = DeleteForSender
	case m.receivedBy(caller.Kind, caller.ID):
		scope = DeleteForRecipient
	default:
		return Message{}, fmt.Errorf("%w: caller is not part of this conversation", consult.ErrForbidden)
	}
	if _, err := s.activeSession(ctx, m.SessionID); err != nil {
		return Message{}, err
	}

	updated, err := s.store.MarkDeleted(ctx, m.ID, scope, s.clock().UTC())
	if err != nil {
		return Message{}, fmt.Errorf("delete message: %w", err)
	}
	ev := events.Event{Type: events.MessageDeleted, Payload: DeletedPayload{
		MessageID:   updated.ID,
		SessionID:   updated.SessionID,
		ForEveryone: scope == DeleteForEveryone,
	}}
	if scope == DeleteForEveryone {
		s.notifier.Notify(updated.RecipientKind, updated.RecipientID, ev)
	}
	s.notifier.Notify(caller.Kind, caller.ID, ev)
	return updated, nil
}

// MarkRead flips every unread message from senderID to reader. The reader must
// be in an active session with that sender.
func (s *Service) MarkRead(ctx context.Context, reader Party, senderID string) (int, error) {
	if reader.ID == "" || senderID == "" || !reader.Kind.Valid() {
		return 0, fmt.Errorf("%w: reader and sender_id are required", consult.ErrValidation)
	}
	sender := Party{Kind: reader.Kind.Counterpart(), ID: senderID}
	if _, _, err := s.resolve(ctx, sender, reader); err != nil {
		return 0, err
	}

	requesterID, providerID := reader.ID, sender.ID
	if reader.Kind == participant.KindProvider {
		requesterID, providerID = sender.ID, reader.ID
	}
	_, ok, err := s.sessions.FindActiveSessionBetween(ctx, requesterID, providerID)
	if err != nil {
		return 0, fmt.Errorf("find active session: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("%w: no active session with this sender", consult.ErrInvalidSession)
	}

	n, err := s.store.MarkRead(ctx, sender, reader, s.clock().UTC())
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	ev := events.Event{Type: events.MessagesRead, Payload: ReadPayload{SenderID: sender.ID, RecipientID: reader.ID, Count: n}}
	s.notifier.Notify(sender.Kind, sender.ID, ev)
	s.notifier.Notify(reader.Kind, reader.ID, ev)
	return n, nil
}

// List returns viewer's history for a session, active or ended.
func (s *Service) List(ctx context.Context, sessionID string, viewer Party) ([]Message, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if errors.Is(err, consult.ErrNotFound) {
		return nil, fmt.Errorf("%w: session", consult.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if !sess.HasParty(viewer.Kind, viewer.ID) {
		return nil, fmt.Errorf("%w: viewer is not part of this session", consult.ErrForbidden)
	}

	all, err := s.store.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]Message, 0, len(all))
	for _, m := range all {
		if m.VisibleTo(viewer.Kind, viewer.ID) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Service) activeSession(ctx context.Context, id string) (consult.Session, error) {
	sess, err := s.sessions.GetSession(ctx, id)
	if errors.Is(err, consult.ErrNotFound) {
		return consult.Session{}, fmt.Errorf("%w: session not found", consult.ErrInvalidSession)
	}
	if err != nil {
		return consult.Session{}, fmt.Errorf("get session: %w", err)
	}
	if sess.Status != consult.SessionStatusActive {
		return consult.Session{}, fmt.Errorf("%w: session is not active", consult.ErrInvalidSession)
	}
	return sess, nil
}

func (s *Service) get(ctx context.Context, id string) (Message, error) {
	if id == "" {
		return Message{}, fmt.Errorf("%w: message_id is required", consult.ErrValidation)
	}
	m, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrMessageNotFound) {
		return Message{}, fmt.Errorf("%w: message", consult.ErrNotFound)
	}
	if err != nil {
		return Message{}, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (s *Service) resolve(ctx context.Context, a, b Party) (participant.Summary, participant.Summary, error) {
	pa, err := s.participants.Get(ctx, a.Kind, a.ID)
	if err != nil {
		return participant.Summary{}, participant.Summary{}, fmt.Errorf("%w: %s %s", consult.ErrNotFound, a.Kind, a.ID)
	}
	pb, err := s.participants.Get(ctx, b.Kind, b.ID)
	if err != nil {
		return participant.Summary{}, participant.Summary{}, fmt.Errorf("%w: %s %s", consult.ErrNotFound, b.Kind, b.ID)
	}
	return pa.Summary(), pb.Summary(), nil
}

func cleanBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", fmt.Errorf("%w: body is required", consult.ErrValidation)
	}
	if utf8.RuneCountInString(body) > MaxBodyLen {
		return "", fmt.Errorf("%w: body exceeds %d characters", consult.ErrValidation, MaxBodyLen)
	}
	return body, nil
}
