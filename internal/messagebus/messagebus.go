// Package messagebus writes typed notifications to recipient inboxes and
// indexes them in the task store, per section 4.6.
package messagebus

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/swarmguard/lifecycle-engine/internal/atomicfs"
	"github.com/swarmguard/lifecycle-engine/internal/auditlog"
	"github.com/swarmguard/lifecycle-engine/internal/model"
	"github.com/swarmguard/lifecycle-engine/internal/natsbus"
	"github.com/swarmguard/lifecycle-engine/internal/orgdirectory"
	"github.com/swarmguard/lifecycle-engine/internal/pathresolver"
	"github.com/swarmguard/lifecycle-engine/internal/taskstore"
)

// Bus composes the task store, path resolver, org directory, audit log,
// and best-effort NATS fan-out into the single send() operation.
type Bus struct {
	store     *taskstore.Store
	resolver  *pathresolver.Resolver
	directory orgdirectory.Directory
	audit     *auditlog.Log
	publisher *natsbus.Publisher
	prefs     *preferenceCache
	log       *slog.Logger
}

func New(store *taskstore.Store, resolver *pathresolver.Resolver, directory orgdirectory.Directory, audit *auditlog.Log, publisher *natsbus.Publisher, log *slog.Logger) *Bus {
	return &Bus{
		store:     store,
		resolver:  resolver,
		directory: directory,
		audit:     audit,
		publisher: publisher,
		prefs:     newPreferenceCache(30 * time.Second),
		log:       log,
	}
}

func (b *Bus) Close() {
	b.prefs.close()
}

// InvalidatePreferences drops a cached preference entry after an explicit
// update, per the design note's cache-invalidation contract.
func (b *Bus) InvalidatePreferences(agentID string) {
	b.prefs.invalidate(agentID)
}

func (b *Bus) preferencesFor(ctx context.Context, agentID string) model.CommunicationPreferences {
	if cached, ok := b.prefs.get(agentID); ok {
		return cached
	}
	agent, err := b.directory.GetAgent(ctx, agentID)
	prefs := model.DefaultCommunicationPreferences()
	if err == nil {
		prefs = agent.CommunicationPreferences
	}
	b.prefs.put(agentID, prefs)
	return prefs
}

// Send executes the five steps of section 4.6 as a best-effort pipeline:
// generate an id, render the body, write it atomically into the
// recipient's inbox, insert the indexed row, and audit-log the outcome.
// Send never fails the caller's lifecycle operation; on error it still
// returns the error so the caller can log it, but the caller is expected
// to swallow it per section 7's notification-failure policy.
func (b *Bus) Send(ctx context.Context, in SendInput) (string, error) {
	msgID := uuid.NewString()
	now := time.Now().UTC()
	body := renderBody(in, now)

	bodyPath := b.resolver.InboxMessagePath(in.ToAgent, msgID, false)
	if err := atomicfs.WriteAtomic(bodyPath, body); err != nil {
		b.recordAudit(in, msgID, "failure", err.Error())
		return "", err
	}

	msg := &model.Message{
		ID:             msgID,
		FromAgent:      in.FromAgent,
		ToAgent:        in.ToAgent,
		Timestamp:      now,
		Priority:       in.Priority,
		Channel:        in.Channel,
		Read:           false,
		ActionRequired: in.ActionRequired,
		Subject:        in.Subject,
		ThreadID:       in.ThreadID,
		BodyPath:       bodyPath,
	}
	if msg.Channel == "" {
		msg.Channel = "internal"
	}

	if err := b.store.InsertMessage(ctx, msg); err != nil {
		b.recordAudit(in, msgID, "failure", err.Error())
		return "", err
	}

	b.recordAudit(in, msgID, "success", "")
	b.publisher.Publish(ctx, natsbus.Subject(in.ToAgent), body)
	return msgID, nil
}

func (b *Bus) recordAudit(in SendInput, msgID, outcome, details string) {
	if b.audit == nil {
		return
	}
	if _, err := b.audit.Append(in.FromAgent, "send_message", msgID, outcome, details); err != nil && b.log != nil {
		b.log.Warn("audit log append failed", "error", err)
	}
}

// SendIfAllowed checks the recipient's preference for the given event
// class unless force is true, and only then calls Send. It reports
// whether a message was actually sent.
func (b *Bus) SendIfAllowed(ctx context.Context, in SendInput, force bool, allowed func(model.CommunicationPreferences) bool) (string, bool, error) {
	if !force {
		prefs := b.preferencesFor(ctx, in.ToAgent)
		if !allowed(prefs) {
			return "", false, nil
		}
	}
	id, err := b.Send(ctx, in)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// MarkRead flips a message's read flag.
func (b *Bus) MarkRead(ctx context.Context, msgID string) error {
	return b.store.MarkRead(ctx, msgID)
}
