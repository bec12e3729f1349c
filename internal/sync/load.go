package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/convsync/internal/bus"
	"github.com/matheus3301/convsync/internal/cache"
	"github.com/matheus3301/convsync/internal/chat"
	"go.mau.fi/util/ptr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// LoadConversation makes the conversation available in the cache. A fresh
// cached bundle is only touched; a stale or missing one is refetched. The
// room is joined either way. Fetch errors are recorded on the bundle and
// returned; previously cached data is kept.
func (c *Coordinator) LoadConversation(ctx context.Context, account, conversation string) error {
	c.setOpen(account, conversation, true)

	b, ok := c.cache.Get(account, conversation)
	if ok && !c.isStale(b) {
		c.cache.Touch(account, conversation)
		c.join(ctx, account, conversation)
		return nil
	}
	return c.fetch(ctx, account, conversation)
}

// RefreshMessages refetches the conversation regardless of staleness.
func (c *Coordinator) RefreshMessages(ctx context.Context, account, conversation string) error {
	return c.fetch(ctx, account, conversation)
}

func (c *Coordinator) isStale(b *cache.Bundle) bool {
	return b.Conversation == nil || c.now().Sub(b.LastAccessed) > c.staleWindow
}

func (c *Coordinator) nextSeq(account, conversation string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stateLocked(account)
	st.issued[conversation]++
	return st.issued[conversation]
}

// claimLocked records seq as applied unless a newer response already landed.
func (c *Coordinator) claimLocked(account, conversation string, seq uint64) bool {
	st := c.stateLocked(account)
	if seq <= st.applied[conversation] {
		return false
	}
	st.applied[conversation] = seq
	return true
}

// outstandingLocked reports whether a request newer than seq is still in
// flight, in which case the bundle stays loading.
func (c *Coordinator) outstandingLocked(account, conversation string, seq uint64) bool {
	return c.stateLocked(account).issued[conversation] > seq
}

func (c *Coordinator) fetch(ctx context.Context, account, conversation string) error {
	log := c.logger.With(zap.String("account", account), zap.String("conversation", conversation))
	seq := c.nextSeq(account, conversation)

	c.cache.Put(account, conversation, cache.Partial{Loading: ptr.Ptr(true), Err: ptr.Ptr("")})
	c.publishBundle(account, conversation)

	var (
		meta *chat.ConversationSummary
		msgs []chat.Message
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := c.api.GetConversation(gctx, account, conversation)
		if err != nil {
			return fmt.Errorf("fetch conversation: %w", err)
		}
		if m == nil {
			return errors.New("fetch conversation: empty response")
		}
		meta = m
		return nil
	})
	g.Go(func() error {
		m, err := c.api.GetMessages(gctx, account, conversation)
		if err != nil {
			return fmt.Errorf("fetch messages: %w", err)
		}
		msgs = m
		return nil
	})
	if err := g.Wait(); err != nil {
		c.fail(account, conversation, seq, err)
		return err
	}

	var profiles map[string]chat.ParticipantProfile
	resp, err := c.api.GetParticipants(ctx, account, conversation, meta.Kind)
	if err != nil {
		log.Warn("fetch participants failed, keeping previous", zap.Error(err))
	} else {
		profiles = resp.Profiles(c.SelfID(account))
	}

	if !c.apply(account, conversation, seq, meta, msgs, profiles) {
		log.Debug("discarding out-of-order response", zap.Uint64("seq", seq))
		return nil
	}

	c.upsertSummary(account, meta)
	c.join(ctx, account, conversation)

	if len(msgs) > 0 {
		if err := c.api.MarkAsRead(ctx, account, conversation); err != nil {
			log.Warn("mark as read failed", zap.Error(err))
		}
		c.ledger.SetConversationUnread(account, conversation, 0)
		c.publishUnread(account)
	}
	return nil
}

func (c *Coordinator) apply(account, conversation string, seq uint64, meta *chat.ConversationSummary, msgs []chat.Message, profiles map[string]chat.ParticipantProfile) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.claimLocked(account, conversation, seq) {
		return false
	}
	loading := c.outstandingLocked(account, conversation, seq)

	merge := func(b *cache.Bundle) bool {
		if b.Conversation != nil && b.Conversation.LastMessage != nil {
			meta.ApplyLastMessage(chat.Message{
				Content:   b.Conversation.LastMessage.Content,
				SenderID:  b.Conversation.LastMessage.SenderID,
				Timestamp: b.Conversation.LastMessage.Timestamp,
			})
		}
		b.Conversation = meta.Clone()
		b.Messages = mergeSnapshot(b.Messages, msgs, c.matchTolerance)
		if profiles != nil {
			b.Participants = profiles
		}
		b.Loading = loading
		b.Err = ""
		return true
	}
	if !c.cache.Update(account, conversation, merge) {
		fresh := &cache.Bundle{}
		merge(fresh)
		c.cache.Put(account, conversation, cache.Partial{
			Conversation: fresh.Conversation,
			Messages:     &fresh.Messages,
			Participants: fresh.Participants,
			Loading:      ptr.Ptr(loading),
			Err:          ptr.Ptr(""),
		})
	}
	c.publishBundle(account, conversation)
	return true
}

func (c *Coordinator) fail(account, conversation string, seq uint64, err error) {
	c.mu.Lock()
	claimed := c.claimLocked(account, conversation, seq)
	if claimed {
		loading := c.outstandingLocked(account, conversation, seq)
		c.cache.Put(account, conversation, cache.Partial{Loading: ptr.Ptr(loading), Err: ptr.Ptr(err.Error())})
	}
	c.mu.Unlock()

	if !claimed {
		c.logger.Debug("discarding out-of-order failure",
			zap.String("account", account),
			zap.String("conversation", conversation),
			zap.Error(err),
		)
		return
	}
	c.logger.Warn("load conversation failed",
		zap.String("account", account),
		zap.String("conversation", conversation),
		zap.Error(err),
	)
	c.publishBundle(account, conversation)
}

func (c *Coordinator) publishBundle(account, conversation string) {
	c.bus.Emit(bus.KindBundleUpdated, account, BundleChange{ConversationID: conversation})
}

func (c *Coordinator) publishUnread(account string) {
	c.bus.Emit(bus.KindUnreadUpdated, account, UnreadSnapshot{
		Counts: c.ledger.UnreadCounts(account),
		Total:  c.ledger.TotalUnread(account),
	})
}
