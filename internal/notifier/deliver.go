package notifier

import (
	"context"
	"fmt"
	"strconv"

	"taskboard/internal/task"
	"taskboard/internal/transport"
	logx "taskboard/pkg/logx"
)

// Deliver sends text right away, waiting on the rate limiter and retrying
// until ctx ends. The engine uses it so delivery outcomes can be audited.
func (s *Service) Deliver(ctx context.Context, kind string, to transport.ChatTarget, text string) (transport.MessageRef, error) {
	return s.deliver(ctx, kind, to, text)
}

// Direct messages the notice's actor in a private chat.
func (s *Service) Direct(ctx context.Context, n task.Notice) error {
	chatID, err := parseChatID(n.ActorID)
	if err != nil {
		return fmt.Errorf("direct %s: %w", n.Kind, err)
	}
	_, err = s.deliver(ctx, string(n.Kind), transport.ChatTarget{ChatID: chatID}, Render(n))
	return err
}

// Broadcast posts the notice to its channel and arms the deletion of the
// message after the configured TTL.
func (s *Service) Broadcast(ctx context.Context, n task.Notice) error {
	dest := n.ChannelID
	if dest == "" {
		dest = n.GuildID
	}
	chatID, err := parseChatID(dest)
	if err != nil {
		return fmt.Errorf("broadcast %s: %w", n.Kind, err)
	}
	ref, err := s.deliver(ctx, string(n.Kind), transport.ChatTarget{ChatID: chatID}, Render(n))
	if err != nil {
		return err
	}
	s.expire(ref)
	return nil
}

// expire schedules deletion of a posted message; failures only get logged.
func (s *Service) expire(ref transport.MessageRef) {
	s.mu.Lock()
	ttl := s.cfg.BroadcastTTL
	exp := s.expirer
	s.mu.Unlock()
	if exp == nil || ttl < 0 || ref.MessageID == 0 {
		return
	}

	key := fmt.Sprintf("broadcast_%d_%d", ref.ChatID, ref.MessageID)
	err := exp.ScheduleAt(key, s.clock.Now().Add(ttl), func(ctx context.Context, _ string) error {
		s.mu.Lock()
		snd := s.sender
		s.mu.Unlock()
		if snd == nil {
			return ErrNoSender
		}
		return snd.DeleteMessage(ctx, ref)
	})
	if err != nil {
		s.log.Warn("broadcast expiry not armed", logx.String("key", key), logx.Err(err))
	}
}

func parseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadAddress, s)
	}
	return id, nil
}
