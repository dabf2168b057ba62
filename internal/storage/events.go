package storage

import (
	"anonchat/backend/internal/models"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// subscriberBuffer bounds how far a slow dashboard may lag before events
// to it are dropped.
const subscriberBuffer = 32

// broadcaster is the in-process event bus used when Redis is not configured.
type broadcaster struct {
	mu   sync.Mutex
	subs map[chan models.Event]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[chan models.Event]struct{})}
}

func (b *broadcaster) publish(ev models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *broadcaster) subscribe(ctx context.Context) <-chan models.Event {
	ch := make(chan models.Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
		close(ch)
	}()
	return ch
}

// PublishEvent sends ev to every subscriber, through Redis when available.
func (s *Service) PublishEvent(ctx context.Context, ev models.Event) error {
	if s.Redis == nil {
		s.local.publish(ev)
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.Redis.Publish(ctx, eventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish event %s: %w", ev.Type, err)
	}
	return nil
}

// SubscribeEvents listens on the operator channel until ctx is cancelled.
func (s *Service) SubscribeEvents(ctx context.Context) (<-chan models.Event, error) {
	if s.Redis == nil {
		return s.local.subscribe(ctx), nil
	}

	pubsub := s.Redis.Subscribe(ctx, eventsChannel)
	// Wait for the subscription confirmation so errors surface here.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", eventsChannel, err)
	}

	out := make(chan models.Event, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev models.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					s.logger().Warn("dropping malformed event", zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				default:
				}
			}
		}
	}()
	return out, nil
}

// MirrorQueueAdd appends userID to the Redis list for queue.
func (s *Service) MirrorQueueAdd(ctx context.Context, queue string, userID int64) error {
	if s.Redis == nil {
		return nil
	}
	if err := s.Redis.RPush(ctx, queue, userID).Err(); err != nil {
		return fmt.Errorf("mirror add %s: %w", queue, err)
	}
	return nil
}

// MirrorQueueRemove drops userID from the Redis list for queue.
func (s *Service) MirrorQueueRemove(ctx context.Context, queue string, userID int64) error {
	if s.Redis == nil {
		return nil
	}
	if err := s.Redis.LRem(ctx, queue, 0, userID).Err(); err != nil {
		return fmt.Errorf("mirror remove %s: %w", queue, err)
	}
	return nil
}

// MirrorQueueReset empties the mirror for queue.
func (s *Service) MirrorQueueReset(ctx context.Context, queue string) error {
	if s.Redis == nil {
		return nil
	}
	if err := s.Redis.Del(ctx, queue).Err(); err != nil {
		return fmt.Errorf("mirror reset %s: %w", queue, err)
	}
	return nil
}

// QueueLength reads the mirrored length of queue. It is used by the
// operator CLI, which has no access to the in-memory queues.
func (s *Service) QueueLength(ctx context.Context, queue string) (int64, error) {
	if s.Redis == nil {
		return 0, nil
	}
	n, err := s.Redis.LLen(ctx, queue).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length %s: %w", queue, err)
	}
	return n, nil
}

func (s *Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
