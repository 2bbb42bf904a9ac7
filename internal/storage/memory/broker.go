package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/fanclub/backend/internal/models"
)

const subscriberBuffer = 64

// Broker fans live chat events out to in-process subscribers. Slow
// subscribers lose events instead of blocking publishers.
type Broker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]subscriber
}

type subscriber struct {
	chatID uuid.UUID // uuid.Nil receives every chat
	ch     chan models.MessageEvent
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int]subscriber)}
}

func (b *Broker) Publish(ctx context.Context, chatID uuid.UUID, ev models.MessageEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.chatID != uuid.Nil && s.chatID != chatID {
			continue
		}
		select {
		case s.ch <- ev:
		default:
		}
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, chatID uuid.UUID) (<-chan models.MessageEvent, error) {
	return b.subscribe(ctx, chatID), nil
}

func (b *Broker) SubscribeAll(ctx context.Context) (<-chan models.MessageEvent, error) {
	return b.subscribe(ctx, uuid.Nil), nil
}

func (b *Broker) subscribe(ctx context.Context, chatID uuid.UUID) <-chan models.MessageEvent {
	ch := make(chan models.MessageEvent, subscriberBuffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = subscriber{chatID: chatID, ch: ch}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()
	return ch
}
