package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Wildcard subscribes a handler to every event.
const Wildcard = "*"

// Event is anything published on the bus. EventName selects the subscribers.
type Event interface {
	EventName() string
}

type Handler func(ctx context.Context, ev Event) error

type EventBus interface {
	Publish(ctx context.Context, ev Event)
	PublishE(ctx context.Context, ev Event) error
	Subscribe(name string, handler Handler) (unsubscribe func())
	Clear()
	SubscribersCount() int
}

var ErrNoSubscribers = errors.New("eventbus: no matching subscribers")

type subscriber struct {
	id      uint64
	name    string
	handler Handler
}

type publisherImpl struct {
	log *logrus.Logger

	mu          sync.RWMutex
	nextID      uint64
	subscribers []subscriber
}

func NewEventPublisher(log *logrus.Logger) EventBus {
	return &publisherImpl{log: log}
}

func (p *publisherImpl) matching(name string) []subscriber {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]subscriber, 0, len(p.subscribers))
	for _, s := range p.subscribers {
		if s.name == name || s.name == Wildcard {
			out = append(out, s)
		}
	}
	return out
}

// Publish delivers ev to every matching handler. Handler errors and panics
// are logged and never stop delivery to the remaining handlers.
func (p *publisherImpl) Publish(ctx context.Context, ev Event) {
	handled := false
	for _, s := range p.matching(ev.EventName()) {
		if err := p.call(ctx, s, ev); err != nil {
			if p.log != nil {
				p.log.WithError(err).WithField("event", ev.EventName()).Error("eventbus: handler failed")
			}
			continue
		}
		handled = true
	}
	if !handled && p.log != nil {
		p.log.Warnf("eventbus.Publish: no matching subscribers for event %s", ev.EventName())
	}
}

// PublishE is Publish that returns the joined handler errors instead of logging them.
func (p *publisherImpl) PublishE(ctx context.Context, ev Event) error {
	subs := p.matching(ev.EventName())
	if len(subs) == 0 {
		return ErrNoSubscribers
	}
	var errs []error
	for _, s := range subs {
		if err := p.call(ctx, s, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *publisherImpl) call(ctx context.Context, s subscriber, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("eventbus: handler for %s panicked with event %+v: %v", s.name, ev, r)
		}
	}()
	return s.handler(ctx, ev)
}

func (p *publisherImpl) Subscribe(name string, handler Handler) func() {
	if handler == nil {
		panic("eventbus: nil handler")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := p.nextID
	p.subscribers = append(p.subscribers, subscriber{id: id, name: name, handler: handler})

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, s := range p.subscribers {
			if s.id == id {
				p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
				return
			}
		}
	}
}

func (p *publisherImpl) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = nil
}

func (p *publisherImpl) SubscribersCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscribers)
}
