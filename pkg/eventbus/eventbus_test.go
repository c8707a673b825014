package eventbus

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/spkampus/portal/pkg/logging"
)

type testEvent struct {
	name string
	data string
}

func (e testEvent) EventName() string { return e.name }

func bufferLogger(level logrus.Level) (*logrus.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	log := logrus.New()
	log.SetOutput(buf)
	log.SetLevel(level)
	return log, buf
}

func TestPublisher_Publish(t *testing.T) {
	log, buf := bufferLogger(logrus.WarnLevel)
	publisher := NewEventPublisher(log)
	publisher.Subscribe("unit.created", func(context.Context, Event) error {
		t.Error("should not be called")
		return nil
	})

	publisher.Publish(context.Background(), testEvent{name: "unit.deleted"})

	require.Contains(t, buf.String(), "eventbus.Publish: no matching subscribers")
}

func TestPublisher_Subscribe(t *testing.T) {
	publisher := NewEventPublisher(logging.ConsoleLogger(logrus.WarnLevel))
	var got []string
	publisher.Subscribe("unit.created", func(_ context.Context, ev Event) error {
		got = append(got, "named:"+ev.(testEvent).data)
		return nil
	})
	publisher.Subscribe(Wildcard, func(_ context.Context, ev Event) error {
		got = append(got, "all:"+ev.EventName())
		return nil
	})

	publisher.Publish(context.Background(), testEvent{name: "unit.created", data: "x"})
	publisher.Publish(context.Background(), testEvent{name: "position.created"})

	require.Equal(t, []string{"named:x", "all:unit.created", "all:position.created"}, got)
}

func TestPublisher_Unsubscribe(t *testing.T) {
	publisher := NewEventPublisher(nil)
	calls := 0
	unsubscribe := publisher.Subscribe("a", func(context.Context, Event) error { calls++; return nil })
	publisher.Subscribe("b", func(context.Context, Event) error { return nil })
	require.Equal(t, 2, publisher.SubscribersCount())

	unsubscribe()
	unsubscribe()
	require.Equal(t, 1, publisher.SubscribersCount())

	publisher.Publish(context.Background(), testEvent{name: "a"})
	require.Zero(t, calls)

	publisher.Clear()
	require.Zero(t, publisher.SubscribersCount())
}

func TestPublisher_PanicRecovery(t *testing.T) {
	t.Parallel()

	t.Run("panic is logged and other handlers still run", func(t *testing.T) {
		log, buf := bufferLogger(logrus.WarnLevel)
		publisher := NewEventPublisher(log)

		called1, called2 := false, false
		publisher.Subscribe("e", func(context.Context, Event) error { called1 = true; return nil })
		publisher.Subscribe("e", func(context.Context, Event) error { panic("intentional panic for testing") })
		publisher.Subscribe("e", func(context.Context, Event) error { called2 = true; return nil })

		publisher.Publish(context.Background(), testEvent{name: "e", data: "important-data"})

		require.True(t, called1)
		require.True(t, called2)
		out := buf.String()
		require.Contains(t, out, "panicked")
		require.Contains(t, out, "intentional panic for testing")
		require.Contains(t, out, "important-data")
		require.NotContains(t, out, "no matching subscribers")
	})

	t.Run("all handlers failing is reported as unhandled", func(t *testing.T) {
		log, buf := bufferLogger(logrus.WarnLevel)
		publisher := NewEventPublisher(log)
		publisher.Subscribe("e", func(context.Context, Event) error { panic("always panics") })

		publisher.Publish(context.Background(), testEvent{name: "e"})

		require.True(t, strings.Contains(buf.String(), "no matching subscribers"))
	})
}

func TestPublisher_PublishE(t *testing.T) {
	t.Parallel()

	t.Run("returns ErrNoSubscribers when none match", func(t *testing.T) {
		publisher := NewEventPublisher(logrus.New())
		err := publisher.PublishE(context.Background(), testEvent{name: "x"})
		require.ErrorIs(t, err, ErrNoSubscribers)
	})

	t.Run("returns joined errors from multiple handlers", func(t *testing.T) {
		publisher := NewEventPublisher(logrus.New())
		err1 := errors.New("err1")
		err2 := errors.New("err2")
		publisher.Subscribe("x", func(context.Context, Event) error { return err1 })
		publisher.Subscribe("x", func(context.Context, Event) error { return err2 })

		err := publisher.PublishE(context.Background(), testEvent{name: "x"})
		require.ErrorIs(t, err, err1)
		require.ErrorIs(t, err, err2)
	})

	t.Run("panic is surfaced as error", func(t *testing.T) {
		publisher := NewEventPublisher(nil)
		called := false
		publisher.Subscribe("x", func(context.Context, Event) error { panic("boom") })
		publisher.Subscribe("x", func(context.Context, Event) error { called = true; return nil })

		err := publisher.PublishE(context.Background(), testEvent{name: "x"})
		require.Error(t, err)
		require.Contains(t, err.Error(), "boom")
		require.True(t, called)
	})
}
