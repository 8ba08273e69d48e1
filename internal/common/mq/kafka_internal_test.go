package mq

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestKafkaMessageHeadersRoundTrip(t *testing.T) {
	t.Parallel()
	ts := time.Date(2024, 5, 1, 10, 0, 0, 123, time.UTC)
	in := &Message{
		ID:         "263062258348143308417577107074855803392",
		Body:       []byte(`{"ok":true}`),
		Headers:    map[string]string{"scene": "contest"},
		Timestamp:  ts,
		RetryCount: 2,
		MaxRetries: 5,
		Expiration: 90 * time.Second,
	}
	km := toKafkaMessage("judge.results", in)
	if km.Topic != "judge.results" || string(km.Key) != in.ID {
		t.Fatalf("unexpected kafka message %+v", km)
	}
	out := fromKafkaMessage(km)
	if out.ID != in.ID || string(out.Body) != string(in.Body) {
		t.Fatalf("id/body mismatch: %+v", out)
	}
	if !out.Timestamp.Equal(ts) || out.RetryCount != 2 || out.MaxRetries != 5 || out.Expiration != 90*time.Second {
		t.Fatalf("metadata mismatch: %+v", out)
	}
	if out.Headers["scene"] != "contest" || len(out.Headers) != 1 {
		t.Fatalf("user headers mismatch: %v", out.Headers)
	}
}

func TestDeliverRetriesThenDeadLetters(t *testing.T) {
	t.Parallel()
	attempts := 0
	var dead *Message
	handler := func(context.Context, *Message) error {
		attempts++
		return errors.New("store unavailable")
	}
	deadLetter := func(_ context.Context, m *Message) error {
		dead = m
		return nil
	}
	opts := SubscribeOptions{MaxRetries: 2, RetryDelay: time.Millisecond}
	done := deliver(context.Background(), handler, NewMessage([]byte("x")), opts, deadLetter)
	if !done {
		t.Fatalf("exhausted message should be committed")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if dead == nil || dead.Headers[headerLastError] != "store unavailable" {
		t.Fatalf("message should reach dead letter with last error, got %+v", dead)
	}
}

func TestDeliverPermanentErrorSkipsRetries(t *testing.T) {
	t.Parallel()
	attempts := 0
	handler := func(context.Context, *Message) error {
		attempts++
		return Permanent(errors.New("bad verdict"))
	}
	opts := SubscribeOptions{MaxRetries: 5, RetryDelay: time.Hour}
	done := deliver(context.Background(), handler, NewMessage(nil), opts, func(context.Context, *Message) error { return nil })
	if !done || attempts != 1 {
		t.Fatalf("permanent error should be handled once, attempts=%d done=%v", attempts, done)
	}
}

func TestDeliverStopsOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	handler := func(context.Context, *Message) error {
		cancel()
		return errors.New("transient")
	}
	opts := SubscribeOptions{MaxRetries: 3, RetryDelay: time.Hour}
	if deliver(ctx, handler, NewMessage(nil), opts, func(context.Context, *Message) error { return nil }) {
		t.Fatalf("cancelled retry must not commit")
	}
}

func TestDeliverDropsExpired(t *testing.T) {
	t.Parallel()
	called := false
	m := NewMessage(nil)
	m.Timestamp = time.Now().Add(-time.Hour)
	opts := SubscribeOptions{MaxRetries: 1, RetryDelay: time.Millisecond, MessageTTL: time.Minute}
	done := deliver(context.Background(), func(context.Context, *Message) error {
		called = true
		return nil
	}, m, opts, func(context.Context, *Message) error { return nil })
	if !done || called {
		t.Fatalf("expired message should be committed without handling")
	}
}

func TestPermanentWrapping(t *testing.T) {
	t.Parallel()
	base := errors.New("root")
	err := Permanent(base)
	if !IsPermanent(err) || !errors.Is(err, base) {
		t.Fatalf("permanent error must keep its cause")
	}
	if IsPermanent(base) || Permanent(nil) != nil {
		t.Fatalf("unexpected permanent classification")
	}
}

func TestConsumerConfigSubscribeOptions(t *testing.T) {
	t.Parallel()
	opts := ConsumerConfig{ConsumerGroup: "g", DeadLetterTopic: "dlq"}.SubscribeOptions()
	if opts.ConsumerGroup != "g" || opts.DeadLetterTopic != "dlq" {
		t.Fatalf("unexpected options %+v", opts)
	}
	if opts.Concurrency != 1 || opts.MaxRetries != 3 || opts.RetryDelay != time.Second {
		t.Fatalf("defaults not applied: %+v", opts)
	}
}
