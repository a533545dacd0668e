package main

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type stubPinger struct {
	err   error
	calls atomic.Int32
}

func (s *stubPinger) Ping(context.Context) error {
	s.calls.Add(1)
	return s.err
}

type stubConsumer struct {
	err  error
	runs int
}

func (s *stubConsumer) Run(context.Context) error {
	s.runs++
	return s.err
}

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "worker-test", Output: io.Discard})
}

func newWorkerService(t *testing.T, redis *stubPinger, consumer *stubConsumer) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger: quietLogger(),
		Dependencies: []Dependency{
			{Name: "database", Pinger: &stubPinger{}},
			{Name: "redis", Pinger: redis},
			{Name: "pubsub", Pinger: &stubPinger{}},
		},
		Consumer: consumer,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestNewServiceValidatesParams(t *testing.T) {
	if _, err := NewService(ServiceParams{Logger: quietLogger()}); err == nil {
		t.Fatal("expected error without consumer")
	}
	_, err := NewService(ServiceParams{
		Logger:       quietLogger(),
		Dependencies: []Dependency{{Name: "redis"}},
		Consumer:     &stubConsumer{},
	})
	if err == nil || err.Error() != "redis client is required" {
		t.Fatalf("expected missing dependency error, got %v", err)
	}
}

func TestRunStopsWhenDependencyIsDown(t *testing.T) {
	consumer := &stubConsumer{}
	redis := &stubPinger{err: errors.New("connection refused")}
	svc := newWorkerService(t, redis, consumer)

	err := svc.Run(context.Background())
	if err == nil || err.Error() != "redis ping failed: connection refused" {
		t.Fatalf("unexpected error: %v", err)
	}
	if consumer.runs != 0 {
		t.Fatal("consumer must not start before dependencies are ready")
	}
	if redis.calls.Load() != 1 {
		t.Fatalf("expected one ping, got %d", redis.calls.Load())
	}
}

func TestRunReturnsConsumerError(t *testing.T) {
	boom := errors.New("subscription deleted")
	consumer := &stubConsumer{err: boom}
	svc := newWorkerService(t, &stubPinger{}, consumer)

	if err := svc.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected consumer error, got %v", err)
	}
	if consumer.runs != 1 {
		t.Fatalf("expected one consumer run, got %d", consumer.runs)
	}
}

func TestRunReturnsWhenConsumerFinishes(t *testing.T) {
	svc := newWorkerService(t, &stubPinger{}, &stubConsumer{})
	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
}
