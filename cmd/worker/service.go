package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	heartbeatInterval = time.Minute
	readinessTimeout  = 15 * time.Second
)

type pinger interface {
	Ping(ctx context.Context) error
}

type consumerRunner interface {
	Run(ctx context.Context) error
}

// Dependency is something the worker must reach before it consumes.
type Dependency struct {
	Name   string
	Pinger pinger
}

type ServiceParams struct {
	Logger       *logger.Logger
	Dependencies []Dependency
	Consumer     consumerRunner
}

// Service checks its dependencies once, then runs the consumer until it
// stops or ctx ends.
type Service struct {
	logg     *logger.Logger
	deps     []Dependency
	consumer consumerRunner
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Consumer == nil {
		return nil, errors.New("consumer is required")
	}
	for _, dep := range params.Dependencies {
		if dep.Pinger == nil {
			return nil, fmt.Errorf("%s client is required", dep.Name)
		}
	}
	return &Service{logg: params.Logger, deps: params.Dependencies, consumer: params.Consumer}, nil
}

// ready pings every dependency concurrently and reports the first failure.
func (s *Service) ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, dep := range s.deps {
		g.Go(func() error {
			if err := dep.Pinger.Ping(gctx); err != nil {
				return fmt.Errorf("%s ping failed: %w", dep.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.ready(ctx); err != nil {
		s.logg.Error(ctx, "worker dependency unavailable", err)
		return err
	}
	s.logg.Info(s.logg.WithField(ctx, "dependencies", len(s.deps)), "worker dependencies ready")

	done := make(chan error, 1)
	go func() { done <- s.consumer.Run(ctx) }()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(ctx, "consumer stopped unexpectedly", err)
			}
			return err
		case <-heartbeat.C:
			s.logg.Debug(ctx, "worker heartbeat")
		}
	}
}
