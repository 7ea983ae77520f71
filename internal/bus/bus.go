// Package bus carries accepted fragment batches out of a process so other
// services can follow a scope's changes.
package bus

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/jetstream/pkg/fragment"
	"github.com/mesh-intelligence/jetstream/pkg/model"
)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("bus is closed")

// Envelope is one accepted batch of a scope.
type Envelope struct {
	ScopeUUID string                   `json:"scopeUUID"`
	ScopeName string                   `json:"scopeName"`
	Origin    string                   `json:"origin,omitempty"`
	Fragments []*fragment.SyncFragment `json:"fragments"`
}

// Bus publishes envelopes and delivers them to subscribers.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe delivers envelopes to fn until ctx is done.
	Subscribe(ctx context.Context, fn func(Envelope)) error
	Close() error
}

const (
	forwardQueue   = 256
	publishTimeout = 5 * time.Second
)

// Forward publishes every changes event of s to b until the returned stop
// function is called or ctx is done. origin maps the batch's origin value to
// the string carried in the envelope and may be nil. Publishing happens off
// the scope's serialized path; when the queue is full the batch is dropped
// and logged.
func Forward(ctx context.Context, s *model.Scope, b Bus, origin func(any) string, log zerolog.Logger) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	queue := make(chan Envelope, forwardQueue)

	unsubscribe := s.Subscribe(func(applied []*fragment.SyncFragment, o any) {
		env := Envelope{ScopeUUID: s.UUID(), ScopeName: s.Name(), Fragments: applied}
		if origin != nil {
			env.Origin = origin(o)
		}
		select {
		case queue <- env:
		default:
			log.Warn().Str("scope", s.Name()).Int("fragments", len(applied)).Msg("bus queue full, batch dropped")
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case env := <-queue:
				pctx, pcancel := context.WithTimeout(ctx, publishTimeout)
				if err := b.Publish(pctx, env); err != nil {
					log.Error().Err(err).Str("scope", env.ScopeName).Msg("publishing batch")
				}
				pcancel()
			}
		}
	}()

	return func() {
		unsubscribe()
		cancel()
		<-done
	}
}
