package bus

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/jetstream/pkg/fragment"
	"github.com/mesh-intelligence/jetstream/pkg/model"
)

const rootID = "00000000-0000-4000-8000-000000000001"

func sampleEnvelope() Envelope {
	return Envelope{
		ScopeUUID: "scope-1",
		ScopeName: "Person",
		Origin:    "client-a",
		Fragments: []*fragment.SyncFragment{
			fragment.MustNew(fragment.Options{Type: fragment.TypeRemove, ObjectUUID: "x"}),
		},
	}
}

func TestMemoryBusDelivers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewMemoryBus()

	var got []Envelope
	require.NoError(t, b.Subscribe(ctx, func(env Envelope) { got = append(got, env) }))
	require.NoError(t, b.Publish(ctx, sampleEnvelope()))

	require.Len(t, got, 1)
	assert.Equal(t, "client-a", got[0].Origin)
	assert.Equal(t, "x", got[0].Fragments[0].ObjectUUID())
}

func TestMemoryBusClose(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBus()
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish(ctx, sampleEnvelope()), ErrClosed)
	assert.ErrorIs(t, b.Subscribe(ctx, func(Envelope) {}), ErrClosed)
}

func TestMemoryBusUnsubscribesOnCancel(t *testing.T) {
	b := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, b.Subscribe(ctx, func(Envelope) {}))
	cancel()

	assert.Eventually(t, func() bool {
		b.mu.RLock()
		defer b.mu.RUnlock()
		return len(b.subs) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestForwardPublishesAcceptedBatches(t *testing.T) {
	ctx := context.Background()
	r := model.NewRegistry()
	person := r.MustDefineType("Person", "", model.Prop("name", "String"), model.Prop("children", "[Person]"))
	scope := model.NewScope("family", model.NewMemoryPersist())
	require.NoError(t, model.NewObject(person, rootID).SetScopeAndMakeRoot(ctx, scope))

	b := NewMemoryBus()
	received := make(chan Envelope, 1)
	require.NoError(t, b.Subscribe(ctx, func(env Envelope) { received <- env }))

	stop := Forward(ctx, scope, b, func(o any) string {
		s, _ := o.(string)
		return s
	}, zerolog.Nop())
	defer stop()

	add := fragment.MustNew(fragment.Options{
		Type: fragment.TypeAdd, ObjectUUID: "kid", ClsName: "Person",
		ParentUUID: rootID, KeyPath: "children",
	})
	bad := fragment.MustNew(fragment.Options{Type: fragment.TypeRemove, ObjectUUID: "ghost"})
	_, err := scope.ApplySyncFragments(ctx, []*fragment.SyncFragment{add, bad}, "client-7")
	require.NoError(t, err)

	select {
	case env := <-received:
		assert.Equal(t, scope.UUID(), env.ScopeUUID)
		assert.Equal(t, "family", env.ScopeName)
		assert.Equal(t, "client-7", env.Origin)
		assert.Equal(t, []*fragment.SyncFragment{add}, env.Fragments)
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope forwarded")
	}
}

func TestEnvelopeJSON(t *testing.T) {
	raw, err := json.Marshal(sampleEnvelope())
	require.NoError(t, err)
	assert.JSONEq(t, `{"scopeUUID":"scope-1","scopeName":"Person","origin":"client-a",
		"fragments":[{"type":"remove","uuid":"x","properties":{}}]}`, string(raw))

	env, err := decodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, "Person", env.ScopeName)

	_, err = decodeEnvelope([]byte(`{"fragments":[{"type":"nope"}]}`))
	assert.Error(t, err)
}

func TestNewRedisBusRequiresAddr(t *testing.T) {
	_, err := NewRedisBus(context.Background(), RedisOptions{}, zerolog.Nop())
	assert.Error(t, err)
}

// TestRedisBusLive runs against a real server when JETSTREAM_TEST_REDIS
// holds its address.
func TestRedisBusLive(t *testing.T) {
	addr := os.Getenv("JETSTREAM_TEST_REDIS")
	if addr == "" {
		t.Skip("JETSTREAM_TEST_REDIS not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b, err := NewRedisBus(ctx, RedisOptions{Addr: addr, Channel: "jetstream-test"}, zerolog.Nop())
	require.NoError(t, err)
	defer b.Close()

	received := make(chan Envelope, 1)
	require.NoError(t, b.Subscribe(ctx, func(env Envelope) { received <- env }))
	require.NoError(t, b.Publish(ctx, sampleEnvelope()))

	select {
	case env := <-received:
		assert.Equal(t, "scope-1", env.ScopeUUID)
	case <-ctx.Done():
		t.Fatal("no envelope received")
	}
}
