package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WouterBesse/social-interaction-cloud/component"
	"github.com/WouterBesse/social-interaction-cloud/message"
)

func newTestSingleton(t *testing.T, registry *component.Registry, opts ...Option) *SingletonManager {
	t.Helper()
	bus := newFakeBus()
	sm, err := NewSingleton(registry, bus, testDevice, opts...)
	require.NoError(t, err)
	return sm
}

func TestSingleton_SecondStartServedFromCache(t *testing.T) {
	launches := 0
	registry := component.NewRegistry()
	require.NoError(t, registry.Register(&component.Class{
		Name: "camera",
		Factory: func(_ component.RuntimeContext) (component.Runnable, error) {
			launches++
			return &wellBehaved{}, nil
		},
	}))

	sm := newTestSingleton(t, registry)
	defer sm.Shutdown(context.Background())

	first := startedInfo(t, decodeReply(t,
		sm.HandleRequest(context.Background(), startEnvelope(t, "camera"))))
	second := startedInfo(t, decodeReply(t,
		sm.HandleRequest(context.Background(), startEnvelope(t, "camera"))))

	assert.Equal(t, 1, launches, "second request must not launch again")
	assert.Equal(t, 1, sm.ActiveCount())

	assert.True(t, first.IsSingleton)
	assert.True(t, second.IsSingleton)
	assert.Equal(t, first.OutputChannel, second.OutputChannel)
	assert.Equal(t, []string{"camera"}, sm.CachedClasses())
}

func TestSingleton_RepliesAreDistinctCopies(t *testing.T) {
	registry := registryWith(t, classOf("camera", 0, &wellBehaved{}))
	sm := newTestSingleton(t, registry)
	defer sm.Shutdown(context.Background())

	envA := startEnvelope(t, "camera")
	envB := startEnvelope(t, "camera")

	infoA := startedInfo(t, decodeReply(t, sm.HandleRequest(context.Background(), envA)))
	infoB := startedInfo(t, decodeReply(t, sm.HandleRequest(context.Background(), envB)))

	// Each requester's reply carries its own correlation identity.
	assert.Equal(t, envA.ID, infoA.RequestID)
	assert.Equal(t, envB.ID, infoB.RequestID)
	assert.NotEqual(t, infoA.RequestID, infoB.RequestID)
}

func TestSingleton_FailureIsNotCached(t *testing.T) {
	healthy := false
	registry := component.NewRegistry()
	require.NoError(t, registry.Register(&component.Class{
		Name: "flaky",
		Factory: func(_ component.RuntimeContext) (component.Runnable, error) {
			if !healthy {
				return nil, assert.AnError
			}
			return &wellBehaved{}, nil
		},
	}))

	sm := newTestSingleton(t, registry)
	defer sm.Shutdown(context.Background())

	first := decodeReply(t, sm.HandleRequest(context.Background(), startEnvelope(t, "flaky")))
	assert.Equal(t, message.KindNotStarted, first.Kind)
	assert.Empty(t, sm.CachedClasses())

	// A later attempt starts fresh once the underlying fault clears.
	healthy = true
	second := decodeReply(t, sm.HandleRequest(context.Background(), startEnvelope(t, "flaky")))
	assert.Equal(t, message.KindStarted, second.Kind)
	assert.Equal(t, 1, sm.ActiveCount())
}

func TestSingleton_CacheNotServedAfterShutdown(t *testing.T) {
	registry := registryWith(t, classOf("camera", 0, &wellBehaved{}))
	sm := newTestSingleton(t, registry)

	first := decodeReply(t, sm.HandleRequest(context.Background(), startEnvelope(t, "camera")))
	require.Equal(t, message.KindStarted, first.Kind)

	require.NoError(t, sm.Shutdown(context.Background()))

	// The cached reply describes an instance that no longer runs.
	reply := decodeReply(t, sm.HandleRequest(context.Background(), startEnvelope(t, "camera")))
	assert.Equal(t, message.KindNotStarted, reply.Kind)
}

func TestSingleton_UnknownComponentStillIgnored(t *testing.T) {
	registry := component.NewRegistry()
	sm := newTestSingleton(t, registry)
	defer sm.Shutdown(context.Background())

	reply := decodeReply(t, sm.HandleRequest(context.Background(), startEnvelope(t, "hologram")))
	assert.Equal(t, message.KindIgnored, reply.Kind)
	assert.Empty(t, sm.CachedClasses())
}

func TestSingleton_ConcurrentStartsLaunchOnce(t *testing.T) {
	var launchMu sync.Mutex
	launches := 0
	registry := component.NewRegistry()
	require.NoError(t, registry.Register(&component.Class{
		Name: "camera",
		Factory: func(_ component.RuntimeContext) (component.Runnable, error) {
			launchMu.Lock()
			launches++
			launchMu.Unlock()
			return &slowStarter{delay: 10 * time.Millisecond}, nil
		},
	}))

	sm := newTestSingleton(t, registry)
	defer sm.Shutdown(context.Background())

	const requesters = 8
	replies := make(chan []byte, requesters)
	envs := make([]*message.Envelope, requesters)
	for i := range envs {
		envs[i] = startEnvelope(t, "camera")
	}

	var wg sync.WaitGroup
	for i := 0; i < requesters; i++ {
		wg.Add(1)
		go func(env *message.Envelope) {
			defer wg.Done()
			replies <- sm.HandleRequest(context.Background(), env)
		}(envs[i])
	}
	wg.Wait()
	close(replies)

	for data := range replies {
		reply := decodeReply(t, data)
		assert.Equal(t, message.KindStarted, reply.Kind)
	}

	launchMu.Lock()
	defer launchMu.Unlock()
	assert.Equal(t, 1, launches)
	assert.Equal(t, 1, sm.ActiveCount())
}

func TestSingleton_DistinctClassesEachLaunch(t *testing.T) {
	registry := registryWith(t,
		classOf("camera", 0, &wellBehaved{}),
		classOf("microphone", 0, &wellBehaved{}),
	)
	sm := newTestSingleton(t, registry)
	defer sm.Shutdown(context.Background())

	camera := startedInfo(t, decodeReply(t,
		sm.HandleRequest(context.Background(), startEnvelope(t, "camera"))))
	mic := startedInfo(t, decodeReply(t,
		sm.HandleRequest(context.Background(), startEnvelope(t, "microphone"))))

	assert.NotEqual(t, camera.OutputChannel, mic.OutputChannel)
	assert.Equal(t, 2, sm.ActiveCount())
	assert.ElementsMatch(t, []string{"camera", "microphone"}, sm.CachedClasses())
}
