package component

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Register(t *testing.T) {
	registry := NewRegistry()

	echo := fakeClass("echo", 0, func() *fakeComponent { return &fakeComponent{} })
	require.NoError(t, registry.Register(echo))

	got, exists := registry.Lookup("echo")
	require.True(t, exists)
	assert.Equal(t, echo, got)
	assert.Equal(t, 1, registry.Len())
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(fakeClass("echo", 0, func() *fakeComponent { return &fakeComponent{} })))
	err := registry.Register(fakeClass("echo", 0, func() *fakeComponent { return &fakeComponent{} }))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
	assert.Equal(t, 1, registry.Len())
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	registry := NewRegistry()

	assert.Error(t, registry.Register(nil))
	assert.Error(t, registry.Register(&Class{Name: "no-factory"}))
	assert.Equal(t, 0, registry.Len())
}

func TestRegistry_LookupMissing(t *testing.T) {
	registry := NewRegistry()

	_, exists := registry.Lookup("ghost")
	assert.False(t, exists)
}

func TestRegistry_NamesSorted(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"motor", "echo", "camera"} {
		require.NoError(t, registry.Register(fakeClass(name, 0, func() *fakeComponent { return &fakeComponent{} })))
	}

	assert.Equal(t, []string{"camera", "echo", "motor"}, registry.Names())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(fakeClass("echo", 0, func() *fakeComponent { return &fakeComponent{} })))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				registry.Lookup("echo")
				registry.Names()
			}
		}()
	}
	wg.Wait()
}
