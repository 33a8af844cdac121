package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndResolve(t *testing.T) {
	r := newRegistry()
	err := r.register(BackendFactory{Key: " Fake ", New: Static(newFakeBackend())})
	require.NoError(t, err)

	factory, ok := r.resolve("FAKE")
	require.True(t, ok)
	assert.Equal(t, "fake", factory.Key)

	assert.Error(t, r.register(BackendFactory{Key: "fake", New: Static(newFakeBackend())}), "duplicate keys are rejected")
	assert.Error(t, r.register(BackendFactory{Key: "", New: Static(newFakeBackend())}))
	assert.Error(t, r.register(BackendFactory{Key: "nil-ctor"}))

	_, ok = r.resolve("")
	assert.False(t, ok)
}

func TestRegistryListIsSorted(t *testing.T) {
	r := newRegistry()
	for _, key := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.register(BackendFactory{Key: key, New: Static(newFakeBackend())}))
	}
	list := r.list()
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].Key)
	assert.Equal(t, "zeta", list[2].Key)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("does-not-exist", Options{})
	assert.Error(t, err)
}

func TestOpenChainsBackendAugmenterFirst(t *testing.T) {
	var order []string
	require.NoError(t, Register(BackendFactory{
		Key: "ordered-test",
		Augmenter: AugmentFunc(func(s Settings) Settings {
			order = append(order, "backend")
			s["layer"] = "backend"
			return s
		}),
		New: Static(newFakeBackend()),
	}))

	c, err := Open("ordered-test", Options{Augmenter: AugmentFunc(func(s Settings) Settings {
		order = append(order, "caller")
		s["layer"] += "+caller"
		return s
	})})
	require.NoError(t, err)

	assert.Equal(t, []string{"backend", "caller"}, order)
	assert.Equal(t, "backend+caller", c.Setting("layer"))
	assert.Equal(t, "ordered-test", c.BackendKey())
	assert.Contains(t, Keys(), "ordered-test")
}
