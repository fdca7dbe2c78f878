package parsers

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Open-Inflation/converter/internal/textnorm"
)

func TestRegisterBuiltinHandlers_AllThreeSourcesRegister(t *testing.T) {
	registry := NewRegistry()
	normalizer := textnorm.NewRussianNormalizer()

	err := RegisterBuiltinHandlers(registry, normalizer)
	require.NoError(t, err)

	require.Equal(t, []string{"chizhik", "fixprice", "perekrestok"}, registry.RegisteredParsers())

	for _, name := range []string{"fixprice", "chizhik", "perekrestok"} {
		handler, err := registry.Get(name)
		require.NoError(t, err)
		require.Equal(t, name, handler.ParserName())
	}
}

func TestRegisterBuiltinHandlers_DoubleRegistrationFails(t *testing.T) {
	registry := NewRegistry()
	normalizer := textnorm.NewRussianNormalizer()

	require.NoError(t, RegisterBuiltinHandlers(registry, normalizer))
	require.Error(t, RegisterBuiltinHandlers(registry, normalizer))
}

func TestRegistry_GetUnknownParserNamesKnownSet(t *testing.T) {
	registry := NewRegistry()
	normalizer := textnorm.NewRussianNormalizer()
	require.NoError(t, RegisterBuiltinHandlers(registry, normalizer))

	_, err := registry.Get("walmart")
	require.Error(t, err)
	require.Contains(t, err.Error(), "chizhik")
	require.Contains(t, err.Error(), "fixprice")
	require.Contains(t, err.Error(), "perekrestok")
}
