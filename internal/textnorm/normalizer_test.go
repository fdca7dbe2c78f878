package textnorm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCleanText(t *testing.T) {
	n := NewRussianNormalizer()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases and folds yo", "Ёлка ТЕСТ", "елка тест"},
		{"collapses whitespace", "  тест   один  ", "тест один"},
		{"strips quotes", `Ручка "Помада"`, "ручка помада"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, n.CleanText(tc.in))
		})
	}
}

func TestTokenize_PreservesUnits(t *testing.T) {
	n := NewRussianNormalizer()
	tokens := n.Tokenize("Шоколад молочный 200 г")
	require.Contains(t, tokens, "г")
}

func TestLemmatize_StableAndPreservesUnits(t *testing.T) {
	n := NewRussianNormalizer()
	first := n.Lemmatize("молока 200 г")
	second := n.Lemmatize("молока 200 г")
	require.Equal(t, first, second)
	require.Contains(t, first, "г")
	require.Contains(t, first, "молоко")
}

func TestRemoveStopwords_Idempotent(t *testing.T) {
	n := NewRussianNormalizer()
	once := n.RemoveStopwords("масло в ассортименте для дома")
	twice := n.RemoveStopwords(once)
	require.Equal(t, once, twice)
	require.NotContains(t, once, "для")
	require.NotContains(t, once, "ассортимент")
}

func TestRemoveStopwords_KeepsUnitTokens(t *testing.T) {
	n := NewRussianNormalizer()
	result := n.RemoveStopwords("сахар 1 кг в пакете")
	require.Contains(t, result, "кг")
}
