package parsers

import (
	"testing"

	"github.com/Open-Inflation/converter/internal/textnorm"
	"github.com/stretchr/testify/require"
)

func TestChizhikTitleParser_ExtractsSinglePackageWeight(t *testing.T) {
	p := &ChizhikTitleParser{Normalizer: textnorm.NewRussianNormalizer()}
	result := p.Parse("Шоколад Вдохновение классический 100г")

	require.Equal(t, "PCE", string(result.Unit))
	require.NotNil(t, result.Brand)
	require.Equal(t, "Вдохновение", *result.Brand)
	require.NotNil(t, result.PackageQuantity)
	require.InDelta(t, 0.1, *result.PackageQuantity, 0.0001)
	require.NotNil(t, result.PackageUnit)
	require.Equal(t, "KGM", string(*result.PackageUnit))
	require.Nil(t, result.AvailableCount)
}

func TestChizhikTitleParser_ExtractsMultipack(t *testing.T) {
	p := &ChizhikTitleParser{Normalizer: textnorm.NewRussianNormalizer()}
	result := p.Parse("Чай Greenfield Summer Bouquet травяной 25х2г")

	require.Equal(t, "PCE", string(result.Unit))
	require.NotNil(t, result.Brand)
	require.Equal(t, "Greenfield Summer Bouquet", *result.Brand)
	require.NotNil(t, result.AvailableCount)
	require.Equal(t, 25.0, *result.AvailableCount)
	require.NotNil(t, result.PackageQuantity)
	require.InDelta(t, 0.002, *result.PackageQuantity, 0.0001)
	require.Equal(t, "KGM", string(*result.PackageUnit))
}

func TestChizhikTitleParser_ExtractsPieceCount(t *testing.T) {
	p := &ChizhikTitleParser{Normalizer: textnorm.NewRussianNormalizer()}
	result := p.Parse("Презервативы Contex Classic 3шт")

	require.Equal(t, "PCE", string(result.Unit))
	require.NotNil(t, result.Brand)
	require.Equal(t, "Contex Classic", *result.Brand)
	require.NotNil(t, result.AvailableCount)
	require.Equal(t, 3.0, *result.AvailableCount)
	require.Nil(t, result.PackageQuantity)
	require.Nil(t, result.PackageUnit)
}

func TestChizhikTitleParser_ExtractsVolume(t *testing.T) {
	p := &ChizhikTitleParser{Normalizer: textnorm.NewRussianNormalizer()}
	result := p.Parse("Молоко Простоквашино пастер. 3.4-4.5% 930мл")

	require.Equal(t, "PCE", string(result.Unit))
	require.NotNil(t, result.Brand)
	require.Equal(t, "Простоквашино", *result.Brand)
	require.NotNil(t, result.PackageQuantity)
	require.InDelta(t, 0.93, *result.PackageQuantity, 0.0001)
	require.Equal(t, "LTR", string(*result.PackageUnit))
}

func TestNewPerekrestokHandler_ReusesChizhikGrammar(t *testing.T) {
	handler := NewPerekrestokHandler(textnorm.NewRussianNormalizer())
	require.Equal(t, "perekrestok", handler.ParserName())
}
