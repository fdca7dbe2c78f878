package parsers

import (
	"testing"
	"time"

	"github.com/Open-Inflation/converter/internal/model"
	"github.com/Open-Inflation/converter/internal/textnorm"
	"github.com/stretchr/testify/require"
)

func TestFixPriceTitleParser_ExtractsBrandAndStopwords(t *testing.T) {
	p := &FixPriceTitleParser{Normalizer: textnorm.NewRussianNormalizer()}
	result := p.Parse(`Ручка гелевая "Помада", With Love, 10х1,5 см, в ассортименте`)

	require.Equal(t, `Ручка гелевая "Помада"`, result.NameOriginal)
	require.NotNil(t, result.Brand)
	require.Equal(t, "With Love", *result.Brand)
	require.Equal(t, "PCE", string(result.Unit))
	require.Equal(t, "ручка гелевая помада", result.OriginalNameNoStopwords)
}

func TestFixPriceTitleParser_ExtractsPackageAndCount(t *testing.T) {
	p := &FixPriceTitleParser{Normalizer: textnorm.NewRussianNormalizer()}
	result := p.Parse("Шоколад молочный, 200 г, 15 шт, в ассортименте")

	require.Equal(t, "PCE", string(result.Unit))
	require.NotNil(t, result.AvailableCount)
	require.Equal(t, 15.0, *result.AvailableCount)
	require.NotNil(t, result.PackageUnit)
	require.Equal(t, "KGM", string(*result.PackageUnit))
	require.NotNil(t, result.PackageQuantity)
	require.InDelta(t, 0.2, *result.PackageQuantity, 0.0001)
}

func TestFixPriceTitleParser_ByWeightClearsPackageFields(t *testing.T) {
	p := &FixPriceTitleParser{Normalizer: textnorm.NewRussianNormalizer()}
	result := p.Parse("Сыр российский весовой, 1 кг")

	require.Equal(t, "KGM", string(result.Unit))
	require.Nil(t, result.AvailableCount)
	require.Nil(t, result.PackageQuantity)
	require.Nil(t, result.PackageUnit)
}

func TestNewFixPriceHandler_NormalizesCategoryAndComposition(t *testing.T) {
	handler := NewFixPriceHandler(textnorm.NewRussianNormalizer())

	category := "молочные продукты, яйца"
	composition := "сахар ,какао ,молоко"

	record := handler.Handle(model.RawObservation{
		ParserName:  "fixprice",
		Title:       "Шоколад молочный, 200 г",
		Category:    &category,
		Composition: &composition,
		ObservedAt:  time.Now(),
		Payload:     model.Value{},
	})

	require.NotNil(t, record.CategoryNormalized)
	require.Equal(t, "молочный продукт яйцо", *record.CategoryNormalized)
	require.NotNil(t, record.CompositionNormalized)
	require.Equal(t, "сахар, какао, молоко", *record.CompositionNormalized)
}
