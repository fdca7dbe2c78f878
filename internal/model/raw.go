package model

import "time"

// Unit is the enumerated unit of sale for a product.
type Unit string

const (
	UnitPiece  Unit = "PCE"
	UnitWeight Unit = "KGM"
	UnitVolume Unit = "LTR"
)

// PackageUnit is the enumerated unit for package_quantity. Only KGM and
// LTR are valid; a bare piece count has no package unit.
type PackageUnit string

const (
	PackageUnitWeight PackageUnit = "KGM"
	PackageUnitVolume PackageUnit = "LTR"
)

// ParseUnit normalizes an arbitrary upstream token into a Unit,
// returning ("", false) for anything unrecognized so the caller can
// leave the field unset rather than failing the record.
func ParseUnit(raw string) (Unit, bool) {
	switch Unit(raw) {
	case UnitPiece, UnitWeight, UnitVolume:
		return Unit(raw), true
	default:
		return "", false
	}
}

// ParsePackageUnit normalizes an arbitrary upstream token into a
// PackageUnit.
func ParsePackageUnit(raw string) (PackageUnit, bool) {
	switch PackageUnit(raw) {
	case PackageUnitWeight, PackageUnitVolume:
		return PackageUnit(raw), true
	default:
		return "", false
	}
}

// RawObservation is one product observation as read from the receiver
// store, before any per-source normalization has been applied.
type RawObservation struct {
	ParserName string
	Title      string

	SourceID *string
	PLU      *string
	SKU      *string
	Brand    *string

	Unit            *Unit
	AvailableCount  *float64
	PackageQuantity *float64
	PackageUnit     *PackageUnit

	Category    *string
	Geo         *string
	Composition *string

	ImageURLs []string

	ObservedAt time.Time
	Payload    Value
}

// IdentityCandidate pairs an identity type (plu, sku, source_id) with
// its value, used by CatalogWriter's identity resolution priority
// order.
type IdentityCandidate struct {
	Type  string
	Value string
}
