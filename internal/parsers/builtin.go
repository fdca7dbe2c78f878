package parsers

import "github.com/Open-Inflation/converter/internal/textnorm"

// RegisterBuiltinHandlers wires every known source parser into registry
// under its normal name. Grounded on
// original_source/converter/parsers/__init__.py's register_builtin_handlers,
// widened to also register chizhik and perekrestok: the original function
// only calls fixprice.register even though chizhik/__init__.py and
// perekrestok/__init__.py both define a register(registry) of their own,
// leaving them dead code in that source tree. This repository registers
// all three so SyncJob can target any of them by name.
func RegisterBuiltinHandlers(registry *Registry, normalizer textnorm.Normalizer) error {
	for _, handler := range []Handler{
		NewFixPriceHandler(normalizer),
		NewChizhikHandler(normalizer),
		NewPerekrestokHandler(normalizer),
	} {
		if err := registry.Register(handler); err != nil {
			return err
		}
	}
	return nil
}
