package geometry

// StoreBuilderOption is a function that configures the geometry store during
// creation.
type StoreBuilderOption func(*store)

// WithZUpSource enables Z-up to Y-up axis conversion at fragment admission.
// Building-model exporters typically emit Z-up data; converting once at the
// store boundary keeps every downstream consumer on one convention.
//
// Parameters:
//   - enabled: whether incoming geometry is Z-up
//
// Returns:
//   - StoreBuilderOption: the option function
func WithZUpSource(enabled bool) StoreBuilderOption {
	return func(s *store) {
		s.zUpSource = enabled
	}
}
