package picking

// PickerBuilderOption is a function that configures the picker during
// creation.
type PickerBuilderOption func(*picker)

// WithDefaultMaxDistance sets a default hit-distance cutoff applied to every
// raycast. Individual calls can still override it with WithMaxDistance.
// Values of zero or below mean unlimited.
//
// Parameters:
//   - distance: the default cutoff distance
//
// Returns:
//   - PickerBuilderOption: the option function
func WithDefaultMaxDistance(distance float32) PickerBuilderOption {
	return func(p *picker) {
		if distance > 0 {
			p.maxDistance = distance
		}
	}
}
