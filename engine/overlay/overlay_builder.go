package overlay

// ManagerBuilderOption is a function that configures the overlay manager
// during creation.
type ManagerBuilderOption func(*manager)

// WithCapacityBytes caps the byte size of a single overlay batch. Zero (the
// default) means "ask the device for its maximum safe buffer size per
// override".
//
// Parameters:
//   - capacity: the overlay batch capacity in bytes
//
// Returns:
//   - ManagerBuilderOption: the option function
func WithCapacityBytes(capacity uint64) ManagerBuilderOption {
	return func(m *manager) {
		m.capacityBytes = capacity
	}
}
