package stream

// CoordinatorBuilderOption is a function that configures the streaming
// coordinator during creation.
type CoordinatorBuilderOption func(*coordinator)

// WithCapacityBytes caps the byte size of a single fragment-batch. Zero (the
// default) means "ask the device for its maximum safe buffer size per
// increment".
//
// Parameters:
//   - capacity: the fragment-batch capacity in bytes
//
// Returns:
//   - CoordinatorBuilderOption: the option function
func WithCapacityBytes(capacity uint64) CoordinatorBuilderOption {
	return func(c *coordinator) {
		c.capacityBytes = capacity
	}
}
