package device

// NullDeviceBuilderOption is a function that configures the headless device
// during creation.
type NullDeviceBuilderOption func(*nullDevice)

// WithNullMaxBufferSize sets the capacity the headless device reports and
// enforces. Values of zero are ignored. Tests use small capacities here to
// exercise bucket splitting without megabytes of fixture data.
//
// Parameters:
//   - size: the maximum buffer size in bytes
//
// Returns:
//   - NullDeviceBuilderOption: the option function
func WithNullMaxBufferSize(size uint64) NullDeviceBuilderOption {
	return func(d *nullDevice) {
		if size > 0 {
			d.maxBufferSize = size
		}
	}
}
