package device

// WGPUDeviceBuilderOption is a function that configures the WebGPU device
// adapter during creation.
type WGPUDeviceBuilderOption func(*wgpuDevice)

// WithMaxBufferSize overrides the assumed maximum buffer allocation size.
// Hosts should pass the MaxBufferSize reported by their adapter's limits;
// values of zero are ignored.
//
// Parameters:
//   - size: the maximum buffer size in bytes
//
// Returns:
//   - WGPUDeviceBuilderOption: the option function
func WithMaxBufferSize(size uint64) WGPUDeviceBuilderOption {
	return func(d *wgpuDevice) {
		if size > 0 {
			d.maxBufferSize = size
		}
	}
}
