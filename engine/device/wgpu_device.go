package device

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// DefaultMaxBufferSize is the assumed maximum buffer allocation when the host
// does not supply the queried device limit. 256 MiB is the WebGPU default
// maxBufferSize, so it is safe on any conformant adapter.
const DefaultMaxBufferSize uint64 = 256 << 20

// wgpuDevice adapts a WebGPU device and queue to the Device interface.
type wgpuDevice struct {
	device        *wgpu.Device
	queue         *wgpu.Queue
	maxBufferSize uint64
}

var _ Device = &wgpuDevice{}

// NewWGPUDevice wraps an already-created WebGPU device and queue. Surface and
// adapter acquisition stay with the host; this subsystem never opens a window.
// Panics if dev or queue is nil. Pass WithMaxBufferSize with the host's
// queried device limit to raise the conservative default.
//
// Parameters:
//   - dev: the WebGPU device (must not be nil)
//   - queue: the device's queue (must not be nil)
//   - options: a variadic list of WGPUDeviceBuilderOption functions
//
// Returns:
//   - Device: the adapter
func NewWGPUDevice(dev *wgpu.Device, queue *wgpu.Queue, options ...WGPUDeviceBuilderOption) Device {
	if dev == nil {
		panic("device: NewWGPUDevice requires a non-nil *wgpu.Device")
	}
	if queue == nil {
		panic("device: NewWGPUDevice requires a non-nil *wgpu.Queue")
	}

	d := &wgpuDevice{
		device:        dev,
		queue:         queue,
		maxBufferSize: DefaultMaxBufferSize,
	}
	for _, option := range options {
		option(d)
	}
	return d
}

func (d *wgpuDevice) MaxBufferSize() uint64 {
	return d.maxBufferSize
}

func (d *wgpuDevice) CreateVertexBuffer(label string, data []byte) (Buffer, error) {
	return d.createBuffer(label, data, wgpu.BufferUsageVertex|wgpu.BufferUsageCopyDst)
}

func (d *wgpuDevice) CreateIndexBuffer(label string, data []byte) (Buffer, error) {
	return d.createBuffer(label, data, wgpu.BufferUsageIndex|wgpu.BufferUsageCopyDst)
}

func (d *wgpuDevice) CreateUniformBuffer(label string, size uint64) (Buffer, error) {
	if size > d.maxBufferSize {
		return nil, fmt.Errorf("%w: %q needs %d bytes, limit is %d", ErrBufferTooLarge, label, size, d.maxBufferSize)
	}
	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create uniform buffer %q: %w", label, err)
	}
	return &wgpuBuffer{label: label, size: size, buffer: buf}, nil
}

func (d *wgpuDevice) createBuffer(label string, data []byte, usage wgpu.BufferUsage) (Buffer, error) {
	size := uint64(len(data))
	if size > d.maxBufferSize {
		return nil, fmt.Errorf("%w: %q needs %d bytes, limit is %d", ErrBufferTooLarge, label, size, d.maxBufferSize)
	}
	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer %q: %w", label, err)
	}
	if len(data) > 0 {
		if err := d.queue.WriteBuffer(buf, 0, data); err != nil {
			buf.Release()
			return nil, fmt.Errorf("failed to upload buffer %q: %w", label, err)
		}
	}
	return &wgpuBuffer{label: label, size: size, buffer: buf}, nil
}

func (d *wgpuDevice) WriteBuffer(buf Buffer, offset uint64, data []byte) error {
	wb, ok := buf.(*wgpuBuffer)
	if !ok {
		return fmt.Errorf("%w: %q", ErrForeignBuffer, buf.Label())
	}
	if wb.buffer == nil {
		return fmt.Errorf("%w: %q", ErrReleasedBuffer, wb.label)
	}
	if err := d.queue.WriteBuffer(wb.buffer, offset, data); err != nil {
		return fmt.Errorf("failed to write buffer %q: %w", wb.label, err)
	}
	return nil
}

func (d *wgpuDevice) CreateBinding(pipe Pipeline, uniform Buffer) (Binding, error) {
	layout, ok := pipe.BindingLayout().(*wgpu.BindGroupLayout)
	if !ok || layout == nil {
		return nil, fmt.Errorf("device: pipeline %q does not carry a *wgpu.BindGroupLayout", pipe.PipelineKey())
	}
	wb, ok := uniform.(*wgpuBuffer)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrForeignBuffer, uniform.Label())
	}
	if wb.buffer == nil {
		return nil, fmt.Errorf("%w: %q", ErrReleasedBuffer, wb.label)
	}

	bindGroup, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  wb.label + " Bind Group",
		Layout: layout,
		Entries: []wgpu.BindGroupEntry{
			{
				Binding: 0,
				Buffer:  wb.buffer,
				Offset:  0,
				Size:    wgpu.WholeSize,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bind group for %q: %w", wb.label, err)
	}
	return &wgpuBinding{bindGroup: bindGroup}, nil
}

// wgpuBuffer wraps a *wgpu.Buffer with its creation metadata.
type wgpuBuffer struct {
	label  string
	size   uint64
	buffer *wgpu.Buffer
}

var _ Buffer = &wgpuBuffer{}

func (b *wgpuBuffer) Label() string {
	return b.label
}

func (b *wgpuBuffer) Size() uint64 {
	return b.size
}

func (b *wgpuBuffer) Release() {
	if b.buffer != nil {
		b.buffer.Release()
		b.buffer = nil
	}
}

// wgpuBinding wraps a *wgpu.BindGroup.
type wgpuBinding struct {
	bindGroup *wgpu.BindGroup
}

var _ Binding = &wgpuBinding{}

func (b *wgpuBinding) Release() {
	if b.bindGroup != nil {
		b.bindGroup.Release()
		b.bindGroup = nil
	}
}

// BindGroup exposes the underlying bind group for the host's draw loop.
// Returns nil after Release.
//
// Returns:
//   - *wgpu.BindGroup: the wrapped bind group
func (b *wgpuBinding) BindGroup() *wgpu.BindGroup {
	return b.bindGroup
}

// wgpuPipeline adapts the host's pipeline objects to the Pipeline interface.
type wgpuPipeline struct {
	pipelineKey string
	layout      *wgpu.BindGroupLayout
	uniformSize uint64
}

var _ Pipeline = &wgpuPipeline{}

// NewWGPUPipeline describes a host render pipeline to the batching subsystem:
// its cache key, the bind group layout batches bind their uniform against,
// and the uniform size to allocate per batch. Panics if layout is nil.
//
// Parameters:
//   - pipelineKey: the unique key for this pipeline
//   - layout: the bind group layout for per-batch uniforms (must not be nil)
//   - uniformSize: the per-batch uniform buffer size in bytes
//
// Returns:
//   - Pipeline: the adapter
func NewWGPUPipeline(pipelineKey string, layout *wgpu.BindGroupLayout, uniformSize uint64) Pipeline {
	if layout == nil {
		panic("device: NewWGPUPipeline requires a non-nil *wgpu.BindGroupLayout")
	}
	return &wgpuPipeline{
		pipelineKey: pipelineKey,
		layout:      layout,
		uniformSize: uniformSize,
	}
}

func (p *wgpuPipeline) PipelineKey() string {
	return p.pipelineKey
}

func (p *wgpuPipeline) UniformSize() uint64 {
	return p.uniformSize
}

func (p *wgpuPipeline) BindingLayout() any {
	return p.layout
}
