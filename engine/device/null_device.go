package device

import (
	"fmt"
	"sync"
)

// NullDevice is a headless Device whose buffers live in process memory. It
// backs server-side and CI use of the batching subsystem (capacity planning,
// picking, bounds queries without a GPU) and doubles as the leak detector for
// the test suite: every allocation and release is counted.
type NullDevice interface {
	Device

	// LiveBuffers reports how many buffers are currently allocated and not
	// yet released.
	//
	// Returns:
	//   - int: the outstanding buffer count
	LiveBuffers() int

	// LiveBindings reports how many binding objects are currently allocated
	// and not yet released.
	//
	// Returns:
	//   - int: the outstanding binding count
	LiveBindings() int

	// BufferBytes returns the current contents of a buffer created by this
	// device, or nil if the buffer is foreign or released.
	//
	// Parameters:
	//   - buf: the buffer to inspect
	//
	// Returns:
	//   - []byte: the live backing bytes (not a copy)
	BufferBytes(buf Buffer) []byte

	// SetCreateError forces every subsequent Create* call to fail with err
	// until cleared with nil. Used to exercise device-exhaustion paths.
	//
	// Parameters:
	//   - err: the error to return, or nil to restore normal operation
	SetCreateError(err error)

	// SetCreateErrorAfter lets the next n Create* calls succeed, then fails
	// every one after that with err until cleared. Exercises partial-creation
	// cleanup paths.
	//
	// Parameters:
	//   - n: how many creations still succeed
	//   - err: the error to return afterwards
	SetCreateErrorAfter(n int, err error)
}

// nullDevice is the implementation of the NullDevice interface.
type nullDevice struct {
	mu            *sync.RWMutex
	maxBufferSize uint64
	liveBuffers   int
	liveBindings  int
	createErr     error
	succeedCount  int
}

var _ NullDevice = &nullDevice{}

// NewNullDevice creates a headless device with DefaultMaxBufferSize capacity.
//
// Parameters:
//   - options: a variadic list of NullDeviceBuilderOption functions
//
// Returns:
//   - NullDevice: the new device
func NewNullDevice(options ...NullDeviceBuilderOption) NullDevice {
	d := &nullDevice{
		mu:            &sync.RWMutex{},
		maxBufferSize: DefaultMaxBufferSize,
	}
	for _, option := range options {
		option(d)
	}
	return d
}

func (d *nullDevice) MaxBufferSize() uint64 {
	return d.maxBufferSize
}

func (d *nullDevice) CreateVertexBuffer(label string, data []byte) (Buffer, error) {
	return d.createBuffer(label, uint64(len(data)), data)
}

func (d *nullDevice) CreateIndexBuffer(label string, data []byte) (Buffer, error) {
	return d.createBuffer(label, uint64(len(data)), data)
}

func (d *nullDevice) CreateUniformBuffer(label string, size uint64) (Buffer, error) {
	return d.createBuffer(label, size, nil)
}

func (d *nullDevice) createBuffer(label string, size uint64, data []byte) (Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.takeCreateError(); err != nil {
		return nil, err
	}
	if size > d.maxBufferSize {
		return nil, fmt.Errorf("%w: %q needs %d bytes, limit is %d", ErrBufferTooLarge, label, size, d.maxBufferSize)
	}

	backing := make([]byte, size)
	copy(backing, data)
	d.liveBuffers++
	return &nullBuffer{owner: d, label: label, size: size, data: backing}, nil
}

func (d *nullDevice) WriteBuffer(buf Buffer, offset uint64, data []byte) error {
	nb, ok := buf.(*nullBuffer)
	if !ok || nb.owner != d {
		return fmt.Errorf("%w: %q", ErrForeignBuffer, buf.Label())
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if nb.data == nil {
		return fmt.Errorf("%w: %q", ErrReleasedBuffer, nb.label)
	}
	if offset+uint64(len(data)) > uint64(len(nb.data)) {
		return fmt.Errorf("device: write past end of buffer %q (offset %d + %d bytes > size %d)", nb.label, offset, len(data), len(nb.data))
	}
	copy(nb.data[offset:], data)
	return nil
}

func (d *nullDevice) CreateBinding(pipe Pipeline, uniform Buffer) (Binding, error) {
	nb, ok := uniform.(*nullBuffer)
	if !ok || nb.owner != d {
		return nil, fmt.Errorf("%w: %q", ErrForeignBuffer, uniform.Label())
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeCreateError(); err != nil {
		return nil, err
	}
	d.liveBindings++
	return &nullBinding{owner: d}, nil
}

// takeCreateError applies the configured failure policy to one creation.
// Caller holds the write lock.
func (d *nullDevice) takeCreateError() error {
	if d.createErr == nil {
		return nil
	}
	if d.succeedCount > 0 {
		d.succeedCount--
		return nil
	}
	return d.createErr
}

func (d *nullDevice) LiveBuffers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.liveBuffers
}

func (d *nullDevice) LiveBindings() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.liveBindings
}

func (d *nullDevice) BufferBytes(buf Buffer) []byte {
	nb, ok := buf.(*nullBuffer)
	if !ok || nb.owner != d {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return nb.data
}

func (d *nullDevice) SetCreateError(err error) {
	d.SetCreateErrorAfter(0, err)
}

func (d *nullDevice) SetCreateErrorAfter(n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.createErr = err
	d.succeedCount = n
}

// nullBuffer is a process-memory Buffer.
type nullBuffer struct {
	owner *nullDevice
	label string
	size  uint64
	data  []byte
}

var _ Buffer = &nullBuffer{}

func (b *nullBuffer) Label() string {
	return b.label
}

func (b *nullBuffer) Size() uint64 {
	return b.size
}

func (b *nullBuffer) Release() {
	b.owner.mu.Lock()
	defer b.owner.mu.Unlock()
	if b.data != nil {
		b.data = nil
		b.owner.liveBuffers--
	}
}

// nullBinding is a process-memory Binding.
type nullBinding struct {
	owner    *nullDevice
	released bool
}

var _ Binding = &nullBinding{}

func (b *nullBinding) Release() {
	b.owner.mu.Lock()
	defer b.owner.mu.Unlock()
	if !b.released {
		b.released = true
		b.owner.liveBindings--
	}
}
