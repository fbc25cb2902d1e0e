package ffi

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/thesyncim/libgoqsv/pkg/accel"
	"github.com/thesyncim/libgoqsv/pkg/codec"
)

// DefaultRenderNode is the DRM node opened when none is configured.
const DefaultRenderNode = "/dev/dri/renderD128"

var (
	ErrDeviceOpen    = errors.New("ffi: open device")
	ErrDeviceClosed  = errors.New("ffi: device closed")
	ErrSessionOpen   = errors.New("ffi: open session")
	ErrUnknownOutput = errors.New("ffi: runtime returned an unregistered surface")
)

// DeviceConfig selects the render node and logger of a Device.
type DeviceConfig struct {
	RenderNode string
	Logger     *slog.Logger
}

// DefaultDeviceConfig reads QSV_RENDER_NODE, falling back to
// DefaultRenderNode.
func DefaultDeviceConfig() DeviceConfig {
	node := os.Getenv(EnvRenderNode)
	if node == "" {
		node = DefaultRenderNode
	}
	return DeviceConfig{RenderNode: node}
}

// Device is an accelerator context bound to one display handle. It
// implements accel.Device; sessions created from it must be closed before
// the device.
type Device struct {
	handle uintptr
	node   string
	log    *slog.Logger

	mu       sync.Mutex
	closed   atomic.Bool
	sessions map[*Session]struct{}
}

var _ accel.Device = (*Device)(nil)

// OpenDevice loads the shim if needed and opens the render node.
func OpenDevice(cfg DeviceConfig) (*Device, error) {
	if cfg.RenderNode == "" {
		cfg.RenderNode = DefaultDeviceConfig().RenderNode
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "ffi", "render_node", cfg.RenderNode)

	if err := LoadLibrary(); err != nil {
		return nil, err
	}

	node := cString(cfg.RenderNode)
	var st int32
	h := shimDeviceOpen(addr(&node[0]), addr(&st))
	runtime.KeepAlive(node)
	if h == 0 {
		return nil, fmt.Errorf("%w %s: %v", ErrDeviceOpen, cfg.RenderNode, accel.Status(st))
	}

	log.Info("device opened", "shim_version", ShimVersion())
	return &Device{
		handle:   h,
		node:     cfg.RenderNode,
		log:      log,
		sessions: make(map[*Session]struct{}),
	}, nil
}

// NewSession implements accel.Device.
func (d *Device) NewSession(kind codec.Type) (accel.Session, error) {
	if d.closed.Load() {
		return nil, ErrDeviceClosed
	}
	id, ok := codecID(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %w: %v", ErrSessionOpen, accel.ErrUnsupported, kind)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var st int32
	h := shimSessionOpen(d.handle, id, addr(&st))
	if h == 0 {
		return nil, fmt.Errorf("%w: %v", ErrSessionOpen, accel.Status(st))
	}

	s := &Session{
		dev:        d,
		handle:     h,
		log:        d.log.With("codec", kind.String()),
		surfaces:   make(map[*accel.Surface]*surfaceEntry),
		byAddr:     make(map[uintptr]*surfaceEntry),
		bitstreams: make(map[*accel.Bitstream]*bitstreamEntry),
		pending:    make(map[accel.SyncPoint]*bitstreamEntry),
	}
	d.sessions[s] = struct{}{}
	return s, nil
}

// Close closes every open session and the device.
func (d *Device) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	d.mu.Lock()
	open := make([]*Session, 0, len(d.sessions))
	for s := range d.sessions {
		open = append(open, s)
	}
	d.mu.Unlock()

	for _, s := range open {
		_ = s.Close()
	}
	shimDeviceClose(d.handle)
	d.log.Debug("device closed")
	return nil
}

func (d *Device) forget(s *Session) {
	d.mu.Lock()
	delete(d.sessions, s)
	d.mu.Unlock()
}

type surfaceEntry struct {
	surface *accel.Surface
	shim    *shimSurface
	data    runtime.Pinner
	y, uv   *byte
}

type bitstreamEntry struct {
	bs   *accel.Bitstream
	shim *shimBitstream
	data runtime.Pinner
	buf  *byte
}

// Session is one runtime codec session. The runtime keeps pointers to the
// flat surface and bitstream structs across calls, so every struct handed to
// it is pinned until Close, and surface memory stays pinned while bound.
type Session struct {
	dev    *Device
	handle uintptr
	log    *slog.Logger

	mu     sync.Mutex
	closed bool
	pinner runtime.Pinner

	surfaces   map[*accel.Surface]*surfaceEntry
	byAddr     map[uintptr]*surfaceEntry
	bitstreams map[*accel.Bitstream]*bitstreamEntry
	pending    map[accel.SyncPoint]*bitstreamEntry
}

var _ accel.Session = (*Session)(nil)

func addr[T any](p *T) uintptr { return uintptr(unsafe.Pointer(p)) }

// bindSurface returns the pinned mirror of surf with its current storage.
func (s *Session) bindSurface(surf *accel.Surface) *surfaceEntry {
	e, ok := s.surfaces[surf]
	if !ok {
		e = &surfaceEntry{surface: surf, shim: new(shimSurface)}
		s.pinner.Pin(e.shim)
		s.surfaces[surf] = e
		s.byAddr[addr(e.shim)] = e
	}

	var y, uv *byte
	if len(surf.Y) > 0 {
		y = &surf.Y[0]
	}
	if len(surf.UV) > 0 {
		uv = &surf.UV[0]
	}
	if y != e.y || uv != e.uv {
		if atomic.LoadInt32(&e.shim.Locked) == 0 {
			e.data.Unpin()
		}
		if y != nil {
			e.data.Pin(y)
		}
		if uv != nil {
			e.data.Pin(uv)
		}
		e.y, e.uv = y, uv
	}

	e.shim.Info = toShimFrameInfo(surf.Info)
	e.shim.Y = addr(y)
	e.shim.UV = addr(uv)
	e.shim.Pitch = int32(surf.Pitch)
	e.shim.PTS = surf.PTS
	e.shim.PTSValid = boolInt(surf.PTSValid)
	e.shim.ID = int32(surf.ID)
	return e
}

// bindBitstream returns the pinned mirror of bs.
func (s *Session) bindBitstream(bs *accel.Bitstream) *bitstreamEntry {
	e, ok := s.bitstreams[bs]
	if !ok {
		e = &bitstreamEntry{bs: bs, shim: new(shimBitstream)}
		s.pinner.Pin(e.shim)
		s.bitstreams[bs] = e
	}

	var buf *byte
	if len(bs.Data) > 0 {
		buf = &bs.Data[0]
	}
	if buf != e.buf {
		e.data.Unpin()
		if buf != nil {
			e.data.Pin(buf)
		}
		e.buf = buf
	}

	*e.shim = shimBitstream{
		Data:      addr(buf),
		Offset:    uint32(bs.Offset),
		Length:    uint32(bs.Length),
		MaxLength: uint32(len(bs.Data)),
		PTS:       bs.PTS,
		DTS:       bs.DTS,
	}
	return e
}

// mirrorLocks copies runtime lock counts into the accel surfaces.
func (s *Session) mirrorLocks() {
	for _, e := range s.surfaces {
		e.surface.SetLockCount(atomic.LoadInt32(&e.shim.Locked))
	}
}

func (s *Session) usable() accel.Status {
	if s.closed {
		return accel.StatusNotInitialized
	}
	return accel.StatusOK
}

// DecodeHeader implements accel.Session.
func (s *Session) DecodeHeader(bs *accel.Bitstream) (accel.VideoParam, accel.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.usable(); st != accel.StatusOK {
		return accel.VideoParam{}, st
	}

	e := s.bindBitstream(bs)
	var out shimVideoParam
	st := accel.Status(shimDecodeHeader(s.handle, addr(e.shim), addr(&out)))
	return fromShimParam(out), st
}

// InitDecoder implements accel.Session.
func (s *Session) InitDecoder(params *accel.VideoParam) accel.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.usable(); st != accel.StatusOK {
		return st
	}

	p := toShimParam(params)
	return accel.Status(shimDecoderInit(s.handle, addr(&p)))
}

// QueryDecodeSurfaces implements accel.Session.
func (s *Session) QueryDecodeSurfaces(params *accel.VideoParam) (int, accel.Status) {
	return s.querySurfaces(params, false)
}

// QueryEncodeSurfaces implements accel.Session.
func (s *Session) QueryEncodeSurfaces(params *accel.VideoParam) (int, accel.Status) {
	return s.querySurfaces(params, true)
}

func (s *Session) querySurfaces(params *accel.VideoParam, encode bool) (int, accel.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.usable(); st != accel.StatusOK {
		return 0, st
	}

	p := toShimParam(params)
	var n int32
	st := accel.Status(shimQuerySurfaces(s.handle, boolInt(encode), addr(&p), addr(&n)))
	return int(n), st
}

// DecodeFrameAsync implements accel.Session.
func (s *Session) DecodeFrameAsync(bs *accel.Bitstream, work *accel.Surface) (*accel.Surface, accel.SyncPoint, accel.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.usable(); st != accel.StatusOK {
		return nil, 0, st
	}

	var be *bitstreamEntry
	var bsPtr uintptr
	if bs != nil {
		be = s.bindBitstream(bs)
		bsPtr = addr(be.shim)
	}
	var workPtr uintptr
	if work != nil {
		workPtr = addr(s.bindSurface(work).shim)
	}

	var out uintptr
	var sp uint64
	st := accel.Status(shimDecodeAsync(s.handle, bsPtr, workPtr, addr(&out), addr(&sp)))
	if be != nil {
		bs.Offset = int(be.shim.Offset)
		bs.Length = int(be.shim.Length)
	}
	s.mirrorLocks()

	if out == 0 {
		return nil, accel.SyncPoint(sp), st
	}
	oe, ok := s.byAddr[out]
	if !ok {
		s.log.Error("unregistered output surface", "status", st)
		return nil, 0, accel.StatusUndefinedBehavior
	}
	oe.surface.PTS = oe.shim.PTS
	oe.surface.PTSValid = oe.shim.PTSValid != 0
	return oe.surface, accel.SyncPoint(sp), st
}

// InitEncoder implements accel.Session.
func (s *Session) InitEncoder(params *accel.VideoParam) (accel.VideoParam, accel.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.usable(); st != accel.StatusOK {
		return accel.VideoParam{}, st
	}

	p := toShimParam(params)
	st := accel.Status(shimEncoderInit(s.handle, addr(&p)))
	applied := fromShimParam(p)
	if applied.Codec == codec.None {
		applied.Codec = params.Codec
	}
	return applied, st
}

// EncodeFrameAsync implements accel.Session. The output length and
// timestamps land in bs when its sync point completes.
func (s *Session) EncodeFrameAsync(surf *accel.Surface, bs *accel.Bitstream) (accel.SyncPoint, accel.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.usable(); st != accel.StatusOK {
		return 0, st
	}

	be := s.bindBitstream(bs)
	var surfPtr uintptr
	if surf != nil {
		surfPtr = addr(s.bindSurface(surf).shim)
	}

	var sp uint64
	st := accel.Status(shimEncodeAsync(s.handle, surfPtr, addr(be.shim), addr(&sp)))
	s.mirrorLocks()
	if sp != 0 {
		s.pending[accel.SyncPoint(sp)] = be
	}
	return accel.SyncPoint(sp), st
}

// SyncOperation implements accel.Session.
func (s *Session) SyncOperation(sp accel.SyncPoint, wait time.Duration) accel.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.usable(); st != accel.StatusOK {
		return st
	}

	st := accel.Status(shimSyncOperation(s.handle, uint64(sp), uint32(wait.Milliseconds())))
	s.mirrorLocks()
	if st == accel.StatusInExecution {
		return st
	}

	if be, ok := s.pending[sp]; ok {
		delete(s.pending, sp)
		if !st.IsError() {
			be.bs.Offset = int(be.shim.Offset)
			be.bs.Length = int(be.shim.Length)
			be.bs.PTS = be.shim.PTS
			be.bs.DTS = be.shim.DTS
			be.bs.FrameType = frameTypeFromBits(be.shim.FrameType)
		}
	}
	return st
}

// Close implements accel.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	shimSessionClose(s.handle)
	for _, e := range s.surfaces {
		e.data.Unpin()
		e.surface.SetLockCount(0)
	}
	for _, e := range s.bitstreams {
		e.data.Unpin()
	}
	s.pinner.Unpin()
	clear(s.surfaces)
	clear(s.byAddr)
	clear(s.bitstreams)
	clear(s.pending)

	s.dev.forget(s)
	return nil
}
