package ffi

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/thesyncim/libgoqsv/pkg/accel"
	"github.com/thesyncim/libgoqsv/pkg/codec"
)

func TestGetLibraryNameFor(t *testing.T) {
	tests := []struct {
		goos string
		want string
	}{
		{"darwin", "libqsv_shim.dylib"},
		{"windows", "libqsv_shim.dll"},
		{"linux", "libqsv_shim.so"},
		{"freebsd", "libqsv_shim.so"},
	}
	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			if got := getLibraryNameFor(tt.goos); got != tt.want {
				t.Errorf("getLibraryNameFor(%q) = %q, want %q", tt.goos, got, tt.want)
			}
		})
	}
}

func TestFindLocalLibraryFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "libqsv_shim.so")
	if err := os.WriteFile(path, []byte("not a library"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvShimPath, path)

	got, ok := findLocalLibrary()
	if !ok || got != path {
		t.Errorf("findLocalLibrary() = %q, %v, want %q", got, ok, path)
	}
	if got := resolveLibrary(); got != path {
		t.Errorf("resolveLibrary() = %q, want %q", got, path)
	}
}

func TestResolveLibraryFallsBackToName(t *testing.T) {
	t.Setenv(EnvShimPath, filepath.Join(t.TempDir(), "missing.so"))
	if _, ok := findLocalLibrary(); ok {
		t.Skip("a shim is installed under lib/")
	}
	if got := resolveLibrary(); got != getLibraryName() {
		t.Errorf("resolveLibrary() = %q, want %q", got, getLibraryName())
	}
}

func TestLoadLibraryRejectsInvalidFile(t *testing.T) {
	if IsLoaded() {
		t.Skip("shim already loaded")
	}
	path := filepath.Join(t.TempDir(), "libqsv_shim.so")
	if err := os.WriteFile(path, []byte("not a library"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvShimPath, path)

	err := LoadLibrary()
	if err == nil {
		_ = Close()
		t.Fatal("LoadLibrary() succeeded on a text file")
	}
	if !errors.Is(err, ErrLibraryNotFound) && !errors.Is(err, ErrUnsupportedPlatform) {
		t.Errorf("LoadLibrary() error = %v, want %v", err, ErrLibraryNotFound)
	}
	if IsLoaded() {
		t.Error("IsLoaded() = true after failed load")
	}
	if v := ShimVersion(); v != "" {
		t.Errorf("ShimVersion() = %q, want empty", v)
	}
}

func TestDefaultDeviceConfig(t *testing.T) {
	t.Setenv(EnvRenderNode, "")
	if got := DefaultDeviceConfig().RenderNode; got != DefaultRenderNode {
		t.Errorf("RenderNode = %q, want %q", got, DefaultRenderNode)
	}
	t.Setenv(EnvRenderNode, "/dev/dri/renderD129")
	if got := DefaultDeviceConfig().RenderNode; got != "/dev/dri/renderD129" {
		t.Errorf("RenderNode = %q, want override", got)
	}
}

func TestStructSizes(t *testing.T) {
	if unsafe.Sizeof(uintptr(0)) != 8 {
		t.Skip("layout checked on 64-bit targets")
	}
	tests := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"QsvFrameInfo", unsafe.Sizeof(shimFrameInfo{}), 40},
		{"QsvVideoParam", unsafe.Sizeof(shimVideoParam{}), 84},
		{"QsvSurface", unsafe.Sizeof(shimSurface{}), 80},
		{"QsvBitstream", unsafe.Sizeof(shimBitstream{}), 40},
		{"QsvSurface.Y", unsafe.Offsetof(shimSurface{}.Y), 40},
		{"QsvSurface.PTS", unsafe.Offsetof(shimSurface{}.PTS), 64},
		{"QsvBitstream.PTS", unsafe.Offsetof(shimBitstream{}.PTS), 24},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("size = %d, want %d", tt.got, tt.want)
			}
		})
	}
}

func TestParamConversion(t *testing.T) {
	in := accel.VideoParam{
		Codec: codec.HEVC,
		Frame: accel.FrameInfo{
			FourCC: accel.FourCCP010, Width: 1920, Height: 1088, CropW: 1920, CropH: 1080,
			BitDepth: 10, Shift: true, FrameRateN: 30000, FrameRateD: 1001, PicStruct: accel.PicStructProgressive,
		},
		AsyncDepth:  4,
		IOPattern:   accel.IOPatternInSystemMemory,
		TargetUsage: accel.TargetUsageBestSpeed,
		RateControl: accel.RateControlVBR,
		TargetKbps:  4000,
		MaxKbps:     8000,
		BufferKB:    1000,
		GopPicSize:  60,
		GopRefDist:  1,
	}
	p := toShimParam(&in)
	if p.Codec != codecIDHEVC {
		t.Errorf("codec id = %#x, want %#x", p.Codec, codecIDHEVC)
	}
	if out := fromShimParam(p); out != in {
		t.Errorf("fromShimParam(toShimParam(p)) = %+v, want %+v", out, in)
	}
}

func TestCodecID(t *testing.T) {
	if _, ok := codecID(codec.None); ok {
		t.Error("codecID(None) reported ok")
	}
	for _, c := range []codec.Type{codec.AVC, codec.HEVC} {
		id, ok := codecID(c)
		if !ok || codecFromID(id) != c {
			t.Errorf("codecFromID(codecID(%v)) = %v", c, codecFromID(id))
		}
	}
}

func TestFrameTypeFromBits(t *testing.T) {
	tests := []struct {
		bits uint32
		want codec.FrameType
	}{
		{frameTypeI | frameTypeIDR, codec.FrameIDR},
		{frameTypeI, codec.FrameI},
		{frameTypeP, codec.FrameP},
		{frameTypeB, codec.FrameB},
		{0, codec.FrameUnknown},
	}
	for _, tt := range tests {
		if got := frameTypeFromBits(tt.bits); got != tt.want {
			t.Errorf("frameTypeFromBits(%#x) = %v, want %v", tt.bits, got, tt.want)
		}
	}
}

func TestSessionBindings(t *testing.T) {
	s := &Session{
		surfaces:   make(map[*accel.Surface]*surfaceEntry),
		byAddr:     make(map[uintptr]*surfaceEntry),
		bitstreams: make(map[*accel.Bitstream]*bitstreamEntry),
		pending:    make(map[accel.SyncPoint]*bitstreamEntry),
	}
	defer func() {
		for _, e := range s.surfaces {
			e.data.Unpin()
		}
		for _, e := range s.bitstreams {
			e.data.Unpin()
		}
		s.pinner.Unpin()
	}()

	surf := &accel.Surface{ID: 3, Y: make([]byte, 64), UV: make([]byte, 32), Pitch: 8, PTS: 9000, PTSValid: true}
	e := s.bindSurface(surf)
	if e.shim.Y != addr(&surf.Y[0]) || e.shim.Pitch != 8 || e.shim.PTS != 9000 || e.shim.ID != 3 {
		t.Errorf("bound surface = %+v", *e.shim)
	}
	if s.byAddr[addr(e.shim)] != e {
		t.Error("surface not registered by address")
	}

	bound := make([]byte, 64)
	surf.Y = bound
	if again := s.bindSurface(surf); again != e || e.shim.Y != addr(&bound[0]) {
		t.Error("rebinding did not follow the new storage")
	}

	e.shim.Locked = 2
	s.mirrorLocks()
	if !surf.Locked() {
		t.Error("lock count not mirrored")
	}

	bs := &accel.Bitstream{Data: make([]byte, 128), Offset: 4, Length: 10, PTS: 42}
	be := s.bindBitstream(bs)
	if be.shim.MaxLength != 128 || be.shim.Offset != 4 || be.shim.Length != 10 || be.shim.PTS != 42 {
		t.Errorf("bound bitstream = %+v", *be.shim)
	}
}
