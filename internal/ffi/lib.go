// Package ffi binds the libqsv_shim accelerator library through purego and
// exposes it as an accel.Device.
//
// The shim is a thin C layer over the vendor media runtime: it flattens the
// runtime's parameter blocks into the structs in structs.go and returns raw
// runtime status codes, which map one to one onto accel.Status.
package ffi

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"
)

var (
	// ErrLibraryNotLoaded is returned when the shim library hasn't been loaded.
	ErrLibraryNotLoaded = errors.New("libqsv_shim library not loaded")

	// ErrLibraryNotFound is returned when the shim library cannot be found.
	ErrLibraryNotFound = errors.New("libqsv_shim library not found")

	// ErrUnsupportedPlatform is returned where purego cannot load libraries.
	ErrUnsupportedPlatform = errors.New("libqsv_shim: unsupported platform")

	// ErrVersionMismatch is returned when the shim ABI doesn't match.
	ErrVersionMismatch = errors.New("shim version mismatch")
)

// ExpectedShimVersion is the shim ABI version this package binds.
const ExpectedShimVersion = "1.0"

// Environment overrides.
const (
	EnvShimPath   = "LIBQSV_SHIM_PATH"
	EnvRenderNode = "QSV_RENDER_NODE"
)

var (
	libHandle uintptr
	libLoaded atomic.Bool
	libMu     sync.Mutex
)

// Shim entry points, populated by registerFunctions.
var (
	shimVersion       func() uintptr
	shimDeviceOpen    func(renderNode uintptr, status uintptr) uintptr
	shimDeviceClose   func(device uintptr)
	shimSessionOpen   func(device uintptr, codec uint32, status uintptr) uintptr
	shimSessionClose  func(session uintptr)
	shimDecodeHeader  func(session, bs, param uintptr) int32
	shimDecoderInit   func(session, param uintptr) int32
	shimQuerySurfaces func(session uintptr, encode int32, param, count uintptr) int32
	shimDecodeAsync   func(session, bs, work, out, sp uintptr) int32
	shimEncoderInit   func(session, param uintptr) int32
	shimEncodeAsync   func(session, surface, bs, sp uintptr) int32
	shimSyncOperation func(session uintptr, sp uint64, waitMs uint32) int32
)

func registerFunctions(handle uintptr) error {
	table := []struct {
		fptr any
		name string
	}{
		{&shimVersion, "qsv_shim_version"},
		{&shimDeviceOpen, "qsv_device_open"},
		{&shimDeviceClose, "qsv_device_close"},
		{&shimSessionOpen, "qsv_session_open"},
		{&shimSessionClose, "qsv_session_close"},
		{&shimDecodeHeader, "qsv_decode_header"},
		{&shimDecoderInit, "qsv_decoder_init"},
		{&shimQuerySurfaces, "qsv_query_surfaces"},
		{&shimDecodeAsync, "qsv_decode_frame_async"},
		{&shimEncoderInit, "qsv_encoder_init"},
		{&shimEncodeAsync, "qsv_encode_frame_async"},
		{&shimSyncOperation, "qsv_sync_operation"},
	}
	for _, fn := range table {
		if err := bindFunction(handle, fn.fptr, fn.name); err != nil {
			return fmt.Errorf("bind %s: %w", fn.name, err)
		}
	}
	return nil
}

// LoadLibrary loads the libqsv_shim shared library.
// It searches in the following locations:
// 1. Path specified by LIBQSV_SHIM_PATH environment variable
// 2. ./lib/{os}_{arch}/ relative to the executable, working directory and module
// 3. System library paths
func LoadLibrary() error {
	libMu.Lock()
	defer libMu.Unlock()

	if libLoaded.Load() {
		return nil
	}

	libPath := resolveLibrary()
	handle, err := dlopenLibrary(libPath, RTLD_NOW|RTLD_GLOBAL)
	if err != nil {
		if errors.Is(err, ErrUnsupportedPlatform) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", ErrLibraryNotFound, libPath, err)
	}

	if err := registerFunctions(handle); err != nil {
		_ = dlcloseLibrary(handle)
		return err
	}
	if v := goString(shimVersion()); v != ExpectedShimVersion {
		_ = dlcloseLibrary(handle)
		return fmt.Errorf("%w: shim version %q, expected %q", ErrVersionMismatch, v, ExpectedShimVersion)
	}

	libHandle = handle
	libLoaded.Store(true)
	return nil
}

// IsLoaded returns true if the shim library is loaded.
func IsLoaded() bool {
	return libLoaded.Load()
}

// Close unloads the shim library. Devices must be closed first.
func Close() error {
	libMu.Lock()
	defer libMu.Unlock()

	if !libLoaded.Load() {
		return nil
	}
	if err := dlcloseLibrary(libHandle); err != nil {
		return err
	}
	libLoaded.Store(false)
	libHandle = 0
	return nil
}

// ShimVersion returns the loaded shim's ABI version, or "" if not loaded.
func ShimVersion() string {
	if !libLoaded.Load() {
		return ""
	}
	return goString(shimVersion())
}

// resolveLibrary returns a local shim if one exists, otherwise the bare
// library name so the dynamic loader searches system paths.
func resolveLibrary() string {
	if path, ok := findLocalLibrary(); ok {
		return path
	}
	return getLibraryName()
}

func findLocalLibrary() (string, bool) {
	if path := os.Getenv(EnvShimPath); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}

	libName := getLibraryName()
	platformDir := fmt.Sprintf("%s_%s", runtime.GOOS, runtime.GOARCH)

	var searchPaths []string
	if execPath, err := os.Executable(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(filepath.Dir(execPath), "lib", platformDir, libName))
	}
	if wd, err := os.Getwd(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(wd, "lib", platformDir, libName),
			filepath.Join(wd, "..", "lib", platformDir, libName),
			filepath.Join(wd, "..", "..", "lib", platformDir, libName),
		)
	}
	// thisFile is .../internal/ffi/lib.go
	if _, thisFile, _, ok := runtime.Caller(0); ok {
		moduleRoot := filepath.Dir(filepath.Dir(filepath.Dir(thisFile)))
		searchPaths = append(searchPaths, filepath.Join(moduleRoot, "lib", platformDir, libName))
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			absPath, _ := filepath.Abs(path)
			return absPath, true
		}
	}
	return "", false
}

func getLibraryName() string {
	return getLibraryNameFor(runtime.GOOS)
}

func getLibraryNameFor(goos string) string {
	switch goos {
	case "darwin":
		return "libqsv_shim.dylib"
	case "windows":
		return "libqsv_shim.dll"
	default:
		return "libqsv_shim.so"
	}
}

// goString copies a NUL-terminated C string.
func goString(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	var n int
	for *(*byte)(unsafe.Add(unsafe.Pointer(ptr), n)) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n))
}

// cString returns a NUL-terminated copy of s. The caller keeps it alive for
// the duration of the call.
func cString(s string) []byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b
}
