//go:build !(darwin || freebsd || linux)

package ffi

// RTLD flags are not used on this platform.
const (
	RTLD_NOW    = 0
	RTLD_GLOBAL = 0
)

func dlopenLibrary(string, int) (uintptr, error) { return 0, ErrUnsupportedPlatform }

func dlcloseLibrary(uintptr) error { return nil }

func bindFunction(uintptr, any, string) error { return ErrUnsupportedPlatform }
