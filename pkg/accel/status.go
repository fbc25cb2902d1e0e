package accel

import (
	"errors"
	"fmt"
)

// Status is a raw accelerator status code.
// Zero is success, negative values are errors and positive values are warnings.
type Status int32

const (
	StatusOK                     Status = 0
	StatusUnknown                Status = -1
	StatusNullPtr                Status = -2
	StatusUnsupported            Status = -3
	StatusMemoryAlloc            Status = -4
	StatusNotEnoughBuffer        Status = -5
	StatusInvalidHandle          Status = -6
	StatusLockMemory             Status = -7
	StatusNotInitialized         Status = -8
	StatusNotFound               Status = -9
	StatusMoreData               Status = -10
	StatusMoreSurface            Status = -11
	StatusAborted                Status = -12
	StatusDeviceLost             Status = -13
	StatusIncompatibleVideoParam Status = -14
	StatusInvalidVideoParam      Status = -15
	StatusUndefinedBehavior      Status = -16
	StatusDeviceFailed           Status = -17
	StatusMoreBitstream          Status = -18
	StatusGPUHang                Status = -21

	StatusInExecution            Status = 1
	StatusDeviceBusy             Status = 2
	StatusVideoParamChanged      Status = 3
	StatusPartialAcceleration    Status = 4
	StatusIncompatibleParamsWarn Status = 5
	StatusValueNotChanged        Status = 6
	StatusOutOfRange             Status = 7
)

// Sentinel errors for accelerator statuses.
var (
	ErrUnknown           = errors.New("accel: unknown error")
	ErrUnsupported       = errors.New("accel: unsupported")
	ErrMemoryAlloc       = errors.New("accel: memory allocation failed")
	ErrNotEnoughBuffer   = errors.New("accel: output buffer too small")
	ErrNotInitialized    = errors.New("accel: not initialized")
	ErrMoreData          = errors.New("accel: more data needed")
	ErrMoreSurface       = errors.New("accel: more surfaces needed")
	ErrDeviceFailed      = errors.New("accel: device failed")
	ErrInvalidVideoParam = errors.New("accel: invalid video parameters")
	ErrInvalidArgument   = errors.New("accel: invalid argument")
	ErrAborted           = errors.New("accel: operation aborted")
	ErrDeviceBusy        = errors.New("accel: device busy")
	ErrInExecution       = errors.New("accel: operation in execution")
)

// IsWarning returns true for positive statuses.
func (s Status) IsWarning() bool { return s > 0 }

// IsError returns true for negative statuses.
func (s Status) IsError() bool { return s < 0 }

// Err maps the status to a sentinel error. Success and warnings that do not
// need a retry return nil.
func (s Status) Err() error {
	var base error
	switch s {
	case StatusOK, StatusVideoParamChanged, StatusPartialAcceleration,
		StatusIncompatibleParamsWarn, StatusValueNotChanged, StatusOutOfRange:
		return nil
	case StatusInExecution:
		base = ErrInExecution
	case StatusDeviceBusy:
		base = ErrDeviceBusy
	case StatusUnsupported:
		base = ErrUnsupported
	case StatusMemoryAlloc:
		base = ErrMemoryAlloc
	case StatusNotEnoughBuffer:
		base = ErrNotEnoughBuffer
	case StatusNotInitialized:
		base = ErrNotInitialized
	case StatusMoreData, StatusMoreBitstream:
		base = ErrMoreData
	case StatusMoreSurface:
		base = ErrMoreSurface
	case StatusDeviceFailed, StatusDeviceLost, StatusGPUHang:
		base = ErrDeviceFailed
	case StatusInvalidVideoParam, StatusIncompatibleVideoParam:
		base = ErrInvalidVideoParam
	case StatusNullPtr, StatusInvalidHandle, StatusLockMemory, StatusNotFound, StatusUndefinedBehavior:
		base = ErrInvalidArgument
	case StatusAborted:
		base = ErrAborted
	default:
		base = ErrUnknown
	}
	return fmt.Errorf("%w (status %d)", base, int32(s))
}

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusUnknown:
		return "ERR_UNKNOWN"
	case StatusNullPtr:
		return "ERR_NULL_PTR"
	case StatusUnsupported:
		return "ERR_UNSUPPORTED"
	case StatusMemoryAlloc:
		return "ERR_MEMORY_ALLOC"
	case StatusNotEnoughBuffer:
		return "ERR_NOT_ENOUGH_BUFFER"
	case StatusInvalidHandle:
		return "ERR_INVALID_HANDLE"
	case StatusLockMemory:
		return "ERR_LOCK_MEMORY"
	case StatusNotInitialized:
		return "ERR_NOT_INITIALIZED"
	case StatusNotFound:
		return "ERR_NOT_FOUND"
	case StatusMoreData:
		return "ERR_MORE_DATA"
	case StatusMoreSurface:
		return "ERR_MORE_SURFACE"
	case StatusAborted:
		return "ERR_ABORTED"
	case StatusDeviceLost:
		return "ERR_DEVICE_LOST"
	case StatusIncompatibleVideoParam:
		return "ERR_INCOMPATIBLE_VIDEO_PARAM"
	case StatusInvalidVideoParam:
		return "ERR_INVALID_VIDEO_PARAM"
	case StatusUndefinedBehavior:
		return "ERR_UNDEFINED_BEHAVIOR"
	case StatusDeviceFailed:
		return "ERR_DEVICE_FAILED"
	case StatusMoreBitstream:
		return "ERR_MORE_BITSTREAM"
	case StatusGPUHang:
		return "ERR_GPU_HANG"
	case StatusInExecution:
		return "WRN_IN_EXECUTION"
	case StatusDeviceBusy:
		return "WRN_DEVICE_BUSY"
	case StatusVideoParamChanged:
		return "WRN_VIDEO_PARAM_CHANGED"
	case StatusPartialAcceleration:
		return "WRN_PARTIAL_ACCELERATION"
	case StatusIncompatibleParamsWarn:
		return "WRN_INCOMPATIBLE_VIDEO_PARAM"
	case StatusValueNotChanged:
		return "WRN_VALUE_NOT_CHANGED"
	case StatusOutOfRange:
		return "WRN_OUT_OF_RANGE"
	default:
		return fmt.Sprintf("STATUS(%d)", int32(s))
	}
}
