package structure

import "github.com/pkg/errors"

var (
	ErrAllocFailed        = errors.New("allocation refused by allocator")
	ErrDictKeyExists      = errors.New("key already exists")
	ErrDictResizeRejected = errors.New("dict resize rejected")
	ErrDictUnsafeMutation = errors.New("dict mutated during unsafe iteration")
	ErrZiplistTooBig      = errors.New("ziplist would exceed safety size")
	ErrZiplistCorrupt     = errors.New("ziplist integrity check failed")
	ErrIntsetCorrupt      = errors.New("intset integrity check failed")
	ErrIndexOutOfRange    = errors.New("index out of range")
	ErrWrongEncoding      = errors.New("operation not supported by current encoding")
	ErrCorruptEntry       = errors.New("corrupt container entry")
	ErrListEmpty          = errors.New("list is empty")
	ErrNotInteger         = errors.New("value is not an integer")
	ErrNotFloat           = errors.New("value is not a valid float")
	ErrIncrOverflow       = errors.New("increment or decrement would overflow")
)
