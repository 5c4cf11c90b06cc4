package fsadapter

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Errno maps an ErrCode to the POSIX errno the mount boundary should
// surface to the kernel. There is no Conflict code: an adapter call
// whose conflict retries are exhausted reports StoreError (EIO).
func (c ErrCode) Errno() unix.Errno {
	switch c {
	case NotFound:
		return unix.ENOENT
	case AlreadyExists:
		return unix.EEXIST
	case NotADirectory:
		return unix.ENOTDIR
	case NotEmpty:
		return unix.ENOTEMPTY
	case NameTooLong:
		return unix.ENAMETOOLONG
	case HandleExhausted:
		return unix.ENFILE
	case NotImplemented:
		return unix.ENOSYS
	case StoreError:
		return unix.EIO
	case Corrupt:
		return unix.EIO
	default:
		return unix.EIO
	}
}

// Errno extracts the POSIX errno for err if it (or something it
// wraps) is an *Error, and EIO otherwise.
func Errno(err error) unix.Errno {
	if err == nil {
		return 0
	}
	var fsErr *Error
	if errors.As(err, &fsErr) {
		return fsErr.Code.Errno()
	}
	return unix.EIO
}
