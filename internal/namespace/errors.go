package namespace

import (
	"errors"
	"fmt"
	"syscall"
)

// Error kinds returned by namespace operations. Callers match them with
// errors.Is; the protocol adapters convert them with Errno.
var (
	ErrNotFound      = errors.New("no such file or directory")
	ErrExist         = errors.New("file exists")
	ErrNotEmpty      = errors.New("directory not empty")
	ErrIsDir         = errors.New("is a directory")
	ErrNotDir        = errors.New("not a directory")
	ErrNoMemory      = errors.New("cannot allocate memory")
	ErrInvalidHandle = errors.New("invalid or stale file handle")
	ErrInvalid       = errors.New("invalid argument")
	ErrBusy          = errors.New("resource busy")
)

// wrongKind reports an operation applied to the other kind of entry. It
// matches ErrNotFound, so the protocol sees ENOENT, and keeps kind in the
// chain for logs and metrics.
func wrongKind(kind error) error {
	return fmt.Errorf("%w (%w)", ErrNotFound, kind)
}

// Errno maps an error returned by the namespace to the status code the
// filesystem protocol reports. nil maps to 0 and unknown errors to EIO.
func Errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, ErrExist):
		return syscall.EEXIST
	case errors.Is(err, ErrNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, ErrIsDir):
		return syscall.EISDIR
	case errors.Is(err, ErrNotDir):
		return syscall.ENOTDIR
	case errors.Is(err, ErrNoMemory):
		return syscall.ENOMEM
	case errors.Is(err, ErrInvalidHandle):
		// A handle whose file was unlinked behaves like the file is gone.
		return syscall.ENOENT
	case errors.Is(err, ErrInvalid):
		return syscall.EINVAL
	case errors.Is(err, ErrBusy):
		return syscall.EBUSY
	default:
		return syscall.EIO
	}
}

// ResultLabel names an operation outcome for metrics and logs.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidHandle):
		return "stale_handle"
	case errors.Is(err, ErrIsDir):
		return "is_dir"
	case errors.Is(err, ErrNotDir):
		return "not_dir"
	}
	switch Errno(err) {
	case syscall.ENOENT:
		return "not_found"
	case syscall.EEXIST:
		return "exists"
	case syscall.ENOTEMPTY:
		return "not_empty"
	case syscall.ENOMEM:
		return "no_memory"
	case syscall.EINVAL:
		return "invalid"
	case syscall.EBUSY:
		return "busy"
	default:
		return "error"
	}
}
