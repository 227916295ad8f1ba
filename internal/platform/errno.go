package platform

import (
	stderrors "errors"
	"fmt"

	"golang.org/x/sys/unix"

	"grimm.is/linkd/internal/errors"
)

// transportError maps a kernel errno to the platform taxonomy. Errors that
// already carry a Kind are returned unchanged.
func transportError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if errors.GetKind(err) != errors.KindUnknown {
		return err
	}

	msg := fmt.Sprintf(format, args...)
	var errno unix.Errno
	if !stderrors.As(err, &errno) {
		return errors.Transport(0, err, msg)
	}

	switch errno {
	case unix.EEXIST:
		return errors.Wrap(err, errors.KindAlreadyExists, msg)
	case unix.ENODEV, unix.ENOENT, unix.ENXIO:
		return errors.Wrap(err, errors.KindNotFound, msg)
	case unix.EINVAL, unix.ELOOP, unix.EBUSY, unix.EOPNOTSUPP:
		return errors.Wrap(err, errors.KindInvalidOperation, msg)
	default:
		return errors.Transport(int(errno), err, msg)
	}
}

// timeoutError is returned when a mutation was accepted but the cache never
// reflected it within the wait bound.
func timeoutError(op string, handle int) error {
	err := errors.Transport(int(unix.ETIMEDOUT), unix.ETIMEDOUT,
		fmt.Sprintf("%s: no confirmation for link %d", op, handle))
	return errors.Attr(err, "handle", handle)
}
