package keycodec

import "errors"

// ErrNameTooLong is returned by ValidatePath when a path segment is
// MaxSegmentBytes bytes or longer, or is empty.
var ErrNameTooLong = errors.New("keycodec: path segment too long")
