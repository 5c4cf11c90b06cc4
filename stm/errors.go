package stm

import "errors"

// Conflict is raised by Commit when the store rejected the compare
// branch: some key in the conflict set was modified between its read
// and the commit attempt. RunWithRetry retries it internally and
// returns it only once its attempts are exhausted.
var Conflict = errors.New("stm: conflict")

// AlreadyInTransaction is surfaced when a transaction is opened on an
// STM instance that still holds buffered conflicts or writes from a
// prior, unreset attempt. Opening two overlapping transactions on one STM is
// a programming error, not a retryable condition.
var AlreadyInTransaction = errors.New("stm: already in transaction")
