package evals

import "errors"

// ErrConflictExhausted is returned when the merge write gave up after its
// bounded optimistic retries. The evaluation update is lost; the caller owns
// whatever recovery it wants. No automatic re-queue happens here.
var ErrConflictExhausted = errors.New("evaluation update lost: conflict retries exhausted")
