package pipeline

import "errors"

// Terminal pipeline failures. Their text doubles as the task's error_message,
// so keep it human-readable.
var (
	// ErrAmbiguousTask means the planner produced no actionable plan:
	// unknown complexity or an empty step list. Retrying without a better
	// task description would burn budget for the same answer.
	ErrAmbiguousTask = errors.New("planner could not produce an actionable plan")

	// ErrReviewExhausted means the reviewer rejected every coding attempt.
	ErrReviewExhausted = errors.New("change review rejected")

	// ErrTestFailure means the tester's verdict was fail. Warnings pass.
	ErrTestFailure = errors.New("tester flagged likely build or test failures")
)
