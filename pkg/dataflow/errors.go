package dataflow

import (
	"errors"
	"fmt"
)

// ErrRoundLimit is returned when an iterative scope hits the configured round cap before it
// converges.
var ErrRoundLimit = errors.New("iteration round limit reached")

// ErrClosed is returned when stepping or closing a worker that has already been closed.
var ErrClosed = errors.New("worker closed")

type ErrScope = error

func NewScopeError(scope string, err error) ErrScope {
	return fmt.Errorf("scope %s aborted: %w", scope, err)
}

type ErrOperator = error

func NewOperatorError(op string, err error) ErrOperator {
	return fmt.Errorf("operator %s failed: %w", op, err)
}

type ErrExchange = error

func NewExchangeError(err error) ErrExchange {
	return fmt.Errorf("failed to exchange records: %w", err)
}

type ErrBuild = error

func NewBuildError(worker int, err error) ErrBuild {
	return fmt.Errorf("failed to build dataflow on worker %d: %w", worker, err)
}
