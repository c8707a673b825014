package main

import (
	"errors"

	"github.com/spkampus/portal/modules/org/services"
)

type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string {
	return e.err.Error()
}

func (e *cliError) Unwrap() error {
	return e.err
}

const (
	exitOK         = 0
	exitValidation = 2
	exitUsage      = 3
	exitDB         = 4
	exitDBWrite    = 5
)

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &cliError{code: code, err: err}
}

// withServiceCode picks the exit code from the org error kind.
func withServiceCode(err error) error {
	if err == nil {
		return nil
	}
	svcErr, ok := services.AsServiceError(err)
	if !ok {
		return withCode(exitDB, err)
	}
	switch svcErr.Kind {
	case services.KindValidation, services.KindNotFound, services.KindCycle:
		return withCode(exitValidation, err)
	case services.KindConflict, services.KindCapacityExceeded:
		return withCode(exitDBWrite, err)
	default:
		return withCode(exitDB, err)
	}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return 1
}
