package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestServiceError_Is(t *testing.T) {
	capErr := capacityError("ORG_POSITION_FULL", "full", nil)
	require.ErrorIs(t, capErr, ErrCapacityExceeded)
	require.ErrorIs(t, capErr, ErrConflict)
	require.NotErrorIs(t, capErr, ErrValidation)

	conflict := conflictError("ORG_ASSIGNMENT_DUPLICATE", "dup", nil)
	require.ErrorIs(t, conflict, ErrConflict)
	require.NotErrorIs(t, conflict, ErrCapacityExceeded)

	wrapped := fmt.Errorf("outer: %w", cycleError("ORG_REPORTS_TO_CYCLE", "cycle", nil))
	require.ErrorIs(t, wrapped, ErrCycle)
	svcErr, ok := AsServiceError(wrapped)
	require.True(t, ok)
	require.Equal(t, KindCycle, svcErr.Kind)
}

func TestMapPgError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   ErrorKind
		code   string
		status int
	}{
		{name: "record not found", err: ErrRecordNotFound, kind: KindNotFound, code: "ORG_NOT_FOUND", status: 404},
		{name: "no rows", err: fmt.Errorf("get: %w", pgx.ErrNoRows), kind: KindNotFound, code: "ORG_NOT_FOUND", status: 404},
		{name: "hierarchy", err: fmt.Errorf("%w: cycle", ErrHierarchyCorrupted), kind: KindInfrastructure, code: "ORG_HIERARCHY_CORRUPTED", status: 500},
		{name: "canceled", err: context.Canceled, kind: KindInfrastructure, code: "ORG_CANCELED", status: 500},
		{name: "unique", err: &pgconn.PgError{Code: "23505"}, kind: KindConflict, code: "ORG_DUPLICATE", status: 409},
		{
			name: "member overlap",
			err:  &pgconn.PgError{Code: "23P01", ConstraintName: "org_assignments_member_no_overlap"},
			kind: KindConflict, code: "ORG_ASSIGNMENT_DUPLICATE", status: 409,
		},
		{
			name: "missing parent",
			err:  &pgconn.PgError{Code: "23503", ConstraintName: "org_units_parent_fk", Detail: `Key (parent_id)=(0d6c...) is not present in table "org_units".`},
			kind: KindNotFound, code: "ORG_PARENT_NOT_FOUND", status: 404,
		},
		{
			name: "unit still has positions",
			err:  &pgconn.PgError{Code: "23503", ConstraintName: "org_positions_unit_fk", Detail: `Key (id)=(0d6c...) is still referenced from table "org_positions".`},
			kind: KindConflict, code: "ORG_UNIT_HAS_POSITIONS", status: 409,
		},
		{name: "check", err: &pgconn.PgError{Code: "23514", ConstraintName: "org_positions_max_holders_check"}, kind: KindValidation, code: "ORG_INVALID_BODY", status: 422},
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, kind: KindConflict, code: "ORG_CONCURRENT_UPDATE", status: 409},
		{name: "other pg", err: &pgconn.PgError{Code: "XX000"}, kind: KindInfrastructure, code: "ORG_INTERNAL", status: 500},
		{name: "plain", err: errors.New("dial tcp: refused"), kind: KindInfrastructure, code: "ORG_INTERNAL", status: 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svcErr, ok := AsServiceError(mapPgError(tt.err))
			require.True(t, ok)
			require.Equal(t, tt.kind, svcErr.Kind)
			require.Equal(t, tt.code, svcErr.Code)
			require.Equal(t, tt.status, svcErr.Status)
		})
	}
}

func TestMapPgError_PassesServiceErrorsThrough(t *testing.T) {
	orig := validationError("ORG_INVALID_DATES", "bad", nil)
	require.Same(t, orig, mapPgError(orig))
	require.NoError(t, mapPgError(nil))
}
