package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fkConstraint struct {
	// raised when the referenced row is missing on insert/update
	missingCode, missingMessage string
	// raised when a referenced row is deleted while still referenced
	inUseCode, inUseMessage string
}

var fkConstraints = map[string]fkConstraint{
	"org_units_parent_fk": {
		missingCode: "ORG_PARENT_NOT_FOUND", missingMessage: "parent unit not found",
		inUseCode: "ORG_UNIT_HAS_CHILDREN", inUseMessage: "unit still has child units",
	},
	"org_positions_unit_fk": {
		missingCode: "ORG_UNIT_NOT_FOUND", missingMessage: "unit not found",
		inUseCode: "ORG_UNIT_HAS_POSITIONS", inUseMessage: "unit still has positions",
	},
	"org_positions_reports_to_fk": {
		missingCode: "ORG_REPORTS_TO_NOT_FOUND", missingMessage: "reports_to position not found",
		inUseCode: "ORG_POSITION_HAS_SUBORDINATES", inUseMessage: "other positions report to this position",
	},
	"org_assignments_position_fk": {
		missingCode: "ORG_POSITION_NOT_FOUND", missingMessage: "position not found",
		inUseCode: "ORG_POSITION_HAS_ASSIGNMENTS", inUseMessage: "position still has assignments",
	},
}

// mapPgError translates storage failures into ServiceErrors. ServiceErrors
// pass through untouched; anything unrecognised is an infrastructure error.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsServiceError(err); ok {
		return err
	}

	if errors.Is(err, ErrRecordNotFound) || errors.Is(err, pgx.ErrNoRows) {
		return notFoundError("ORG_NOT_FOUND", "not found", err)
	}
	if errors.Is(err, ErrHierarchyCorrupted) {
		return infrastructureError("ORG_HIERARCHY_CORRUPTED", "unit hierarchy is corrupted", err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return infrastructureError("ORG_CANCELED", "request canceled", err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return infrastructureError("ORG_INTERNAL", "storage failure", err)
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		recordWriteConflict("unique")
		return conflictError("ORG_DUPLICATE", "unique constraint violated", err)
	case "23P01": // exclusion_violation
		recordWriteConflict("overlap")
		if pgErr.ConstraintName == "org_assignments_member_no_overlap" {
			return conflictError("ORG_ASSIGNMENT_DUPLICATE", "member already holds this position in that period", err)
		}
		return conflictError("ORG_OVERLAP", "time window overlap", err)
	case "23503": // foreign_key_violation
		recordWriteConflict("foreign_key")
		fk, ok := fkConstraints[pgErr.ConstraintName]
		if !ok {
			return conflictError("ORG_REFERENCE_CONFLICT", "foreign key violation", err)
		}
		// Deletes of a referenced row report "Key (...) is still referenced from table ...".
		if strings.Contains(pgErr.Detail, "is still referenced") {
			return conflictError(fk.inUseCode, fk.inUseMessage, err)
		}
		return notFoundError(fk.missingCode, fk.missingMessage, err)
	case "23514": // check_violation
		return validationError("ORG_INVALID_BODY", fmt.Sprintf("check constraint %s violated", pgErr.ConstraintName), err)
	case "40001", "40P01": // serialization_failure, deadlock_detected
		recordWriteConflict("serialization")
		return conflictError("ORG_CONCURRENT_UPDATE", "concurrent update, retry the request", err)
	default:
		return infrastructureError("ORG_INTERNAL", fmt.Sprintf("database error (%s)", pgErr.Code), err)
	}
}
