package postgres

import (
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/InnokentiyKim/Retail/internal/domain/fault"
)

// SQLSTATE codes mapped to domain faults.
const (
	codeForeignKeyViolation = "23503"
	codeUniqueViolation     = "23505"
	codeCheckViolation      = "23514"
)

// classify turns constraint violations and missing rows into faults and
// wraps everything else with op.
func classify(err error, op, notFound string) error {
	if err == nil {
		return nil
	}
	if notFound != "" && errors.Is(err, pgx.ErrNoRows) {
		return fault.NotFoundf(op, "%s", notFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation, codeForeignKeyViolation:
			return fault.Wrap(err, fault.Conflict, op, pgErr.ConstraintName+" violated")
		case codeCheckViolation:
			return fault.Wrap(err, fault.Validation, op, pgErr.ConstraintName+" violated")
		}
	}
	return errors.Wrap(err, op)
}
