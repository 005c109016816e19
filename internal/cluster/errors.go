package cluster

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorClass partitions command failures by how they must be handled.
type ErrorClass int

const (
	// ClassTransient failures (coordinator unreachable, connection
	// reset, lock contention) are retried indefinitely with bounded
	// backoff.
	ClassTransient ErrorClass = iota

	// ClassPermanent failures (bad credentials, missing function) will
	// not be fixed by retrying and are surfaced as an operator alarm.
	ClassPermanent
)

// SQLSTATE codes that retrying cannot fix.
var permanentSQLStates = map[string]struct{}{
	"28000": {}, // invalid_authorization_specification
	"28P01": {}, // invalid_password
	"3D000": {}, // invalid_catalog_name
	"42501": {}, // insufficient_privilege
	"42601": {}, // syntax_error
	"42883": {}, // undefined_function (Citus extension missing)
}

// Classify maps a command error to its class. Anything that is not a
// recognizably permanent server response is treated as transient: a
// pending membership change must never be silently abandoned, so when
// in doubt we keep retrying.
func Classify(err error) ErrorClass {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := permanentSQLStates[pgErr.Code]; ok {
			return ClassPermanent
		}
	}
	return ClassTransient
}
