package gormx

import (
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/whitekid/goxp/log"
)

type sqlError struct {
	m string
}

func (e *sqlError) Error() string { return e.m }

var (
	ErrUniqueConstraintFailed     error = &sqlError{"UNIQUE constraint failed"}
	ErrForeignKeyConstraintFailed error = &sqlError{"FOREIGN KEY constraint failed"}
)

func IsSQLError(err error) bool {
	var e *sqlError
	return errors.As(err, &e)
}

// constraint error codes per driver
// postgres codes: https://www.postgresql.org/docs/11/errcodes-appendix.html
var (
	sqliteExtCodeToErr = map[sqlite3.ErrNoExtended]error{
		2067: ErrUniqueConstraintFailed,
		787:  ErrForeignKeyConstraintFailed,
	}
	mysqlErrCodeToErr = map[uint16]error{
		1062: ErrUniqueConstraintFailed,
		1452: ErrForeignKeyConstraintFailed,
	}
	pgErrCodeToErr = map[string]error{
		"23505": ErrUniqueConstraintFailed,
		"23503": ErrForeignKeyConstraintFailed,
	}
)

// ConvertSQLError fold underlying driver errors into the portable sentinels
func ConvertSQLError(err error) error {
	if err == nil {
		return nil
	}

	switch e := err.(type) {
	case sqlite3.Error:
		if ee, ok := sqliteExtCodeToErr[e.ExtendedCode]; ok {
			return ee
		}
		log.Debugf("unhandled sqlite error: code=%d, extcode=%d", e.Code, e.ExtendedCode)

	case *mysql.MySQLError:
		if ee, ok := mysqlErrCodeToErr[e.Number]; ok {
			return ee
		}
		log.Debugf("unhandled mysql error: code=%d, message=%s", e.Number, e.Message)

	case *pgconn.PgError:
		if ee, ok := pgErrCodeToErr[e.Code]; ok {
			return ee
		}
		log.Debugf("unhandled postgresql error: code=%s, detail=%s", e.Code, e.Detail)
	}

	return err
}
