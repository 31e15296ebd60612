/*
   Copyright 2016 GitHub Inc.
	 See https://github.com/github/gh-ost/blob/master/LICENSE
*/

package mysql

import (
	"context"
	gosql "database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	gomysql "github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-sql-driver/mysql"
	"github.com/openark/golib/sqlutils"
)

var globalVariableNameRegexp = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// IsUnknownSystemVariableError returns true when the server does not know a queried variable
func IsUnknownSystemVariableError(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == gomysql.ER_UNKNOWN_SYSTEM_VARIABLE
}

// IsHandshakeError returns true when the connection failed because the TLS
// requirement could not be negotiated with the server
func IsHandshakeError(err error) bool {
	if errors.Is(err, mysql.ErrNoTLS) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == gomysql.ER_HANDSHAKE_ERROR
}

// sqlPlaceholders returns "?, ?, ..." and the matching args for an IN() clause
func sqlPlaceholders(values []string) (string, []interface{}) {
	placeholders := make([]string, len(values))
	args := make([]interface{}, len(values))
	for i, value := range values {
		placeholders[i] = "?"
		args[i] = value
	}
	return strings.Join(placeholders, ", "), args
}

// GetGlobalVariable reads @@global.<name> as text
func GetGlobalVariable(ctx context.Context, db *gosql.DB, name string) (string, error) {
	if !globalVariableNameRegexp.MatchString(name) {
		return "", fmt.Errorf("Invalid global variable name: %q", name)
	}
	var value gosql.NullString
	query := fmt.Sprintf(`select /* mysql-migrate */ @@global.%s`, name)
	if err := db.QueryRowContext(ctx, query).Scan(&value); err != nil {
		return "", err
	}
	return value.String, nil
}

// ListDatabases returns the schemas on the server, except for the ignored ones
func ListDatabases(db *gosql.DB, ignoreDatabases []string) (databases []string, err error) {
	query := `select /* mysql-migrate */ SCHEMA_NAME from INFORMATION_SCHEMA.SCHEMATA`
	var args []interface{}
	if len(ignoreDatabases) > 0 {
		var placeholders string
		placeholders, args = sqlPlaceholders(ignoreDatabases)
		query = fmt.Sprintf(`%s where SCHEMA_NAME not in (%s)`, query, placeholders)
	}
	query = query + ` order by SCHEMA_NAME`
	databases = []string{}
	err = sqlutils.QueryRowsMap(db, query, func(m sqlutils.RowMap) error {
		databases = append(databases, m.GetString("SCHEMA_NAME"))
		return nil
	}, args...)
	return databases, err
}

// GetDatabasesTotalSize sums data and index length of all tables outside the ignored schemas
func GetDatabasesTotalSize(db *gosql.DB, ignoreDatabases []string) (size int64, err error) {
	query := `select /* mysql-migrate */ coalesce(sum(DATA_LENGTH + INDEX_LENGTH), 0) as size from INFORMATION_SCHEMA.TABLES`
	var args []interface{}
	if len(ignoreDatabases) > 0 {
		var placeholders string
		placeholders, args = sqlPlaceholders(ignoreDatabases)
		query = fmt.Sprintf(`%s where TABLE_SCHEMA not in (%s)`, query, placeholders)
	}
	err = sqlutils.QueryRowsMap(db, query, func(m sqlutils.RowMap) error {
		size = m.GetInt64("size")
		return nil
	}, args...)
	return size, err
}

// GetTableEngines returns the distinct storage engines used by tables in the given schemas
func GetTableEngines(db *gosql.DB, databases []string) (engines []string, err error) {
	engines = []string{}
	if len(databases) == 0 {
		return engines, nil
	}
	placeholders, args := sqlPlaceholders(databases)
	query := fmt.Sprintf(`select /* mysql-migrate */ distinct upper(ENGINE) as engine
		from INFORMATION_SCHEMA.TABLES
		where TABLE_SCHEMA in (%s) and ENGINE is not null
		order by engine`, placeholders)
	err = sqlutils.QueryRowsMap(db, query, func(m sqlutils.RowMap) error {
		engines = append(engines, m.GetString("engine"))
		return nil
	}, args...)
	return engines, err
}

// GetExecutedGtidSet reads Executed_Gtid_Set from the binary log status.
// found is false when the server reports no binary log status at all.
func GetExecutedGtidSet(db *gosql.DB, serverVersion string) (executedGtidSet string, found bool, err error) {
	query := fmt.Sprintf(`show /* mysql-migrate */ %s`, ReplicaTermFor(serverVersion, "master status"))
	err = sqlutils.QueryRowsMap(db, query, func(m sqlutils.RowMap) error {
		found = true
		executedGtidSet = m.GetString("Executed_Gtid_Set")
		return nil
	})
	return executedGtidSet, found, err
}
