/*
   Copyright 2025 GitHub Inc.
	 See https://github.com/github/gh-ost/blob/master/LICENSE
*/

package base

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

const maxStackLength = 50

// ErrorKind classifies migration failures. Kinds form a shallow hierarchy:
// errors.Is matches a failure against its kind and against the kind's parent.
type ErrorKind struct {
	Name   string
	parent *ErrorKind
}

func newErrorKind(name string, parent *ErrorKind) *ErrorKind {
	return &ErrorKind{Name: name, parent: parent}
}

func (this *ErrorKind) Error() string {
	return this.Name
}

func (this *ErrorKind) Unwrap() error {
	if this.parent == nil {
		return nil
	}
	return this.parent
}

var (
	// ErrMigrationPreCheck: the migration cannot happen at all
	ErrMigrationPreCheck           = newErrorKind("MigrationPreCheck", nil)
	ErrEndpointConnection          = newErrorKind("EndpointConnection", ErrMigrationPreCheck)
	ErrWrongMigrationConfiguration = newErrorKind("WrongMigrationConfiguration", ErrMigrationPreCheck)
	ErrTooManyDatabases            = newErrorKind("TooManyDatabases", ErrMigrationPreCheck)
	ErrDatabaseTooLarge            = newErrorKind("DatabaseTooLarge", ErrMigrationPreCheck)
	ErrNothingToMigrate            = newErrorKind("NothingToMigrate", ErrMigrationPreCheck)

	// ErrReplicationNotAvailable: only the replication method is impossible
	ErrReplicationNotAvailable  = newErrorKind("ReplicationNotAvailable", nil)
	ErrUnsupportedMySQLVersion  = newErrorKind("UnsupportedMySQLVersion", ErrReplicationNotAvailable)
	ErrMissingReplicationGrants = newErrorKind("MissingReplicationGrants", ErrReplicationNotAvailable)
	ErrUnsupportedMySQLEngine   = newErrorKind("UnsupportedMySQLEngine", ErrReplicationNotAvailable)
	ErrGTIDModeDisabled         = newErrorKind("GTIDModeDisabled", ErrReplicationNotAvailable)
	ErrServerIdsOverlapping     = newErrorKind("ServerIdsOverlapping", ErrReplicationNotAvailable)
	ErrUnsupportedBinLogFormat  = newErrorKind("UnsupportedBinLogFormat", ErrReplicationNotAvailable)
	ErrSSLNotSupported          = newErrorKind("SSLNotSupported", ErrReplicationNotAvailable)

	ErrMySQLDump        = newErrorKind("MySQLDump", nil)
	ErrMySQLImport      = newErrorKind("MySQLImport", nil)
	ErrReplicaSetup     = newErrorKind("ReplicaSetup", nil)
	ErrDumpToolNotFound = newErrorKind("DumpToolNotFound", nil)
)

// MigrationFailure is an error of a known kind. It carries the stack at
// creation, printed along with the error when stack traces are enabled.
type MigrationFailure struct {
	Kind       *ErrorKind
	Err        error
	StackTrace string
}

// Errorf creates a failure of the given kind; the format supports %w.
func Errorf(kind *ErrorKind, format string, args ...interface{}) error {
	return &MigrationFailure{
		Kind:       kind,
		Err:        fmt.Errorf(format, args...),
		StackTrace: GetStackTrace(),
	}
}

func (this *MigrationFailure) Error() string {
	return this.Err.Error()
}

func (this *MigrationFailure) Unwrap() []error {
	return []error{this.Kind, this.Err}
}

// KindOf returns the kind of the outermost failure wrapped in err, or nil
func KindOf(err error) *ErrorKind {
	var failure *MigrationFailure
	if errors.As(err, &failure) {
		return failure.Kind
	}
	return nil
}

func GetStackTrace() string {
	stackBuf := make([]uintptr, maxStackLength)
	length := runtime.Callers(3, stackBuf[:])
	stack := stackBuf[:length]

	trace := ""
	frames := runtime.CallersFrames(stack)
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			trace = trace + fmt.Sprintf("\n\tFile: %s, Line: %d. Function: %s", frame.File, frame.Line, frame.Function)
		}
		if !more {
			break
		}
	}
	return trace
}
