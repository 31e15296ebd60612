/*
   Copyright 2016 GitHub Inc.
	 See https://github.com/github/gh-ost/blob/master/LICENSE
*/

package base

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openark/golib/log"

	"github.com/mysql-migrate/mysql-migrate/go/mysql"
)

// MigrationMethod is the way data gets to the target
type MigrationMethod string

const (
	// DumpMethod copies a logical dump of the source into the target
	DumpMethod MigrationMethod = "dump"
	// ReplicationMethod copies a logical dump, then replicates from the source
	ReplicationMethod MigrationMethod = "replication"
)

func ParseMigrationMethod(method string) (MigrationMethod, error) {
	switch MigrationMethod(strings.ToLower(strings.TrimSpace(method))) {
	case DumpMethod:
		return DumpMethod, nil
	case ReplicationMethod:
		return ReplicationMethod, nil
	}
	return "", Errorf(ErrWrongMigrationConfiguration, "Unknown migration method: %s", method)
}

// DumpTool names the external dump/restore tool pair
type DumpTool string

const (
	// MysqldumpTool streams mysqldump output into the mysql client
	MysqldumpTool DumpTool = "mysqldump"
	// MydumperTool streams mydumper output into myloader
	MydumperTool DumpTool = "mydumper"
)

func ParseDumpTool(tool string) (DumpTool, error) {
	switch DumpTool(tool) {
	case MysqldumpTool:
		return MysqldumpTool, nil
	case MydumperTool:
		return MydumperTool, nil
	}
	return "", Errorf(ErrWrongMigrationConfiguration, "Unknown dump tool: %s", tool)
}

const (
	// MaxDatabases is the number of source schemas above which we refuse to migrate
	MaxDatabases = 10000
	// NoReplicationLagWait disables waiting for replication to catch up
	NoReplicationLagWait = -1
	// NoDatabasesSizeLimit disables the total databases size check
	NoDatabasesSizeLimit = -1
)

// SystemDatabases are never migrated
var SystemDatabases = []string{"mysql", "sys", "information_schema", "performance_schema"}

type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warning(args ...interface{}) error
	Warningf(format string, args ...interface{}) error
	Error(args ...interface{}) error
	Errorf(format string, args ...interface{}) error
	Errore(err error) error
	Fatal(args ...interface{}) error
	Fatalf(format string, args ...interface{}) error
	Fatale(err error) error
	SetLevel(level log.LogLevel)
	SetPrintStackTrace(printStackTraceFlag bool)
}

// MigrationContext has the general, global state of a migration run. It is
// populated once by the command line and shared by all components of the run.
type MigrationContext struct {
	Uuid string
	Log  Logger

	SourceConnectionConfig       *mysql.ConnectionConfig
	TargetConnectionConfig       *mysql.ConnectionConfig
	TargetMasterConnectionConfig *mysql.ConnectionConfig

	// ForceMethod pins the migration method; empty means "replication, falling back to dump"
	ForceMethod           MigrationMethod
	DumpTool              DumpTool
	DbsMaxTotalSize       int64
	SecondsBehindMaster   int64
	StopReplication       bool
	PrivilegeCheckUser    *mysql.PrivilegeCheckUser
	OutputMetaFile        string
	OutputErrorFile       string
	HooksPath             string
	HooksHintMessage      string
	ValidateOnly          bool
	AllowSourceWithoutDbs bool

	// SkipColumnStatistics is set by the pre-flight checks when either server predates 8.0
	SkipColumnStatistics bool

	StartTime time.Time

	databasesMutex  *sync.Mutex
	ignoreDatabases []string
	databases       []string
}

func NewMigrationContext() *MigrationContext {
	runId := uuid.NewString()
	return &MigrationContext{
		Uuid:                runId,
		Log:                 NewRunLogger(runId),
		DumpTool:            MysqldumpTool,
		DbsMaxTotalSize:     NoDatabasesSizeLimit,
		SecondsBehindMaster: NoReplicationLagWait,
		StartTime:           time.Now(),
		databasesMutex:      &sync.Mutex{},
		ignoreDatabases:     append([]string{}, SystemDatabases...),
	}
}

// SetConnectionURIs parses the service URIs of the run. targetMasterURI is optional.
func (this *MigrationContext) SetConnectionURIs(sourceURI, targetURI, targetMasterURI string) (err error) {
	if this.SourceConnectionConfig, err = parseConnectionURI(sourceURI, "source"); err != nil {
		return err
	}
	if this.TargetConnectionConfig, err = parseConnectionURI(targetURI, "target"); err != nil {
		return err
	}
	this.TargetMasterConnectionConfig = nil
	if targetMasterURI != "" {
		if this.TargetMasterConnectionConfig, err = parseConnectionURI(targetMasterURI, "target master"); err != nil {
			return err
		}
	}
	return nil
}

func parseConnectionURI(uri string, name string) (*mysql.ConnectionConfig, error) {
	connectionConfig, err := mysql.ParseConnectionURI(uri, name)
	if err != nil {
		return nil, Errorf(ErrWrongMigrationConfiguration, "%w", err)
	}
	return connectionConfig, nil
}

// ReadPrivilegeCheckUser parses a "user@host" account for PRIVILEGE_CHECKS_USER
func (this *MigrationContext) ReadPrivilegeCheckUser(account string) error {
	if account == "" {
		this.PrivilegeCheckUser = nil
		return nil
	}
	user, err := mysql.ParsePrivilegeCheckUser(account)
	if err != nil {
		return Errorf(ErrWrongMigrationConfiguration, "%w", err)
	}
	this.PrivilegeCheckUser = user
	return nil
}

// ReadFilterDatabases adds a comma separated list of schemas to the ignored ones
func (this *MigrationContext) ReadFilterDatabases(filterDatabases string) {
	if filterDatabases == "" {
		return
	}
	this.AddIgnoredDatabases(strings.Split(filterDatabases, ",")...)
}

// AddIgnoredDatabases extends the set of schemas excluded from migration.
// The cached database list is dropped so that it gets recomputed.
func (this *MigrationContext) AddIgnoredDatabases(databases ...string) {
	this.databasesMutex.Lock()
	defer this.databasesMutex.Unlock()

	for _, database := range databases {
		database = strings.TrimSpace(database)
		if database == "" || containsString(this.ignoreDatabases, database) {
			continue
		}
		this.ignoreDatabases = append(this.ignoreDatabases, database)
	}
	this.databases = nil
}

// GetIgnoredDatabases returns the excluded schemas, system ones first
func (this *MigrationContext) GetIgnoredDatabases() []string {
	this.databasesMutex.Lock()
	defer this.databasesMutex.Unlock()

	return append([]string{}, this.ignoreDatabases...)
}

// GetDatabases returns the cached list of schemas to migrate, computing it
// with listDatabases on first use.
func (this *MigrationContext) GetDatabases(listDatabases func(ignoreDatabases []string) ([]string, error)) ([]string, error) {
	this.databasesMutex.Lock()
	defer this.databasesMutex.Unlock()

	if this.databases != nil {
		return this.databases, nil
	}
	databases, err := listDatabases(append([]string{}, this.ignoreDatabases...))
	if err != nil {
		return nil, err
	}
	this.databases = databases
	return this.databases, nil
}

// HasTargetMaster returns true when replication can be configured on the target
func (this *MigrationContext) HasTargetMaster() bool {
	return this.TargetMasterConnectionConfig != nil
}

// ExpectedMethod is the method the run aims for before any check runs
func (this *MigrationContext) ExpectedMethod() MigrationMethod {
	if this.ForceMethod != "" {
		return this.ForceMethod
	}
	return ReplicationMethod
}

func (this *MigrationContext) ElapsedTime() time.Duration {
	return time.Since(this.StartTime)
}

// WaitsForReplicationLag returns true when the run waits for the replica to catch up
func (this *MigrationContext) WaitsForReplicationLag() bool {
	return this.SecondsBehindMaster > NoReplicationLagWait
}

// ChecksDatabasesSize returns true when a total size ceiling was given
func (this *MigrationContext) ChecksDatabasesSize() bool {
	return this.DbsMaxTotalSize > NoDatabasesSizeLimit
}

func (this *MigrationContext) String() string {
	return fmt.Sprintf("%s -> %s", this.SourceConnectionConfig, this.TargetConnectionConfig)
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
