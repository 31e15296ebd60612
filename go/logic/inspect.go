/*
   Copyright 2016 GitHub Inc.
	 See https://github.com/github/gh-ost/blob/master/LICENSE
*/

package logic

import (
	"context"
	gosql "database/sql"
	"errors"
	"strings"

	"github.com/mysql-migrate/mysql-migrate/go/base"
	"github.com/mysql-migrate/mysql-migrate/go/mysql"
)

const (
	columnStatisticsMinVersion = "8.0.0"

	replicationSourceMinVersion = "5.7.0"
	replicationTargetMinVersion = "8.0.0"
	replicationMaxVersion       = "8.1"
)

// inspectorCheck is one named step of the pre-flight checks
type inspectorCheck struct {
	name  string
	check func(ctx context.Context) error
}

// Inspector runs the pre-flight checks of a migration against the source and
// target servers, and decides on the migration method.
type Inspector struct {
	migrationContext *base.MigrationContext

	// preChecks apply to every method; their failures are never recovered from
	preChecks []inspectorCheck
	// replicationChecks only run for the replication method
	replicationChecks []inspectorCheck
}

func NewInspector(migrationContext *base.MigrationContext) *Inspector {
	this := &Inspector{
		migrationContext: migrationContext,
	}
	this.preChecks = []inspectorCheck{
		{name: "connections", check: this.checkConnections},
		{name: "databases count", check: this.checkDatabasesCount},
		{name: "databases size", check: this.checkDatabasesSize},
		{name: "column statistics", check: this.inferColumnStatistics},
	}
	// the version check goes first, other checks make no sense on unsupported servers
	this.replicationChecks = []inspectorCheck{
		{name: "versions", check: this.checkVersionsReplicationSupport},
		{name: "replication grants", check: this.checkUserCanReplicate},
		{name: "gtid mode", check: this.checkGtidModeEnabled},
		{name: "engines", check: this.checkEngineSupport},
		{name: "server ids", check: this.checkServerIdOverlapping},
		{name: "binlog format", check: this.checkBinlogFormat},
	}
	return this
}

// RunChecks returns the migration method to use. Without a forced method,
// replication is attempted and any replication specific failure falls back
// to the dump method. A forced method that cannot be used is an error.
func (this *Inspector) RunChecks(ctx context.Context) (base.MigrationMethod, error) {
	method := this.migrationContext.ExpectedMethod()
	fallbackToDump := this.migrationContext.ForceMethod == ""
	if !fallbackToDump {
		this.migrationContext.Log.Infof("Forcing migration method %q", method)
	}

	if method == base.ReplicationMethod && !this.migrationContext.HasTargetMaster() {
		if !fallbackToDump {
			return "", base.Errorf(base.ErrWrongMigrationConfiguration, "TARGET_MASTER_SERVICE_URI is not set")
		}
		this.migrationContext.Log.Warning("Replication method is not available due to missing TARGET_MASTER_SERVICE_URI, falling back to dump")
		method = base.DumpMethod
	}

	for _, check := range this.preChecks {
		this.migrationContext.Log.Debugf("Running %s check", check.name)
		if err := check.check(ctx); err != nil {
			return "", err
		}
	}
	if method == base.DumpMethod {
		return method, nil
	}

	for _, check := range this.replicationChecks {
		this.migrationContext.Log.Debugf("Running %s check", check.name)
		err := check.check(ctx)
		if err == nil {
			continue
		}
		if !fallbackToDump || !errors.Is(err, base.ErrReplicationNotAvailable) {
			return "", err
		}
		this.migrationContext.Log.Warningf("Replication is not possible. Falling back to dump method, details: %s", err)
		return base.DumpMethod, nil
	}
	return method, nil
}

// GetDatabases returns the schemas to migrate, listing them on the source on first use
func (this *Inspector) GetDatabases(ctx context.Context) ([]string, error) {
	return this.migrationContext.GetDatabases(func(ignoreDatabases []string) (databases []string, err error) {
		err = withDB(ctx, this.migrationContext.SourceConnectionConfig, func(db *gosql.DB) error {
			databases, err = mysql.ListDatabases(db, ignoreDatabases)
			return err
		})
		return databases, err
	})
}

// withDB runs f on a fresh connection to the server, closed on return
func withDB(ctx context.Context, connectionConfig *mysql.ConnectionConfig, f func(db *gosql.DB) error) error {
	db, err := connectionConfig.OpenDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	return f(db)
}

func (this *Inspector) connectionConfigs() []*mysql.ConnectionConfig {
	connectionConfigs := []*mysql.ConnectionConfig{
		this.migrationContext.SourceConnectionConfig,
		this.migrationContext.TargetConnectionConfig,
	}
	if this.migrationContext.HasTargetMaster() {
		connectionConfigs = append(connectionConfigs, this.migrationContext.TargetMasterConnectionConfig)
	}
	return connectionConfigs
}

func (this *Inspector) checkConnections(ctx context.Context) error {
	this.migrationContext.Log.Infof("Checking connections to service URIs")
	for _, connectionConfig := range this.connectionConfigs() {
		if err := withDB(ctx, connectionConfig, func(*gosql.DB) error { return nil }); err != nil {
			if mysql.IsHandshakeError(err) {
				this.migrationContext.Log.Debugf("Handshake with %s failed: %+v", connectionConfig, err)
				return base.Errorf(base.ErrSSLNotSupported, "SSL is required, but not supported by the %s", connectionConfig.Name)
			}
			return base.Errorf(base.ErrEndpointConnection, "Connection to %s failed: %w", connectionConfig.Name, err)
		}
		this.migrationContext.Log.Debugf("Connection to %s: OK", connectionConfig)
	}
	return nil
}

func (this *Inspector) checkDatabasesCount(ctx context.Context) error {
	this.migrationContext.Log.Infof("Checking for databases count limit")
	databases, err := this.GetDatabases(ctx)
	if err != nil {
		return err
	}
	if len(databases) == 0 {
		return base.Errorf(base.ErrNothingToMigrate, "No databases to migrate")
	}
	if len(databases) > base.MaxDatabases {
		return base.Errorf(base.ErrTooManyDatabases, "Too many databases to migrate: %d (> %d)", len(databases), base.MaxDatabases)
	}
	return nil
}

func (this *Inspector) checkDatabasesSize(ctx context.Context) error {
	if !this.migrationContext.ChecksDatabasesSize() {
		return nil
	}
	this.migrationContext.Log.Infof("Checking max total databases size")
	var size int64
	err := withDB(ctx, this.migrationContext.SourceConnectionConfig, func(db *gosql.DB) (err error) {
		size, err = mysql.GetDatabasesTotalSize(db, this.migrationContext.GetIgnoredDatabases())
		return err
	})
	if err != nil {
		return err
	}
	if size > this.migrationContext.DbsMaxTotalSize {
		return base.Errorf(base.ErrDatabaseTooLarge, "Total size of databases to migrate is %d bytes (> %d)", size, this.migrationContext.DbsMaxTotalSize)
	}
	this.migrationContext.Log.Infof("Total size of databases to migrate: %d bytes", size)
	return nil
}

// inferColumnStatistics disables column statistics in the dump when either
// server predates them.
func (this *Inspector) inferColumnStatistics(ctx context.Context) error {
	for _, connectionConfig := range []*mysql.ConnectionConfig{this.migrationContext.SourceConnectionConfig, this.migrationContext.TargetConnectionConfig} {
		version, err := connectionConfig.Version(ctx)
		if err != nil {
			return err
		}
		if !mysql.IsVersionAtLeast(version, columnStatisticsMinVersion) {
			this.migrationContext.Log.Infof("%s runs MySQL %s, column statistics will not be dumped", connectionConfig, version)
			this.migrationContext.SkipColumnStatistics = true
		}
	}
	return nil
}

func (this *Inspector) checkVersionsReplicationSupport(ctx context.Context) error {
	this.migrationContext.Log.Infof("Checking MySQL versions for replication support")
	sourceVersion, err := this.migrationContext.SourceConnectionConfig.Version(ctx)
	if err != nil {
		return err
	}
	targetVersion, err := this.migrationContext.TargetConnectionConfig.Version(ctx)
	if err != nil {
		return err
	}
	if !mysql.IsVersionInRange(sourceVersion, replicationSourceMinVersion, replicationMaxVersion) ||
		!mysql.IsVersionInRange(targetVersion, replicationTargetMinVersion, replicationMaxVersion) {
		return base.Errorf(base.ErrUnsupportedMySQLVersion,
			"Replication method is not supported between MySQL versions: source - %s, target - %s", sourceVersion, targetVersion)
	}
	this.migrationContext.Log.Infof("Source - %s, target - %s: OK", sourceVersion, targetVersion)
	return nil
}

func (this *Inspector) checkUserCanReplicate(ctx context.Context) error {
	this.migrationContext.Log.Infof("Checking if user has replication grants on the source")
	grants, err := this.migrationContext.SourceConnectionConfig.GlobalGrants(ctx)
	if err != nil {
		return err
	}
	if !mysql.HasReplicationGrant(grants) {
		return base.Errorf(base.ErrMissingReplicationGrants, "User does not have replication permissions")
	}
	return nil
}

func (this *Inspector) checkGtidModeEnabled(ctx context.Context) error {
	for _, connectionConfig := range []*mysql.ConnectionConfig{this.migrationContext.SourceConnectionConfig, this.migrationContext.TargetConnectionConfig} {
		this.migrationContext.Log.Infof("Checking if GTID mode is enabled on the %s", connectionConfig.Name)
		version, err := connectionConfig.Version(ctx)
		if err != nil {
			return err
		}
		err = withDB(ctx, connectionConfig, func(db *gosql.DB) error {
			info, err := mysql.GetServerInfo(ctx, db)
			if err != nil {
				return err
			}
			if strings.ToUpper(info.GtidMode) != "ON" {
				return base.Errorf(base.ErrGTIDModeDisabled, "GTID mode should be enabled on the %s", connectionConfig.Name)
			}
			executedGtidSet, found, err := mysql.GetExecutedGtidSet(db, version)
			if err != nil {
				return err
			}
			if !found {
				return base.Errorf(base.ErrGTIDModeDisabled, "GTID mode should be enabled on the %s: SHOW MASTER STATUS is empty", connectionConfig.Name)
			}
			if strings.TrimSpace(executedGtidSet) == "" {
				return base.Errorf(base.ErrGTIDModeDisabled, "GTID mode should be enabled on the %s: Executed_Gtid_Set is empty", connectionConfig.Name)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// checkEngineSupport requires every table of the migrated schemas to be InnoDB
func (this *Inspector) checkEngineSupport(ctx context.Context) error {
	this.migrationContext.Log.Infof("Checking for source engine support")
	databases, err := this.GetDatabases(ctx)
	if err != nil {
		return err
	}
	var engines []string
	err = withDB(ctx, this.migrationContext.SourceConnectionConfig, func(db *gosql.DB) (err error) {
		engines, err = mysql.GetTableEngines(db, databases)
		return err
	})
	if err != nil {
		return err
	}
	for _, engine := range engines {
		if engine != "INNODB" {
			this.migrationContext.Log.Debugf("Found tables using engine %s", engine)
			return base.Errorf(base.ErrUnsupportedMySQLEngine, "Only InnoDB engine is supported")
		}
	}
	return nil
}

func (this *Inspector) readServerInfo(ctx context.Context, connectionConfig *mysql.ConnectionConfig) (info *mysql.ServerInfo, err error) {
	err = withDB(ctx, connectionConfig, func(db *gosql.DB) (err error) {
		info, err = mysql.GetServerInfo(ctx, db)
		return err
	})
	return info, err
}

func (this *Inspector) checkServerIdOverlapping(ctx context.Context) error {
	this.migrationContext.Log.Infof("Checking for server id overlap")
	sourceInfo, err := this.readServerInfo(ctx, this.migrationContext.SourceConnectionConfig)
	if err != nil {
		return err
	}
	targetInfo, err := this.readServerInfo(ctx, this.migrationContext.TargetConnectionConfig)
	if err != nil {
		return err
	}
	if sourceInfo.ServerId == targetInfo.ServerId {
		return base.Errorf(base.ErrServerIdsOverlapping,
			"Replication method is not available due to server_id overlapping, source and target have the same value - %d", sourceInfo.ServerId)
	}
	return nil
}

func (this *Inspector) checkBinlogFormat(ctx context.Context) error {
	this.migrationContext.Log.Infof("Checking binary log format of the source")
	info, err := this.readServerInfo(ctx, this.migrationContext.SourceConnectionConfig)
	if err != nil {
		return err
	}
	if strings.ToUpper(info.BinlogFormat) != "ROW" {
		return base.Errorf(base.ErrUnsupportedBinLogFormat, "Unsupported binary log format: %s, only ROW is supported", info.BinlogFormat)
	}
	return nil
}
