/*
   Copyright 2025 GitHub Inc.
	 See https://github.com/github/gh-ost/blob/master/LICENSE
*/

package logic

import (
	"context"
	gosql "database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mysql-migrate/mysql-migrate/go/base"
	"github.com/mysql-migrate/mysql-migrate/go/mysql"
)

const (
	replicaCheckInterval          = 2 * time.Second
	replicaRunningRetries         = 30
	requireRowFormatMinVersion    = "8.0.19"
	requireTablePKCheckMinVersion = "8.0.20"
	replicationFilterWildSuffix   = ".%"
)

// Replicator sets up the target as a replica of the source once the dump is
// loaded: it sets the GTID position, starts replication, and waits for the
// replica to run and catch up.
type Replicator struct {
	migrationContext *base.MigrationContext

	checkInterval  time.Duration
	runningRetries int
	// readReplicaStatuses reads SHOW SLAVE STATUS off the target
	readReplicaStatuses func(ctx context.Context) ([]*mysql.ReplicaStatus, error)
	// replicationSource is the source as the target reaches it, when that
	// differs from the address this process connects to
	replicationSource *mysql.ConnectionConfig
}

func NewReplicator(migrationContext *base.MigrationContext) *Replicator {
	this := &Replicator{
		migrationContext: migrationContext,
		checkInterval:    replicaCheckInterval,
		runningRetries:   replicaRunningRetries,
	}
	this.readReplicaStatuses = this.readTargetReplicaStatuses
	return this
}

func (this *Replicator) source() *mysql.ConnectionConfig {
	if this.replicationSource != nil {
		return this.replicationSource
	}
	return this.migrationContext.SourceConnectionConfig
}

func (this *Replicator) targetMaster() (*mysql.ConnectionConfig, error) {
	if !this.migrationContext.HasTargetMaster() {
		return nil, base.Errorf(base.ErrWrongMigrationConfiguration, "TARGET_MASTER_SERVICE_URI is not set")
	}
	return this.migrationContext.TargetMasterConnectionConfig, nil
}

// SetGtid adds the part of the dump GTID set not yet executed on the target
// to its GTID_PURGED. Nothing happens when the target already has it all.
func (this *Replicator) SetGtid(ctx context.Context, dumpGtids string) error {
	this.migrationContext.Log.Infof("GTID from the dump is `%s`", dumpGtids)
	gtidSet, err := mysql.NewGTIDSet(dumpGtids)
	if err != nil {
		return base.Errorf(base.ErrReplicaSetup, "Invalid GTID set from the dump %q: %w", dumpGtids, err)
	}
	if gtidSet.IsEmpty() {
		return base.Errorf(base.ErrReplicaSetup, "GTID set from the dump is empty")
	}
	targetMaster, err := this.targetMaster()
	if err != nil {
		return err
	}
	return withDB(ctx, targetMaster, func(db *gosql.DB) error {
		var diff gosql.NullString
		query := `select /* mysql-migrate */ GTID_SUBTRACT(?, @@GLOBAL.GTID_EXECUTED) as DIFF`
		if err := db.QueryRowContext(ctx, query, gtidSet.String()).Scan(&diff); err != nil {
			return err
		}
		newGtids := strings.TrimSpace(diff.String)
		if newGtids == "" {
			this.migrationContext.Log.Infof("GTID_EXECUTED already contains GTID set from the dump, skipping `SET @@GTID_PURGED` step")
			return nil
		}
		this.migrationContext.Log.Infof("Adding new GTID set on the target service `%s`", newGtids)
		if _, err := db.ExecContext(ctx, `SET @@GLOBAL.GTID_PURGED = ?`, "+"+newGtids); err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, `COMMIT`); err != nil {
			return err
		}
		executed, err := mysql.GetGlobalVariable(ctx, db, "gtid_executed")
		if err != nil {
			return err
		}
		return checkGtidExecuted(executed, gtidSet)
	})
}

// checkGtidExecuted verifies that the target's GTID_EXECUTED covers the dump position
func checkGtidExecuted(executed string, dumped *mysql.GTIDSet) error {
	executedSet, err := mysql.NewGTIDSet(executed)
	if err != nil {
		return base.Errorf(base.ErrReplicaSetup, "Invalid GTID_EXECUTED on the target %q: %w", executed, err)
	}
	if !executedSet.Contains(dumped) {
		return base.Errorf(base.ErrReplicaSetup, "GTID_EXECUTED on the target `%s` does not contain GTID set from the dump `%s`", executedSet.String(), dumped.String())
	}
	return nil
}

// changeMasterStatement points the target at the source, with statement
// options depending on the target version.
func (this *Replicator) changeMasterStatement(targetVersion string) (string, []interface{}) {
	term := func(term string) string {
		return strings.ToUpper(mysql.ReplicaTermFor(targetVersion, term))
	}
	source := this.source()
	sourceSSL := 0
	if source.SSL {
		sourceSSL = 1
	}
	options := []string{
		fmt.Sprintf("%s = ?", term("master_host")),
		fmt.Sprintf("%s = ?", term("master_port")),
		fmt.Sprintf("%s = ?", term("master_user")),
		fmt.Sprintf("%s = ?", term("master_password")),
		fmt.Sprintf("%s = 1", term("master_auto_position")),
		fmt.Sprintf("%s = %d", term("master_ssl"), sourceSSL),
		fmt.Sprintf("%s = 0", term("master_ssl_verify_server_cert")),
		fmt.Sprintf("%s = ''", term("master_ssl_ca")),
		fmt.Sprintf("%s = ''", term("master_ssl_capath")),
	}
	args := []interface{}{source.Key.Hostname, source.Key.Port, source.User, source.Password}
	if mysql.IsVersionAtLeast(targetVersion, requireRowFormatMinVersion) {
		options = append(options, "REQUIRE_ROW_FORMAT = 1")
	}
	if mysql.IsVersionAtLeast(targetVersion, requireTablePKCheckMinVersion) {
		options = append(options, "REQUIRE_TABLE_PRIMARY_KEY_CHECK = OFF")
	}
	if user := this.migrationContext.PrivilegeCheckUser; user != nil {
		options = append(options, fmt.Sprintf("PRIVILEGE_CHECKS_USER = %s", user.SQLFormat()))
		args = append(args, user.SQLArgs()...)
	}
	return fmt.Sprintf("%s %s", term("change master to"), strings.Join(options, ", ")), args
}

// replicationFilterStatement ignores every table of the ignored schemas.
// REPLICATE_IGNORE_DB would miss statements run from another default schema.
func (this *Replicator) replicationFilterStatement() (string, []interface{}) {
	ignoreDatabases := this.migrationContext.GetIgnoredDatabases()
	placeholders := make([]string, len(ignoreDatabases))
	args := make([]interface{}, len(ignoreDatabases))
	for i, database := range ignoreDatabases {
		placeholders[i] = "?"
		args[i] = database + replicationFilterWildSuffix
	}
	return fmt.Sprintf("CHANGE REPLICATION FILTER REPLICATE_WILD_IGNORE_TABLE = (%s)", strings.Join(placeholders, ", ")), args
}

// StartReplication configures and starts replication from the source on the target
func (this *Replicator) StartReplication(ctx context.Context) error {
	source, target := this.source(), this.migrationContext.TargetConnectionConfig
	this.migrationContext.Log.Infof("Setting up replication %s -> %s", source.Key.Hostname, target.Key.Hostname)
	targetMaster, err := this.targetMaster()
	if err != nil {
		return err
	}
	targetVersion, err := target.Version(ctx)
	if err != nil {
		return err
	}
	return withDB(ctx, targetMaster, func(db *gosql.DB) error {
		query, args := this.changeMasterStatement(targetVersion)
		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			return base.Errorf(base.ErrReplicaSetup, "Error configuring replication on %s: %w", targetMaster, err)
		}
		query, args = this.replicationFilterStatement()
		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			return base.Errorf(base.ErrReplicaSetup, "Error setting replication filter on %s: %w", targetMaster, err)
		}
		query = fmt.Sprintf("START %s", strings.ToUpper(mysql.ReplicaTermFor(targetVersion, "slave")))
		if _, err := db.ExecContext(ctx, query); err != nil {
			return base.Errorf(base.ErrReplicaSetup, "Error starting replication on %s: %w", targetMaster, err)
		}
		return nil
	})
}

func (this *Replicator) readTargetReplicaStatuses(ctx context.Context) (statuses []*mysql.ReplicaStatus, err error) {
	target := this.migrationContext.TargetConnectionConfig
	targetVersion, err := target.Version(ctx)
	if err != nil {
		return nil, err
	}
	err = withDB(ctx, target, func(db *gosql.DB) (err error) {
		statuses, err = mysql.GetReplicaStatuses(db, targetVersion)
		return err
	})
	return statuses, err
}

// sourceReplicaStatus returns the status of the replication channel from the source
func (this *Replicator) sourceReplicaStatus(ctx context.Context) (*mysql.ReplicaStatus, error) {
	statuses, err := this.readReplicaStatuses(ctx)
	if err != nil {
		return nil, err
	}
	target := this.migrationContext.TargetConnectionConfig
	if len(statuses) == 0 {
		return nil, base.Errorf(base.ErrReplicaSetup, "No replica status found on %s", target)
	}
	source := this.source()
	status := mysql.FindReplicaStatus(statuses, &source.Key)
	if status == nil {
		return nil, base.Errorf(base.ErrReplicaSetup, "%s does not replicate from %s", target, source.Key.DisplayString())
	}
	return status, nil
}

func (this *Replicator) sleep(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(this.checkInterval):
		return nil
	}
}

// EnsureReplicaRunning polls the target until both replication threads run
func (this *Replicator) EnsureReplicaRunning(ctx context.Context) error {
	this.migrationContext.Log.Infof("Ensure replica is running")
	var status *mysql.ReplicaStatus
	for attempt := 0; attempt < this.runningRetries; attempt++ {
		var err error
		if status, err = this.sourceReplicaStatus(ctx); err != nil {
			return err
		}
		if status.IsRunning() {
			this.migrationContext.Log.Infof("Replica is running: %s", status)
			return nil
		}
		this.migrationContext.Log.Debugf("Replica is not running yet: %s", status)
		if err := this.sleep(ctx); err != nil {
			return err
		}
	}
	return base.Errorf(base.ErrReplicaSetup, "Replica is not running after %d checks: %s", this.runningRetries, status)
}

// WaitForReplicationLag polls the target, with no limit on the number of
// checks, until its lag drops to maxLagSeconds or below.
func (this *Replicator) WaitForReplicationLag(ctx context.Context, maxLagSeconds int64) error {
	this.migrationContext.Log.Infof("Wait for replication to catch up")
	for {
		status, err := this.sourceReplicaStatus(ctx)
		if err != nil {
			return err
		}
		if !status.SecondsBehindSource.Valid {
			return base.Errorf(base.ErrReplicaSetup, "Replication lag is unknown: %s", status)
		}
		lag := status.SecondsBehindSource.Int64
		this.migrationContext.Log.Infof("Current replication lag: %d seconds", lag)
		if lag <= maxLagSeconds {
			return nil
		}
		if err := this.sleep(ctx); err != nil {
			return err
		}
	}
}

// StopReplication stops the replica and drops its configuration
func (this *Replicator) StopReplication(ctx context.Context) error {
	this.migrationContext.Log.Infof("Stopping replication on target database")
	targetMaster, err := this.targetMaster()
	if err != nil {
		return err
	}
	targetVersion, err := this.migrationContext.TargetConnectionConfig.Version(ctx)
	if err != nil {
		return err
	}
	replica := strings.ToUpper(mysql.ReplicaTermFor(targetVersion, "slave"))
	return withDB(ctx, targetMaster, func(db *gosql.DB) error {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("STOP %s", replica)); err != nil {
			return err
		}
		_, err := db.ExecContext(ctx, fmt.Sprintf("RESET %s ALL", replica))
		return err
	})
}
