/*
   Copyright 2016 GitHub Inc.
	 See https://github.com/github/gh-ost/blob/master/LICENSE
*/

package logic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/mysql-migrate/mysql-migrate/go/base"
)

// dumpMetadata is the content of the output meta file
type dumpMetadata struct {
	DumpGtids string `json:"dump_gtids"`
}

// Migrator is the main migration flow manager: it runs the pre-flight checks,
// copies the databases and sets up replication.
type Migrator struct {
	migrationContext *base.MigrationContext
	inspector        *Inspector
	replicator       *Replicator
	hooksExecutor    *HooksExecutor
	newDumpTool      func(migrationContext *base.MigrationContext, databases []string) (DumpTool, error)

	dumpToolMutex sync.Mutex
	dumpTool      DumpTool
}

func NewMigrator(migrationContext *base.MigrationContext) *Migrator {
	return &Migrator{
		migrationContext: migrationContext,
		inspector:        NewInspector(migrationContext),
		replicator:       NewReplicator(migrationContext),
		hooksExecutor:    NewHooksExecutor(migrationContext),
		newDumpTool:      NewDumpTool,
	}
}

// MethodNotAvailableMessage is reported when the expected method cannot be used
func MethodNotAvailableMessage(method base.MigrationMethod) string {
	return fmt.Sprintf("%s method is not available.", cases.Title(language.English).String(string(method)))
}

// Migrate runs the pre-flight checks and, unless only validating, the migration.
func (this *Migrator) Migrate(ctx context.Context) (err error) {
	source, target := this.migrationContext.SourceConnectionConfig, this.migrationContext.TargetConnectionConfig
	this.migrationContext.Log.Infof("MySQL migration from %s to %s (%s)", source.Key.Hostname, target.Key.Hostname, this.migrationContext.Uuid)

	if err := this.hooksExecutor.onStartup(); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			this.hooksExecutor.onFailure(err)
		}
	}()

	this.migrationContext.Log.Infof("Starting pre-checks")
	method, err := this.inspector.RunChecks(ctx)
	if errors.Is(err, base.ErrNothingToMigrate) && this.migrationContext.AllowSourceWithoutDbs {
		this.migrationContext.Log.Warning("No databases to migrate.")
		return nil
	}
	if err != nil {
		return err
	}

	expectedMethod := this.migrationContext.ExpectedMethod()
	if method == expectedMethod {
		this.migrationContext.Log.Infof("All pre-checks passed successfully.")
	} else {
		this.migrationContext.Log.Infof("Not all pre-checks passed successfully. %s", MethodNotAvailableMessage(expectedMethod))
		if this.migrationContext.ForceMethod != "" {
			return errors.New(MethodNotAvailableMessage(expectedMethod))
		}
	}
	databases, err := this.inspector.GetDatabases(ctx)
	if err != nil {
		return err
	}
	if err := this.hooksExecutor.onValidated(method, databases); err != nil {
		return err
	}
	if this.migrationContext.ValidateOnly {
		return nil
	}

	this.migrationContext.Log.Infof("Starting migration using method: %s", method)
	if err := this.Start(ctx, method); err != nil {
		return err
	}
	this.migrationContext.Log.Infof("Migration finished in %s", base.PrettifyDurationOutput(this.migrationContext.ElapsedTime()))
	if method == base.ReplicationMethod && !this.migrationContext.StopReplication {
		this.migrationContext.Log.Infof("IMPORTANT: Replication is still running, make sure to stop it after switching to the target DB")
	}
	return this.hooksExecutor.onSuccess(method)
}

// Start copies the databases with the given method, then sets up replication
// when the method is replication.
func (this *Migrator) Start(ctx context.Context, method base.MigrationMethod) error {
	databases, err := this.inspector.GetDatabases(ctx)
	if err != nil {
		return err
	}
	this.migrationContext.Log.Infof("Start migration of the following databases:")
	for _, database := range databases {
		this.migrationContext.Log.Infof("\t%s", database)
	}

	if err := this.prepareMetaFile(); err != nil {
		return err
	}
	dumpGtids, hasDumpGtids, err := this.migrateData(ctx, method, databases)
	if err != nil {
		return err
	}
	this.migrationContext.Log.Infof("Migration of dump data has finished, GTID value from the dump: `%s`", dumpGtids)
	if err := this.writeMetaFile(dumpGtids); err != nil {
		return err
	}
	if err := this.hooksExecutor.onDumpComplete(method, dumpGtids); err != nil {
		return err
	}

	if method != base.ReplicationMethod {
		return nil
	}
	this.migrationContext.Log.Infof("Setting up replication to the target DB")
	if !hasDumpGtids {
		return base.Errorf(base.ErrReplicaSetup, "GTID should be set")
	}
	return this.bootstrapReplication(ctx, dumpGtids)
}

func (this *Migrator) bootstrapReplication(ctx context.Context, dumpGtids string) error {
	if err := this.replicator.SetGtid(ctx, dumpGtids); err != nil {
		return err
	}
	if err := this.replicator.StartReplication(ctx); err != nil {
		return err
	}
	if err := this.replicator.EnsureReplicaRunning(ctx); err != nil {
		return err
	}
	if err := this.hooksExecutor.onReplicationStarted(dumpGtids); err != nil {
		return err
	}
	if this.migrationContext.WaitsForReplicationLag() {
		if err := this.replicator.WaitForReplicationLag(ctx, this.migrationContext.SecondsBehindMaster); err != nil {
			return err
		}
	}
	if this.migrationContext.StopReplication {
		this.migrationContext.Log.Infof("Stopping replication")
		return this.replicator.StopReplication(ctx)
	}
	return nil
}

// migrateData runs the configured dump tool and returns the GTID set of the dump
func (this *Migrator) migrateData(ctx context.Context, method base.MigrationMethod, databases []string) (string, bool, error) {
	dumpTool, err := this.newDumpTool(this.migrationContext, databases)
	if err != nil {
		return "", false, err
	}
	this.dumpToolMutex.Lock()
	this.dumpTool = dumpTool
	this.dumpToolMutex.Unlock()
	defer this.teardown()

	if err := dumpTool.Setup(ctx); err != nil {
		return "", false, err
	}
	result, err := dumpTool.ExecuteMigration(ctx, method)
	if err != nil {
		return "", false, err
	}
	return result.Position, result.HasPosition, nil
}

// prepareMetaFile checks the meta file can be written and removes a stale one
func (this *Migrator) prepareMetaFile() error {
	metaFile := this.migrationContext.OutputMetaFile
	if metaFile == "" {
		return nil
	}
	if err := base.ValidateWritableDir(filepath.Dir(metaFile)); err != nil {
		return base.Errorf(base.ErrWrongMigrationConfiguration, "Meta file %s is not writable: %w", metaFile, err)
	}
	return base.RemoveFileIfExists(metaFile)
}

func (this *Migrator) writeMetaFile(dumpGtids string) error {
	metaFile := this.migrationContext.OutputMetaFile
	if metaFile == "" {
		return nil
	}
	content, err := json.Marshal(dumpMetadata{DumpGtids: dumpGtids})
	if err != nil {
		return err
	}
	this.migrationContext.Log.Debugf("Writing meta file %s", metaFile)
	return base.WriteFileAtomic(metaFile, content)
}

// teardown kills running dump tools and removes their files. It is safe to call at any time.
func (this *Migrator) teardown() {
	this.dumpToolMutex.Lock()
	defer this.dumpToolMutex.Unlock()

	if this.dumpTool == nil {
		return
	}
	if err := this.dumpTool.Cleanup(); err != nil {
		this.migrationContext.Log.Errore(err)
	}
}
