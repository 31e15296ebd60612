/*
   Copyright 2016 GitHub Inc.
	 See https://github.com/github/gh-ost/blob/master/LICENSE
*/

package logic

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mysql-migrate/mysql-migrate/go/base"
)

const (
	onStartup             = "mysql-migrate-on-startup"
	onValidated           = "mysql-migrate-on-validated"
	onDumpComplete        = "mysql-migrate-on-dump-complete"
	onReplicationStarted  = "mysql-migrate-on-replication-started"
	onSuccess             = "mysql-migrate-on-success"
	onFailure             = "mysql-migrate-on-failure"
	hookEnvironmentPrefix = "MYSQL_MIGRATE_"
	hookListSeparator     = ","
	hookMethodVariable    = "METHOD"
	hookDatabasesVariable = "DATABASES"
	hookDumpGtidsVariable = "DUMP_GTIDS"
	hookErrorVariable     = "ERROR"
	hookErrorTypeVariable = "ERROR_TYPE"
)

type HooksExecutor struct {
	migrationContext *base.MigrationContext
	writer           io.Writer
}

func NewHooksExecutor(migrationContext *base.MigrationContext) *HooksExecutor {
	return &HooksExecutor{
		migrationContext: migrationContext,
		writer:           os.Stderr,
	}
}

func hookVariable(name string, value interface{}) string {
	return fmt.Sprintf("%s%s=%v", hookEnvironmentPrefix, name, value)
}

func (this *HooksExecutor) applyEnvironmentVariables(extraVariables ...string) []string {
	env := os.Environ()
	env = append(env, hookVariable("UUID", this.migrationContext.Uuid))
	if source := this.migrationContext.SourceConnectionConfig; source != nil {
		env = append(env, hookVariable("SOURCE_HOST", source.Key.Hostname))
		env = append(env, hookVariable("SOURCE_PORT", source.Key.Port))
	}
	if target := this.migrationContext.TargetConnectionConfig; target != nil {
		env = append(env, hookVariable("TARGET_HOST", target.Key.Hostname))
		env = append(env, hookVariable("TARGET_PORT", target.Key.Port))
	}
	env = append(env, hookVariable("DUMP_TOOL", this.migrationContext.DumpTool))
	env = append(env, hookVariable("FORCE_METHOD", this.migrationContext.ForceMethod))
	env = append(env, hookVariable("VALIDATE_ONLY", this.migrationContext.ValidateOnly))
	env = append(env, hookVariable("ELAPSED_SECONDS", fmt.Sprintf("%f", this.migrationContext.ElapsedTime().Seconds())))
	env = append(env, hookVariable("HOOKS_HINT", this.migrationContext.HooksHintMessage))

	env = append(env, extraVariables...)
	return env
}

// executeHook executes a command, and sets relevant environment variables
// combined output & error are printed to the configured writer.
func (this *HooksExecutor) executeHook(hook string, extraVariables ...string) error {
	cmd := exec.Command(hook)
	cmd.Env = this.applyEnvironmentVariables(extraVariables...)

	combinedOutput, err := cmd.CombinedOutput()
	fmt.Fprintln(this.writer, string(combinedOutput))
	if err != nil {
		return this.migrationContext.Log.Errorf("Hook %s failed: %+v", hook, err)
	}
	return nil
}

func (this *HooksExecutor) detectHooks(baseName string) (hooks []string, err error) {
	if this.migrationContext.HooksPath == "" {
		return hooks, err
	}
	pattern := fmt.Sprintf("%s/%s*", this.migrationContext.HooksPath, baseName)
	hooks, err = filepath.Glob(pattern)
	return hooks, err
}

func (this *HooksExecutor) executeHooks(baseName string, extraVariables ...string) error {
	hooks, err := this.detectHooks(baseName)
	if err != nil {
		return err
	}
	for _, hook := range hooks {
		this.migrationContext.Log.Infof("executing %+v hook: %+v", baseName, hook)
		if err := this.executeHook(hook, extraVariables...); err != nil {
			return err
		}
	}
	return nil
}

func (this *HooksExecutor) onStartup() error {
	return this.executeHooks(onStartup)
}

func (this *HooksExecutor) onValidated(method base.MigrationMethod, databases []string) error {
	return this.executeHooks(onValidated,
		hookVariable(hookMethodVariable, method),
		hookVariable(hookDatabasesVariable, strings.Join(databases, hookListSeparator)),
	)
}

func (this *HooksExecutor) onDumpComplete(method base.MigrationMethod, dumpGtids string) error {
	return this.executeHooks(onDumpComplete,
		hookVariable(hookMethodVariable, method),
		hookVariable(hookDumpGtidsVariable, dumpGtids),
	)
}

func (this *HooksExecutor) onReplicationStarted(dumpGtids string) error {
	return this.executeHooks(onReplicationStarted,
		hookVariable(hookMethodVariable, base.ReplicationMethod),
		hookVariable(hookDumpGtidsVariable, dumpGtids),
	)
}

func (this *HooksExecutor) onSuccess(method base.MigrationMethod) error {
	return this.executeHooks(onSuccess, hookVariable(hookMethodVariable, method))
}

// onFailure runs the failure hooks; their own errors are only logged
func (this *HooksExecutor) onFailure(migrationErr error) {
	errorType := base.NewMigrationError(migrationErr, time.Now()).Type
	if err := this.executeHooks(onFailure,
		hookVariable(hookErrorVariable, migrationErr.Error()),
		hookVariable(hookErrorTypeVariable, errorType),
	); err != nil {
		this.migrationContext.Log.Warningf("Failure hook failed: %+v", err)
	}
}
