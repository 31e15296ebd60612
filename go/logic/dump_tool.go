/*
   Copyright 2025 GitHub Inc.
	 See https://github.com/github/gh-ost/blob/master/LICENSE
*/

package logic

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/mysql-migrate/mysql-migrate/go/base"
	"github.com/mysql-migrate/mysql-migrate/go/mysql"
	mmos "github.com/mysql-migrate/mysql-migrate/go/os"
)

const (
	dumpOutputDirName = "dump_output"
	sourceCnfFileName = "source.cnf"
	targetCnfFileName = "target.cnf"
)

// DumpTool copies the databases from source to target through an external
// dump and import tool pair.
type DumpTool interface {
	// Setup verifies the tools and prepares the resources they need
	Setup(ctx context.Context) error
	GetDumpCommand(method base.MigrationMethod) ([]string, error)
	GetImportCommand() ([]string, error)
	// ExecuteMigration runs the dump into the target and returns the position the dump was taken at
	ExecuteMigration(ctx context.Context, method base.MigrationMethod) (*PipelineResult, error)
	// Cleanup kills running tools and removes temporary files. It is safe to call more than once.
	Cleanup() error
}

// NewDumpTool returns the tool pair configured on the migration context
func NewDumpTool(migrationContext *base.MigrationContext, databases []string) (DumpTool, error) {
	switch migrationContext.DumpTool {
	case base.MysqldumpTool:
		return NewMysqldumpTool(migrationContext, databases), nil
	case base.MydumperTool:
		return NewMydumperTool(migrationContext, databases), nil
	}
	return nil, base.Errorf(base.ErrWrongMigrationConfiguration, "Unknown dump tool: %s", migrationContext.DumpTool)
}

type dumpToolBase struct {
	migrationContext     *base.MigrationContext
	source               *mysql.ConnectionConfig
	target               *mysql.ConnectionConfig
	databases            []string
	skipColumnStatistics bool
	executor             *ProcessExecutor
}

func newDumpToolBase(migrationContext *base.MigrationContext, databases []string) dumpToolBase {
	return dumpToolBase{
		migrationContext:     migrationContext,
		source:               migrationContext.SourceConnectionConfig,
		target:               migrationContext.TargetConnectionConfig,
		databases:            databases,
		skipColumnStatistics: migrationContext.SkipColumnStatistics,
		executor:             NewProcessExecutor(migrationContext),
	}
}

func (this *dumpToolBase) execute(ctx context.Context, dumpCommand []string, importCommand []string, processor LineProcessor, restrictImport bool) (*PipelineResult, error) {
	result, err := this.executor.Run(ctx, dumpCommand, importCommand, this.target, processor, restrictImport)
	if err != nil {
		this.migrationContext.Log.Errorf("Error during migration: %+v", err)
		this.executor.Terminate()
		return nil, err
	}
	return result, nil
}

// MysqldumpTool streams mysqldump into the mysql client
type MysqldumpTool struct {
	dumpToolBase
}

func NewMysqldumpTool(migrationContext *base.MigrationContext, databases []string) *MysqldumpTool {
	return &MysqldumpTool{dumpToolBase: newDumpToolBase(migrationContext, databases)}
}

func (this *MysqldumpTool) Setup(ctx context.Context) error {
	return nil
}

func (this *MysqldumpTool) GetDumpCommand(method base.MigrationMethod) ([]string, error) {
	// --flush-logs and --master-data=2 need FLUSH TABLES WITH READ LOCK, not granted to managed admin users
	cmd := []string{
		"mysqldump",
		"-h", this.source.Key.Hostname,
		"-P", strconv.Itoa(this.source.Key.Port),
		"-u", this.source.User,
		"-p" + this.source.Password,
		"--compress",
		"--skip-lock-tables",
		"--single-transaction",
		"--hex-blob",
		"--routines",
		"--triggers",
		"--events",
	}
	if method == base.ReplicationMethod {
		cmd = append(cmd, "--set-gtid-purged=ON")
	} else {
		cmd = append(cmd, "--set-gtid-purged=OFF")
	}
	if this.source.SSL {
		cmd = append(cmd, "--ssl-mode=REQUIRED")
	}
	if this.skipColumnStatistics {
		cmd = append(cmd, "--skip-column-statistics")
	}
	cmd = append(cmd, "--databases", "--")
	cmd = append(cmd, this.databases...)
	return cmd, nil
}

func (this *MysqldumpTool) GetImportCommand() ([]string, error) {
	cmd := []string{
		"mysql",
		"-h", this.target.Key.Hostname,
		"-P", strconv.Itoa(this.target.Key.Port),
		"-u", this.target.User,
		"-p" + this.target.Password,
		"--compress",
	}
	if this.target.SSL {
		cmd = append(cmd, "--ssl-mode=REQUIRED")
	}
	return cmd, nil
}

func (this *MysqldumpTool) ExecuteMigration(ctx context.Context, method base.MigrationMethod) (*PipelineResult, error) {
	dumpCommand, err := this.GetDumpCommand(method)
	if err != nil {
		return nil, err
	}
	importCommand, err := this.GetImportCommand()
	if err != nil {
		return nil, err
	}
	return this.execute(ctx, dumpCommand, importCommand, NewMysqldumpLineProcessor(), true)
}

func (this *MysqldumpTool) Cleanup() error {
	this.executor.Terminate()
	return nil
}

// MydumperTool runs mydumper and myloader in stream mode. Credentials are
// handed over in option files inside a private temporary directory, which
// also holds the dump files.
type MydumperTool struct {
	dumpToolBase
	ignoreDatabases []string

	tempDir       string
	dumpOutputDir string
	sourceCnfFile string
	targetCnfFile string
}

func NewMydumperTool(migrationContext *base.MigrationContext, databases []string) *MydumperTool {
	return &MydumperTool{
		dumpToolBase:    newDumpToolBase(migrationContext, databases),
		ignoreDatabases: migrationContext.GetIgnoredDatabases(),
	}
}

func (this *MydumperTool) Setup(ctx context.Context) (err error) {
	if err := this.checkToolsAvailable(ctx); err != nil {
		return err
	}
	if this.tempDir != "" {
		return nil
	}
	if this.tempDir, err = os.MkdirTemp("", fmt.Sprintf("mysql-migrate-%s-", this.migrationContext.Uuid)); err != nil {
		return err
	}
	this.dumpOutputDir = filepath.Join(this.tempDir, dumpOutputDirName)
	if err := os.Mkdir(this.dumpOutputDir, 0700); err != nil {
		return err
	}
	this.migrationContext.Log.Debugf("mydumper output directory: %s", this.dumpOutputDir)
	return nil
}

func (this *MydumperTool) checkToolsAvailable(ctx context.Context) error {
	for _, tool := range []string{"mydumper", "myloader"} {
		if !mmos.CommandExists(tool) {
			return base.Errorf(base.ErrDumpToolNotFound, "%s not found in PATH", tool)
		}
		output, err := mmos.RunCommandWithOutput(ctx, tool, "--version")
		if err != nil {
			return base.Errorf(base.ErrDumpToolNotFound, "%s --version failed: %s", tool, strings.TrimSpace(string(output)))
		}
		this.migrationContext.Log.Debugf("%s", strings.TrimSpace(string(output)))
	}
	return nil
}

// schemaFilterRegex matches every table outside the ignored schemas
func (this *MydumperTool) schemaFilterRegex() string {
	quoted := make([]string, len(this.ignoreDatabases))
	for i, database := range this.ignoreDatabases {
		quoted[i] = regexp.QuoteMeta(database)
	}
	return fmt.Sprintf(`^(?!(%s)\.)`, strings.Join(quoted, "|"))
}

func (this *MydumperTool) GetDumpCommand(method base.MigrationMethod) (cmd []string, err error) {
	if this.tempDir == "" {
		return nil, fmt.Errorf("mydumper is not set up")
	}
	if this.sourceCnfFile == "" {
		if this.sourceCnfFile, err = writeOptionFile(filepath.Join(this.tempDir, sourceCnfFileName), this.source); err != nil {
			return nil, err
		}
	}
	cmd = []string{
		"mydumper",
		"--defaults-extra-file=" + this.sourceCnfFile,
		"--host", this.source.Key.Hostname,
		"--port", strconv.Itoa(this.source.Key.Port),
		"--regex", this.schemaFilterRegex(),
		"--trx-tables=0",
		"--compress=zstd",
		"--threads=0",
		"--triggers",
		"--events",
		"--routines",
		"--chunk-filesize=1024",
		"--sync-thread-lock-mode=FTWRL",
		"--no-backup-locks",
		"--skip-ddl-locks",
		"--checksum-all",
		"--verbose=4",
		"--stream=NO_STREAM_AND_NO_DELETE",
		"--outputdir", this.dumpOutputDir,
		"--database", strings.Join(this.databases, ","),
	}
	return cmd, nil
}

func (this *MydumperTool) GetImportCommand() (cmd []string, err error) {
	if this.tempDir == "" {
		return nil, fmt.Errorf("mydumper is not set up")
	}
	if this.targetCnfFile == "" {
		if this.targetCnfFile, err = writeOptionFile(filepath.Join(this.tempDir, targetCnfFileName), this.target); err != nil {
			return nil, err
		}
	}
	cmd = []string{
		"myloader",
		"--defaults-extra-file=" + this.targetCnfFile,
		"--threads=0",
		"--directory=" + this.dumpOutputDir,
		"--host", this.target.Key.Hostname,
		"--port", strconv.Itoa(this.target.Key.Port),
		"--optimize-keys=AFTER_IMPORT_ALL_TABLES",
		"--compress-protocol=zstd",
		"--verbose=4",
		"--overwrite-tables",
		"--stream=NO_STREAM",
	}
	return cmd, nil
}

func (this *MydumperTool) ExecuteMigration(ctx context.Context, method base.MigrationMethod) (*PipelineResult, error) {
	dumpCommand, err := this.GetDumpCommand(method)
	if err != nil {
		return nil, err
	}
	importCommand, err := this.GetImportCommand()
	if err != nil {
		return nil, err
	}
	// myloader forks, its child processes cannot be restricted
	result, err := this.execute(ctx, dumpCommand, importCommand, NewMydumperLineProcessor(this.dumpOutputDir, this.tempDir), false)
	if err != nil {
		return nil, err
	}
	if !result.HasPosition {
		result.Position, result.HasPosition = this.readMetadataPosition()
	}
	return result, nil
}

// readMetadataPosition looks for the dump position in the metadata backup,
// then in the dump output directory.
func (this *MydumperTool) readMetadataPosition() (string, bool) {
	for _, dir := range []string{this.tempDir, this.dumpOutputDir} {
		if dir == "" {
			continue
		}
		metadataFile := filepath.Join(dir, MetadataFileName)
		if !base.FileExists(metadataFile) {
			continue
		}
		position, found, err := ReadMetadataPosition(metadataFile)
		if err != nil {
			this.migrationContext.Log.Warningf("%+v", err)
			continue
		}
		if found {
			return position, true
		}
	}
	return "", false
}

func (this *MydumperTool) Cleanup() error {
	this.executor.Terminate()
	if this.tempDir == "" {
		return nil
	}
	if err := os.RemoveAll(this.tempDir); err != nil {
		return err
	}
	this.tempDir, this.dumpOutputDir = "", ""
	this.sourceCnfFile, this.targetCnfFile = "", ""
	return nil
}

// writeOptionFile writes the [client] credentials of connectionConfig into a
// MySQL option file readable by the owner only.
func writeOptionFile(fileName string, connectionConfig *mysql.ConnectionConfig) (string, error) {
	password, err := optionFileValue(connectionConfig.Password)
	if err != nil {
		return "", err
	}
	user, err := optionFileValue(connectionConfig.User)
	if err != nil {
		return "", err
	}
	lines := []string{
		"[client]",
		fmt.Sprintf("host=%s", connectionConfig.Key.Hostname),
		fmt.Sprintf("port=%d", connectionConfig.Key.Port),
		fmt.Sprintf("user=%s", user),
		fmt.Sprintf("password=%s", password),
	}
	if connectionConfig.SSL {
		lines = append(lines, "ssl-mode=REQUIRED")
	}
	content := strings.Join(lines, "\n") + "\n"

	f, err := os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	// the umask does not apply to Chmod
	return fileName, os.Chmod(fileName, 0600)
}

// optionFileValue quotes a value for a MySQL option file when it contains
// characters the option file parser would otherwise interpret.
func optionFileValue(value string) (string, error) {
	if value == "" || !strings.ContainsAny(value, "#;'\"\\ \t") {
		return value, nil
	}
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	if !strings.Contains(value, `"`) {
		return `"` + escaped + `"`, nil
	}
	if !strings.Contains(value, `'`) {
		return `'` + escaped + `'`, nil
	}
	return "", fmt.Errorf("value cannot be written to an option file: it contains both quote characters")
}
