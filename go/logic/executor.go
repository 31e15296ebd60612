/*
   Copyright 2025 GitHub Inc.
	 See https://github.com/github/gh-ost/blob/master/LICENSE
*/

package logic

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mysql-migrate/mysql-migrate/go/base"
	"github.com/mysql-migrate/mysql-migrate/go/mysql"
	mmos "github.com/mysql-migrate/mysql-migrate/go/os"
)

const (
	requirePrimaryKeyOverride = "SET SESSION sql_require_primary_key = 0;"
	delimiterSetPrefix        = "DELIMITER ;/*!50003 SET"
	pipeBufferSize            = 1024 * 1024
)

// PipelineResult is the outcome of a successful dump and import
type PipelineResult struct {
	Position    string
	HasPosition bool
}

func newPipelineResult(processor LineProcessor) *PipelineResult {
	position, found := processor.ExtractedPosition()
	return &PipelineResult{Position: position, HasPosition: found}
}

// ProcessExecutor streams the output of an export command into an import
// command, rewriting it line by line on the way.
type ProcessExecutor struct {
	migrationContext *base.MigrationContext
	// Stderr receives the error output of both commands
	Stderr io.Writer

	// requiresPrimaryKey reports whether the target enforces sql_require_primary_key
	requiresPrimaryKey func(ctx context.Context, target *mysql.ConnectionConfig) (bool, error)

	processesMutex sync.Mutex
	exportCmd      *exec.Cmd
	importCmd      *exec.Cmd
}

func NewProcessExecutor(migrationContext *base.MigrationContext) *ProcessExecutor {
	return &ProcessExecutor{
		migrationContext:   migrationContext,
		Stderr:             os.Stderr,
		requiresPrimaryKey: readRequirePrimaryKey,
	}
}

// readRequirePrimaryKey reads @@global.sql_require_primary_key; servers
// that do not know the variable do not require primary keys.
func readRequirePrimaryKey(ctx context.Context, target *mysql.ConnectionConfig) (bool, error) {
	db, err := target.OpenDB(ctx)
	if err != nil {
		return false, err
	}
	defer db.Close()

	value, err := mysql.GetGlobalVariable(ctx, db, "sql_require_primary_key")
	if mysql.IsUnknownSystemVariableError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return value == "1" || strings.EqualFold(value, "ON"), nil
}

// Run executes exportCommand | importCommand. The import process is forbidden
// from forking when restrictImport is set and we are not running as root.
// A non-zero export exit code wins over a non-zero import exit code.
func (this *ProcessExecutor) Run(ctx context.Context, exportCommand []string, importCommand []string,
	target *mysql.ConnectionConfig, processor LineProcessor, restrictImport bool,
) (*PipelineResult, error) {
	requiresPrimaryKey, err := this.requiresPrimaryKey(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("Error reading sql_require_primary_key on %s: %w", target, err)
	}

	exportCmd := exec.CommandContext(ctx, exportCommand[0], exportCommand[1:]...)
	importCmd := exec.CommandContext(ctx, importCommand[0], importCommand[1:]...)
	exportStdout, err := exportCmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	exportStderr, err := exportCmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	importStdin, err := importCmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	importStderr, err := importCmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	this.migrationContext.Log.Infof("Starting import from source to target database")
	if err := exportCmd.Start(); err != nil {
		return nil, base.Errorf(base.ErrMySQLDump, "Error starting %s: %w", exportCommand[0], err)
	}
	if err := importCmd.Start(); err != nil {
		killProcess(exportCmd)
		_ = exportCmd.Wait()
		return nil, base.Errorf(base.ErrMySQLImport, "Error starting %s: %w", importCommand[0], err)
	}
	this.processesMutex.Lock()
	this.exportCmd, this.importCmd = exportCmd, importCmd
	this.processesMutex.Unlock()

	if restrictImport && !mmos.IsPrivileged() {
		if err := mmos.RestrictChildProcesses(importCmd.Process.Pid); err != nil {
			this.migrationContext.Log.Debugf("Could not restrict child processes of %s: %+v", importCommand[0], err)
		}
	}

	relay := &pipelineRelay{
		log:       this.migrationContext.Log,
		processor: processor,
		source:    exportStdout,
		sink:      importStdin,
		exportCmd: exportCmd,
		terminate: this.Terminate,
	}
	if requiresPrimaryKey {
		this.migrationContext.Log.Infof("sql_require_primary_key is enabled on %s, disabling it for the import session", target)
		relay.prelude = requirePrimaryKeyOverride
	}

	stderr := &lockedWriter{writer: this.Stderr}
	var group errgroup.Group
	group.Go(relay.run)
	group.Go(func() error {
		_, err := io.Copy(stderr, exportStderr)
		return err
	})
	group.Go(func() error {
		_, err := io.Copy(stderr, importStderr)
		return err
	})
	groupErr := group.Wait()

	exportErr := exportCmd.Wait()
	importErr := importCmd.Wait()
	exportCode, importCode := mmos.ExitCode(exportCmd), mmos.ExitCode(importCmd)
	this.migrationContext.Log.Debugf("%s exited with %d, %s exited with %d", exportCommand[0], exportCode, importCommand[0], importCode)

	if relay.processorErr != nil {
		return nil, relay.processorErr
	}
	dumpFailure := func() error {
		return base.Errorf(base.ErrMySQLDump, "Error while exporting data from the source database, exit code: %d", exportCode)
	}
	importFailure := func() error {
		return base.Errorf(base.ErrMySQLImport, "Error while importing data into the target database, exit code: %d", importCode)
	}
	// a command that exited on its own reports its code even when the run was cancelled meanwhile
	if exportCode > 0 && !relay.sinkFailed {
		return nil, dumpFailure()
	}
	if importCode > 0 {
		return nil, importFailure()
	}
	if exportCode > 0 {
		return nil, dumpFailure()
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if exportErr != nil && !relay.sinkFailed {
		return nil, dumpFailure()
	}
	if importErr != nil {
		return nil, importFailure()
	}
	if exportErr != nil {
		return nil, dumpFailure()
	}
	if relay.sinkFailed {
		return nil, base.Errorf(base.ErrMySQLImport, "Error while importing data into the target database: %w", relay.sinkErr)
	}
	if groupErr != nil {
		return nil, groupErr
	}
	return newPipelineResult(processor), nil
}

// Terminate kills both commands if they are running. It is safe to call at
// any time and any number of times.
func (this *ProcessExecutor) Terminate() {
	this.processesMutex.Lock()
	defer this.processesMutex.Unlock()

	for _, cmd := range []*exec.Cmd{this.importCmd, this.exportCmd} {
		if cmd == nil || cmd.Process == nil {
			continue
		}
		if killProcess(cmd) {
			this.migrationContext.Log.Warningf("Terminated subprocess with pid: %d", cmd.Process.Pid)
		}
	}
}

// killProcess returns true when a signal was actually delivered
func killProcess(cmd *exec.Cmd) bool {
	return cmd.Process.Kill() == nil
}

// pipelineRelay copies export output into import input through a line processor
type pipelineRelay struct {
	log       base.Logger
	processor LineProcessor
	source    io.Reader
	sink      io.WriteCloser
	exportCmd *exec.Cmd
	terminate func()
	prelude   string

	processorErr error
	sinkFailed   bool
	sinkErr      error
}

func (this *pipelineRelay) run() error {
	defer this.sink.Close()

	reader := bufio.NewReaderSize(this.source, pipeBufferSize)
	writer := bufio.NewWriterSize(this.sink, pipeBufferSize)
	if this.prelude != "" {
		if _, err := writer.WriteString(this.prelude + "\n"); err != nil {
			return this.failSink(err)
		}
	}
	for {
		line, readErr := reader.ReadString('\n')
		if line != "" {
			line = strings.TrimSuffix(line, "\n")
			if strings.HasPrefix(line, delimiterSetPrefix) {
				this.log.Infof("Detected %s", delimiterSetPrefix)
			}
			processed, err := this.processor.ProcessLine(line)
			if err != nil {
				this.processorErr = err
				this.abort()
				return err
			}
			if processed != "" {
				this.log.Debugf("dump: %s", processed)
				if _, err := writer.WriteString(processed + "\n"); err != nil {
					return this.failSink(err)
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			this.abort()
			return readErr
		}
	}
	if err := writer.Flush(); err != nil {
		return this.failSink(err)
	}
	return nil
}

// failSink handles the import side going away: nothing consumes the export
// any longer, so the export is stopped.
func (this *pipelineRelay) failSink(err error) error {
	this.sinkFailed = true
	this.sinkErr = err
	killProcess(this.exportCmd)
	_, _ = io.Copy(io.Discard, this.source)
	return nil
}

// abort kills both commands, so that the error relays see end of stream
func (this *pipelineRelay) abort() {
	this.terminate()
	_, _ = io.Copy(io.Discard, this.source)
}

// lockedWriter serializes writes from concurrent relays
type lockedWriter struct {
	mutex  sync.Mutex
	writer io.Writer
}

func (this *lockedWriter) Write(p []byte) (int, error) {
	this.mutex.Lock()
	defer this.mutex.Unlock()
	return this.writer.Write(p)
}
