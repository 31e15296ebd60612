/*
   Copyright 2025 GitHub Inc.
	 See https://github.com/github/gh-ost/blob/master/LICENSE
*/

package logic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mysql-migrate/mysql-migrate/go/base"
	"github.com/mysql-migrate/mysql-migrate/go/mysql"
	mmos "github.com/mysql-migrate/mysql-migrate/go/os"
)

func newTestProcessExecutor(requiresPrimaryKey bool) (*ProcessExecutor, *bytes.Buffer) {
	executor := NewProcessExecutor(base.NewMigrationContext())
	stderr := &bytes.Buffer{}
	executor.Stderr = stderr
	executor.requiresPrimaryKey = func(context.Context, *mysql.ConnectionConfig) (bool, error) {
		return requiresPrimaryKey, nil
	}
	return executor, stderr
}

func shellCommand(script string) []string {
	return []string{"sh", "-c", script}
}

func importInto(t *testing.T) (command []string, output string) {
	output = filepath.Join(t.TempDir(), "import.sql")
	return shellCommand(fmt.Sprintf("cat > %s", output)), output
}

func TestProcessExecutorRelaysProcessedLines(t *testing.T) {
	executor, _ := newTestProcessExecutor(false)
	importCommand, output := importInto(t)

	dump := strings.Join([]string{
		"SET @@SESSION.SQL_LOG_BIN= 0;",
		"SET @@GLOBAL.GTID_PURGED=/*!80000 '+'*/ '866a7051-3311-11eb-8485-0aa2f299396b:1-1213,",
		"d80acc99-4913-11eb-b1d5-42010af00042:1-249';",
		"CREATE DEFINER=`admin`@`%` PROCEDURE `p`()",
		"",
		"INSERT INTO t VALUES (1);",
		"INSERT INTO t VALUES (2);",
	}, "\n")
	dumpFile := filepath.Join(t.TempDir(), "dump.sql")
	require.NoError(t, os.WriteFile(dumpFile, []byte(dump), 0644))

	result, err := executor.Run(context.Background(), []string{"cat", dumpFile}, importCommand, mysql.NewConnectionConfig(), NewMysqldumpLineProcessor(), false)
	require.NoError(t, err)
	require.True(t, result.HasPosition)
	require.Equal(t, "866a7051-3311-11eb-8485-0aa2f299396b:1-1213,d80acc99-4913-11eb-b1d5-42010af00042:1-249", result.Position)

	imported, err := os.ReadFile(output)
	require.NoError(t, err)
	require.Equal(t, "CREATE PROCEDURE `p`()\nINSERT INTO t VALUES (1);\nINSERT INTO t VALUES (2);\n", string(imported))
}

func TestProcessExecutorRequirePrimaryKeyOverride(t *testing.T) {
	executor, _ := newTestProcessExecutor(true)
	importCommand, output := importInto(t)

	result, err := executor.Run(context.Background(), shellCommand(`echo "CREATE TABLE t (v INT);"`), importCommand, mysql.NewConnectionConfig(), NewMysqldumpLineProcessor(), false)
	require.NoError(t, err)
	require.False(t, result.HasPosition)

	imported, err := os.ReadFile(output)
	require.NoError(t, err)
	require.Equal(t, "SET SESSION sql_require_primary_key = 0;\nCREATE TABLE t (v INT);\n", string(imported))
}

func TestProcessExecutorRequirePrimaryKeyError(t *testing.T) {
	executor, _ := newTestProcessExecutor(false)
	executor.requiresPrimaryKey = func(context.Context, *mysql.ConnectionConfig) (bool, error) {
		return false, errors.New("connection refused")
	}
	_, err := executor.Run(context.Background(), shellCommand("true"), shellCommand("cat"), mysql.NewConnectionConfig(), NewMysqldumpLineProcessor(), false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection refused")
}

func TestProcessExecutorExitCodes(t *testing.T) {
	testCases := []struct {
		name          string
		exportCommand []string
		importCommand []string
		kind          *base.ErrorKind
		message       string
	}{
		{
			name:          "export-fails",
			exportCommand: shellCommand("echo 'SELECT 1;'; exit 3"),
			importCommand: shellCommand("cat > /dev/null"),
			kind:          base.ErrMySQLDump,
			message:       "Error while exporting data from the source database, exit code: 3",
		},
		{
			name:          "import-fails",
			exportCommand: shellCommand("echo 'SELECT 1;'"),
			importCommand: shellCommand("cat > /dev/null; exit 4"),
			kind:          base.ErrMySQLImport,
			message:       "Error while importing data into the target database, exit code: 4",
		},
		{
			name:          "both-fail",
			exportCommand: shellCommand("echo 'SELECT 1;'; exit 3"),
			importCommand: shellCommand("cat > /dev/null; exit 4"),
			kind:          base.ErrMySQLDump,
			message:       "Error while exporting data from the source database, exit code: 3",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			executor, _ := newTestProcessExecutor(false)
			_, err := executor.Run(context.Background(), tc.exportCommand, tc.importCommand, mysql.NewConnectionConfig(), NewMysqldumpLineProcessor(), false)
			require.Error(t, err)
			require.True(t, errors.Is(err, tc.kind))
			require.EqualError(t, err, tc.message)
		})
	}
}

func TestProcessExecutorImportGoesAway(t *testing.T) {
	executor, _ := newTestProcessExecutor(false)
	exportCommand := shellCommand("while true; do echo 'INSERT INTO t VALUES (1);'; done")
	importCommand := shellCommand("head -n 1 > /dev/null; exit 5")

	_, err := executor.Run(context.Background(), exportCommand, importCommand, mysql.NewConnectionConfig(), NewMysqldumpLineProcessor(), false)
	require.Error(t, err)
	require.True(t, errors.Is(err, base.ErrMySQLImport))
	require.Contains(t, err.Error(), "exit code: 5")
}

func TestProcessExecutorImportGoesAwayUnderSignalContext(t *testing.T) {
	require.NotContains(t, mmos.TerminationSignals, os.Signal(syscall.SIGPIPE))

	ctx, stop := signal.NotifyContext(context.Background(), mmos.TerminationSignals...)
	defer stop()

	executor, _ := newTestProcessExecutor(false)
	exportCommand := shellCommand("yes 'INSERT INTO t VALUES (1);' | head -n 200000")
	importCommand := shellCommand("head -c 10 > /dev/null; exit 3")

	_, err := executor.Run(ctx, exportCommand, importCommand, mysql.NewConnectionConfig(), NewMysqldumpLineProcessor(), false)
	require.ErrorIs(t, err, base.ErrMySQLImport)
	require.Contains(t, err.Error(), "exit code: 3")
	require.NoError(t, ctx.Err())
}

func TestProcessExecutorImportExitCodeWinsOverCancellation(t *testing.T) {
	executor, _ := newTestProcessExecutor(false)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(500 * time.Millisecond)
		cancel()
	}()

	_, err := executor.Run(ctx, shellCommand("exec sleep 30"), shellCommand("exit 3"), mysql.NewConnectionConfig(), NewMysqldumpLineProcessor(), false)
	require.ErrorIs(t, err, base.ErrMySQLImport)
	require.EqualError(t, err, "Error while importing data into the target database, exit code: 3")
}

func TestProcessExecutorPreservesCarriageReturns(t *testing.T) {
	executor, _ := newTestProcessExecutor(false)
	importCommand, output := importInto(t)

	dump := "DELIMITER ;;\nCREATE PROCEDURE `p`()\r\nBEGIN\r\n  SELECT 'a\r';\r\nEND ;;\nDELIMITER ;\n"
	dumpFile := filepath.Join(t.TempDir(), "dump.sql")
	require.NoError(t, os.WriteFile(dumpFile, []byte(dump), 0644))

	_, err := executor.Run(context.Background(), []string{"cat", dumpFile}, importCommand, mysql.NewConnectionConfig(), NewMysqldumpLineProcessor(), false)
	require.NoError(t, err)

	imported, err := os.ReadFile(output)
	require.NoError(t, err)
	require.Equal(t, dump, string(imported))
}

func TestProcessExecutorRelaysStderr(t *testing.T) {
	executor, stderr := newTestProcessExecutor(false)
	exportCommand := shellCommand("echo 'mysqldump: [Warning] Using a password on the command line interface can be insecure.' >&2")
	importCommand := shellCommand("cat > /dev/null; echo 'mysql: [Warning] insecure' >&2")

	_, err := executor.Run(context.Background(), exportCommand, importCommand, mysql.NewConnectionConfig(), NewMysqldumpLineProcessor(), false)
	require.NoError(t, err)
	require.Contains(t, stderr.String(), "mysqldump: [Warning] Using a password")
	require.Contains(t, stderr.String(), "mysql: [Warning] insecure")
}

func TestProcessExecutorPreservesOrderUnderBackpressure(t *testing.T) {
	executor, _ := newTestProcessExecutor(false)
	output := filepath.Join(t.TempDir(), "import.sql")
	exportCommand := shellCommand("i=0; while [ $i -lt 20000 ]; do echo \"INSERT INTO t VALUES ($i);\"; i=$((i+1)); done")
	importCommand := shellCommand(fmt.Sprintf("sleep 0.2; cat > %s", output))

	_, err := executor.Run(context.Background(), exportCommand, importCommand, mysql.NewConnectionConfig(), NewMysqldumpLineProcessor(), false)
	require.NoError(t, err)

	imported, err := os.ReadFile(output)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(imported), "\n"), "\n")
	require.Len(t, lines, 20000)
	for i, line := range lines {
		require.Equal(t, fmt.Sprintf("INSERT INTO t VALUES (%d);", i), line)
	}
}

func TestProcessExecutorProcessorFailureTerminates(t *testing.T) {
	executor, _ := newTestProcessExecutor(false)
	processor := NewMydumperLineProcessor(t.TempDir(), "")
	exportCommand := shellCommand("echo '-- metadata 0'; exec sleep 30")

	started := time.Now()
	_, err := executor.Run(context.Background(), exportCommand, shellCommand("exec cat > /dev/null"), mysql.NewConnectionConfig(), processor, false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Metadata file not found in dump output directory")
	require.Less(t, time.Since(started), 20*time.Second)
}

func TestProcessExecutorCancellation(t *testing.T) {
	executor, _ := newTestProcessExecutor(false)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	started := time.Now()
	_, err := executor.Run(ctx, shellCommand("exec sleep 30"), shellCommand("exec sleep 30"), mysql.NewConnectionConfig(), NewMysqldumpLineProcessor(), false)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(started), 20*time.Second)

	executor.Terminate()
	executor.Terminate()
}

func TestProcessExecutorTerminateBeforeRun(t *testing.T) {
	executor, _ := newTestProcessExecutor(false)
	executor.Terminate()
	executor.Terminate()
}

func TestProcessExecutorMissingBinary(t *testing.T) {
	executor, _ := newTestProcessExecutor(false)
	_, err := executor.Run(context.Background(), []string{"mysql-migrate-no-such-mysqldump"}, shellCommand("cat"), mysql.NewConnectionConfig(), NewMysqldumpLineProcessor(), false)
	require.True(t, errors.Is(err, base.ErrMySQLDump))

	_, err = executor.Run(context.Background(), shellCommand("echo 1"), []string{"mysql-migrate-no-such-mysql"}, mysql.NewConnectionConfig(), NewMysqldumpLineProcessor(), false)
	require.True(t, errors.Is(err, base.ErrMySQLImport))
}
