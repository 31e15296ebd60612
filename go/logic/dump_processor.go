/*
   Copyright 2025 GitHub Inc.
	 See https://github.com/github/gh-ost/blob/master/LICENSE
*/

package logic

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-ini/ini"
)

const (
	// MetadataFileName is the file mydumper writes the source position into
	MetadataFileName = "metadata"

	metadataSection    = "source"
	metadataGtidSetKey = "executed_gtid_set"
)

var (
	gtidPurgedStartRegexp = regexp.MustCompile(`^SET +@@GLOBAL.GTID_PURGED *= */\*!80000 +'\+'\*/ *'([^']*)`)
	gtidPurgedEndRegexp   = regexp.MustCompile(`^(.*?)' *;`)

	sqlLogBinRegexp = regexp.MustCompile(`^SET +@@SESSION.SQL_LOG_BIN *= *.*?;$`)

	routineDefinerRegexp = regexp.MustCompile("^CREATE DEFINER *= *(`.*?`@`.*?`) +(.*$)")
	importDefinerRegexp  = regexp.MustCompile("^/\\*!50013 DEFINER *= *`.*?`@`.*?` +SQL SECURITY DEFINER \\*/$")
	extraDefinerRegexp   = regexp.MustCompile("^(/\\*!(?:50003|50106) CREATE *\\*/ *)(/\\*!(?:50017|50117) +DEFINER *= *`.*?`@`.*?`\\*/)(.*$)")

	dumpMarkerRegexp = regexp.MustCompile(`^-- (\S+) [0-9]+$`)
)

// LineProcessor rewrites the output of a dump tool, one line at a time, on
// its way to the import tool. An empty result drops the line. Implementations
// keep per-run state and are not safe for concurrent use.
type LineProcessor interface {
	ProcessLine(line string) (string, error)
	// ExtractedPosition returns the GTID set the dump was taken at, if the stream revealed it
	ExtractedPosition() (string, bool)
}

type gtidScanState int

const (
	scanningState gtidScanState = iota
	accumulatingPositionState
)

// MysqldumpLineProcessor filters a mysqldump SQL stream: it captures and drops
// the GTID_PURGED statement, drops SQL_LOG_BIN toggles and strips definers.
type MysqldumpLineProcessor struct {
	state          gtidScanState
	positionBuffer strings.Builder
	position       string
	extracted      bool
}

func NewMysqldumpLineProcessor() *MysqldumpLineProcessor {
	return &MysqldumpLineProcessor{}
}

func (this *MysqldumpLineProcessor) ProcessLine(line string) (string, error) {
	if line != "" && !this.extracted {
		if rewritten, consumed := this.scanPosition(line); consumed {
			return rewritten, nil
		}
	}
	line = removeLogBinStatement(line)
	line = removeDefiners(line)
	return line, nil
}

// scanPosition advances the GTID_PURGED state machine. consumed is true when
// the line belongs to the statement and must be dropped.
func (this *MysqldumpLineProcessor) scanPosition(line string) (rewritten string, consumed bool) {
	switch this.state {
	case accumulatingPositionState:
		if submatch := gtidPurgedEndRegexp.FindStringSubmatch(line); submatch != nil {
			this.positionBuffer.WriteString(submatch[1])
			this.setPosition(this.positionBuffer.String())
		} else {
			this.positionBuffer.WriteString(strings.TrimRight(line, "\r\n"))
		}
		return "", true
	default:
		submatch := gtidPurgedStartRegexp.FindStringSubmatch(line)
		if submatch == nil {
			return line, false
		}
		if gtidPurgedEndRegexp.MatchString(line) {
			this.setPosition(submatch[1])
		} else {
			this.state = accumulatingPositionState
			this.positionBuffer.WriteString(strings.TrimRight(submatch[1], "\r\n"))
		}
		return "", true
	}
}

func (this *MysqldumpLineProcessor) setPosition(position string) {
	this.position = position
	this.extracted = true
	this.state = scanningState
	this.positionBuffer.Reset()
}

func (this *MysqldumpLineProcessor) ExtractedPosition() (string, bool) {
	return this.position, this.extracted
}

// removeLogBinStatement drops SET @@SESSION.SQL_LOG_BIN statements, so that the
// import is written to the target's binary log and reaches its replicas.
func removeLogBinStatement(line string) string {
	if line != "" && sqlLogBinRegexp.MatchString(line) {
		return ""
	}
	return line
}

// removeDefiners strips DEFINER clauses from routines, triggers, events and
// views, so that objects get created with the importing user as definer.
func removeDefiners(line string) string {
	if importDefinerRegexp.MatchString(line) {
		return ""
	}
	if extraDefinerRegexp.MatchString(line) {
		return extraDefinerRegexp.ReplaceAllString(line, "${1}${3}")
	}
	return routineDefinerRegexp.ReplaceAllString(line, "CREATE ${2}")
}

// MydumperLineProcessor watches the file markers mydumper prints with
// --stream. When the metadata file is announced, it is backed up and the
// source position is read from it. Lines pass through unchanged.
type MydumperLineProcessor struct {
	dumpOutputDir string
	backupDir     string
	position      string
	extracted     bool
}

// NewMydumperLineProcessor creates a processor reading markers about files in
// dumpOutputDir. backupDir receives a copy of the metadata file; it may be empty.
func NewMydumperLineProcessor(dumpOutputDir string, backupDir string) *MydumperLineProcessor {
	return &MydumperLineProcessor{
		dumpOutputDir: dumpOutputDir,
		backupDir:     backupDir,
	}
}

func (this *MydumperLineProcessor) ProcessLine(line string) (string, error) {
	submatch := dumpMarkerRegexp.FindStringSubmatch(line)
	if submatch == nil || submatch[1] != MetadataFileName {
		return line, nil
	}
	metadataFile := filepath.Join(this.dumpOutputDir, MetadataFileName)
	if _, err := os.Stat(metadataFile); err != nil {
		return "", fmt.Errorf("Metadata file not found in dump output directory: %s", metadataFile)
	}
	if this.backupDir != "" {
		if err := copyFile(metadataFile, filepath.Join(this.backupDir, MetadataFileName)); err != nil {
			return "", fmt.Errorf("Error backing up %s: %w", metadataFile, err)
		}
	}
	position, found, err := ReadMetadataPosition(metadataFile)
	if err != nil {
		return "", err
	}
	if found {
		this.position = position
		this.extracted = true
	}
	return line, nil
}

func (this *MydumperLineProcessor) ExtractedPosition() (string, bool) {
	return this.position, this.extracted
}

// ReadMetadataPosition reads executed_gtid_set from the [source] section of a
// mydumper metadata file. found is false when the key is missing or empty.
func ReadMetadataPosition(fileName string) (position string, found bool, err error) {
	metadata, err := ini.LoadSources(ini.LoadOptions{
		AllowBooleanKeys:        true,
		IgnoreInlineComment:     true,
		SkipUnrecognizableLines: true,
	}, fileName)
	if err != nil {
		return "", false, fmt.Errorf("Error reading metadata file %s: %w", fileName, err)
	}
	section, err := metadata.GetSection(metadataSection)
	if err != nil {
		return "", false, nil
	}
	if !section.HasKey(metadataGtidSetKey) {
		return "", false, nil
	}
	position = strings.Trim(strings.TrimSpace(section.Key(metadataGtidSetKey).String()), `"'`)
	return position, position != "", nil
}

func copyFile(sourceFile string, destinationFile string) error {
	source, err := os.Open(sourceFile)
	if err != nil {
		return err
	}
	defer source.Close()

	destination, err := os.OpenFile(destinationFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(destination, source); err != nil {
		destination.Close()
		return err
	}
	return destination.Close()
}
