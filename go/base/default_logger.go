/*
   Copyright 2022 GitHub Inc.
         See https://github.com/github/gh-ost/blob/master/LICENSE
*/

package base

import (
	"fmt"

	"github.com/openark/golib/log"
)

const runLoggerIdLength = 8

// runLogger writes through golib's log, tagging every message with the run it belongs to
type runLogger struct {
	prefix string
}

func NewRunLogger(runId string) *runLogger {
	if len(runId) > runLoggerIdLength {
		runId = runId[:runLoggerIdLength]
	}
	if runId == "" {
		return &runLogger{}
	}
	return &runLogger{prefix: fmt.Sprintf("[%s] ", runId)}
}

func (this *runLogger) tag(format string) string {
	return this.prefix + format
}

func (this *runLogger) Debug(args ...interface{}) {
	log.Debug(this.tag("%s"), fmt.Sprint(args...))
}

func (this *runLogger) Debugf(format string, args ...interface{}) {
	log.Debugf(this.tag(format), args...)
}

func (this *runLogger) Info(args ...interface{}) {
	log.Info(this.tag("%s"), fmt.Sprint(args...))
}

func (this *runLogger) Infof(format string, args ...interface{}) {
	log.Infof(this.tag(format), args...)
}

func (this *runLogger) Warning(args ...interface{}) error {
	return this.Warningf("%s", fmt.Sprint(args...))
}

func (this *runLogger) Warningf(format string, args ...interface{}) error {
	log.Warningf(this.tag(format), args...)
	return fmt.Errorf(format, args...)
}

func (this *runLogger) Error(args ...interface{}) error {
	return this.Errorf("%s", fmt.Sprint(args...))
}

func (this *runLogger) Errorf(format string, args ...interface{}) error {
	log.Errorf(this.tag(format), args...)
	return fmt.Errorf(format, args...)
}

// Errore logs err and returns it unchanged, so that its kind survives
func (this *runLogger) Errore(err error) error {
	if err == nil {
		return nil
	}
	log.Errorf(this.tag("%s"), err.Error())
	return err
}

func (this *runLogger) Fatal(args ...interface{}) error {
	return log.Fatal(this.tag("%s"), fmt.Sprint(args...))
}

func (this *runLogger) Fatalf(format string, args ...interface{}) error {
	return log.Fatalf(this.tag(format), args...)
}

func (this *runLogger) Fatale(err error) error {
	if err == nil {
		return nil
	}
	return log.Fatalf(this.tag("%s"), err.Error())
}

func (this *runLogger) SetLevel(level log.LogLevel) {
	log.SetLevel(level)
}

func (this *runLogger) SetPrintStackTrace(printStackTraceFlag bool) {
	log.SetPrintStackTrace(printStackTraceFlag)
}
