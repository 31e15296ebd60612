/*
   Copyright 2025 GitHub Inc.
	 See https://github.com/github/gh-ost/blob/master/LICENSE
*/

package base

import (
	"encoding/json"
	"time"
)

// MigrationErrorDateLayout is the layout of MigrationError.Date on the wire
const MigrationErrorDateLayout = "2006-01-02 15:04:05.000000-0700"

const genericErrorType = "Error"

// MigrationError is the report of a failed run, handed to automation
type MigrationError struct {
	Type    string
	Message string
	Date    time.Time
}

type migrationErrorJSON struct {
	Type    string `json:"error_type"`
	Message string `json:"error_msg"`
	Date    string `json:"error_date"`
}

// NewMigrationError reports err, typed after its failure kind when it has one
func NewMigrationError(err error, date time.Time) *MigrationError {
	errorType := genericErrorType
	if kind := KindOf(err); kind != nil {
		errorType = kind.Name
	}
	return &MigrationError{
		Type:    errorType,
		Message: err.Error(),
		Date:    date,
	}
}

func (this *MigrationError) MarshalJSON() ([]byte, error) {
	return json.Marshal(migrationErrorJSON{
		Type:    this.Type,
		Message: this.Message,
		Date:    this.Date.Format(MigrationErrorDateLayout),
	})
}

func (this *MigrationError) UnmarshalJSON(data []byte) error {
	var raw migrationErrorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	date, err := time.Parse(MigrationErrorDateLayout, raw.Date)
	if err != nil {
		return err
	}
	this.Type = raw.Type
	this.Message = raw.Message
	this.Date = date
	return nil
}

// WriteMigrationError writes the JSON report of err into fileName
func WriteMigrationError(fileName string, err error) error {
	content, marshalErr := json.Marshal(NewMigrationError(err, time.Now()))
	if marshalErr != nil {
		return marshalErr
	}
	return WriteFileAtomic(fileName, content)
}
