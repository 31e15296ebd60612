/*
   Copyright 2023 GitHub Inc.
         See https://github.com/github/gh-ost/blob/master/LICENSE
*/

package mysql

import (
	"context"
	gosql "database/sql"

	version "github.com/hashicorp/go-version"
)

// ServerInfo represents the online config of a MySQL server.
type ServerInfo struct {
	Version        string
	VersionComment string
	ServerId       int64
	GtidMode       string
	BinlogFormat   string
}

// GetServerInfo returns a ServerInfo struct representing
// the online config of a MySQL server.
func GetServerInfo(ctx context.Context, db *gosql.DB) (*ServerInfo, error) {
	var info ServerInfo
	query := `select /* mysql-migrate */ @@global.version, @@global.version_comment, @@global.server_id,
		@@global.gtid_mode, @@global.binlog_format`
	if err := db.QueryRowContext(ctx, query).Scan(&info.Version, &info.VersionComment, &info.ServerId,
		&info.GtidMode, &info.BinlogFormat,
	); err != nil {
		return nil, err
	}

	return &info, nil
}

// NewServerVersion parses a server version such as "8.0.36-28-log", ignoring
// vendor suffixes so that they do not compare as pre-releases.
func NewServerVersion(serverVersion string) (*version.Version, error) {
	vs, err := version.NewVersion(serverVersion)
	if err != nil {
		return nil, err
	}
	return vs.Core(), nil
}

// IsVersionAtLeast returns true when serverVersion >= minVersion. Unparseable
// versions are never at least anything.
func IsVersionAtLeast(serverVersion string, minVersion string) bool {
	vs, err := NewServerVersion(serverVersion)
	if err != nil {
		return false
	}
	return vs.GreaterThanOrEqual(version.Must(version.NewVersion(minVersion)))
}

// IsVersionInRange returns true when minVersion <= serverVersion < maxVersion
func IsVersionInRange(serverVersion string, minVersion string, maxVersion string) bool {
	vs, err := NewServerVersion(serverVersion)
	if err != nil {
		return false
	}
	return vs.GreaterThanOrEqual(version.Must(version.NewVersion(minVersion))) &&
		vs.LessThan(version.Must(version.NewVersion(maxVersion)))
}
