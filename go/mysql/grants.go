/*
   Copyright 2025 GitHub Inc.
	 See https://github.com/github/gh-ost/blob/master/LICENSE
*/

package mysql

import (
	"context"
	gosql "database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/openark/golib/sqlutils"
)

var globalGrantsRegexp = regexp.MustCompile(`^GRANT +(.*) +ON +\*\.\* +TO.*$`)

// ParseGlobalGrants extracts the privilege names of `GRANT ... ON *.* TO ...` lines
func ParseGlobalGrants(grantLines []string) []string {
	grants := []string{}
	for _, grantLine := range grantLines {
		submatch := globalGrantsRegexp.FindStringSubmatch(grantLine)
		if len(submatch) < 2 {
			continue
		}
		for _, grant := range strings.Split(submatch[1], ",") {
			grants = append(grants, strings.ToUpper(strings.TrimSpace(grant)))
		}
	}
	return grants
}

// GetGlobalGrants returns the global privileges of the connected user
func GetGlobalGrants(ctx context.Context, db *gosql.DB) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	grantLines := []string{}
	err := sqlutils.QueryRowsMap(db, `show /* mysql-migrate */ grants for current_user()`, func(m sqlutils.RowMap) error {
		// single column, named after the user
		for _, cell := range m {
			grantLines = append(grantLines, cell.String)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ParseGlobalGrants(grantLines), nil
}

// HasReplicationGrant returns true when the grants allow connecting as a replica
func HasReplicationGrant(grants []string) bool {
	for _, grant := range grants {
		if grant == "REPLICATION SLAVE" || grant == "ALL PRIVILEGES" {
			return true
		}
	}
	return false
}

// PrivilegeCheckUser is the account the replica applier checks privileges against
type PrivilegeCheckUser struct {
	User string
	Host string
}

// ParsePrivilegeCheckUser parses "user" or "user@host"
func ParsePrivilegeCheckUser(account string) (*PrivilegeCheckUser, error) {
	tokens := strings.SplitN(account, "@", 2)
	if tokens[0] == "" {
		return nil, fmt.Errorf("Error while parsing user %q", account)
	}
	user := &PrivilegeCheckUser{User: tokens[0]}
	if len(tokens) == 2 {
		user.Host = tokens[1]
	}
	return user, nil
}

// SQLFormat returns the placeholder form of this account, to be used along with SQLArgs
func (this *PrivilegeCheckUser) SQLFormat() string {
	if this.Host != "" {
		return "?@?"
	}
	return "?"
}

func (this *PrivilegeCheckUser) SQLArgs() []interface{} {
	if this.Host != "" {
		return []interface{}{this.User, this.Host}
	}
	return []interface{}{this.User}
}

func (this *PrivilegeCheckUser) String() string {
	if this.Host != "" {
		return fmt.Sprintf("%s@%s", this.User, this.Host)
	}
	return this.User
}
