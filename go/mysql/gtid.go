/*
   Copyright 2022 GitHub Inc.
	 See https://github.com/github/gh-ost/blob/master/LICENSE
*/

package mysql

import (
	"strings"
	"unicode"

	gomysql "github.com/go-mysql-org/go-mysql/mysql"
)

// GTIDSet describes a set of executed transactions in MySQL GTID format,
// e.g. a dump position or a server's @@global.gtid_executed.
type GTIDSet struct {
	Set *gomysql.MysqlGTIDSet
}

// NewGTIDSet parses a MySQL GTID set. Whitespace, including the line breaks
// found in dumps and SHOW outputs, is ignored.
func NewGTIDSet(gtidSet string) (*GTIDSet, error) {
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, gtidSet)
	set, err := gomysql.ParseMysqlGTIDSet(compact)
	if err != nil {
		return nil, err
	}
	return &GTIDSet{Set: set.(*gomysql.MysqlGTIDSet)}, nil
}

// IsEmpty returns true if the set contains no transactions.
func (this *GTIDSet) IsEmpty() bool {
	return this.Set == nil || len(this.Set.Sets) == 0
}

// Contains returns true if every transaction of other is in this set.
func (this *GTIDSet) Contains(other *GTIDSet) bool {
	if other.IsEmpty() {
		return true
	}
	if this.IsEmpty() {
		return false
	}
	return this.Set.Contain(other.Set)
}

// String returns the canonical representation of the set.
func (this GTIDSet) String() string {
	if this.Set == nil {
		return ""
	}
	return this.Set.String()
}
