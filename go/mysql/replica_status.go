/*
   Copyright 2025 GitHub Inc.
	 See https://github.com/github/gh-ost/blob/master/LICENSE
*/

package mysql

import (
	gosql "database/sql"
	"fmt"

	"github.com/openark/golib/sqlutils"
)

// ReplicaStatus is one row of SHOW SLAVE STATUS (SHOW REPLICA STATUS on 8.4+)
type ReplicaStatus struct {
	SourceKey           InstanceKey
	IORunning           string
	SQLRunning          string
	SecondsBehindSource gosql.NullInt64
	LastIOError         string
	LastSQLError        string
}

// IsRunning returns true when both the IO and SQL threads run
func (this *ReplicaStatus) IsRunning() bool {
	return this.IORunning == "Yes" && this.SQLRunning == "Yes"
}

func (this *ReplicaStatus) String() string {
	return fmt.Sprintf("source=%s, IO running=%s, SQL running=%s, lag=%s",
		this.SourceKey.DisplayString(), this.IORunning, this.SQLRunning, this.lagDisplayString())
}

func (this *ReplicaStatus) lagDisplayString() string {
	if !this.SecondsBehindSource.Valid {
		return "NULL"
	}
	return fmt.Sprintf("%ds", this.SecondsBehindSource.Int64)
}

// GetReplicaStatuses reads all replication channels of the server
func GetReplicaStatuses(db *gosql.DB, serverVersion string) ([]*ReplicaStatus, error) {
	term := func(term string) string {
		return ReplicaTermFor(serverVersion, term)
	}
	statuses := []*ReplicaStatus{}
	query := fmt.Sprintf(`show /* mysql-migrate */ %s`, term("slave status"))
	err := sqlutils.QueryRowsMap(db, query, func(m sqlutils.RowMap) error {
		statuses = append(statuses, &ReplicaStatus{
			SourceKey: InstanceKey{
				Hostname: m.GetString(term("Master_Host")),
				Port:     m.GetInt(term("Master_Port")),
			},
			IORunning:           m.GetString(term("Slave_IO_Running")),
			SQLRunning:          m.GetString(term("Slave_SQL_Running")),
			SecondsBehindSource: m.GetNullInt64(term("Seconds_Behind_Master")),
			LastIOError:         m.GetString("Last_IO_Error"),
			LastSQLError:        m.GetString("Last_SQL_Error"),
		})
		return nil
	})
	return statuses, err
}

// FindReplicaStatus returns the status replicating from the given source, or nil
func FindReplicaStatus(statuses []*ReplicaStatus, sourceKey *InstanceKey) *ReplicaStatus {
	for _, status := range statuses {
		if status.SourceKey.Equals(sourceKey) {
			return status
		}
	}
	return nil
}
