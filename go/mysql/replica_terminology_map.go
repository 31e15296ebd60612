/*
   Copyright 2025 GitHub Inc.
	 See https://github.com/github/gh-ost/blob/master/LICENSE
*/

package mysql

const (
	MysqlVersionCutoff = "8.4"
)

var MysqlReplicaTermMap = map[string]string{
	"Seconds_Behind_Master":         "Seconds_Behind_Source",
	"Master_Host":                   "Source_Host",
	"Master_Port":                   "Source_Port",
	"Slave_IO_Running":              "Replica_IO_Running",
	"Slave_SQL_Running":             "Replica_SQL_Running",
	"master status":                 "binary log status",
	"slave status":                  "replica status",
	"slave":                         "replica",
	"change master to":              "change replication source to",
	"master_host":                   "source_host",
	"master_port":                   "source_port",
	"master_user":                   "source_user",
	"master_password":               "source_password",
	"master_auto_position":          "source_auto_position",
	"master_ssl":                    "source_ssl",
	"master_ssl_verify_server_cert": "source_ssl_verify_server_cert",
	"master_ssl_ca":                 "source_ssl_ca",
	"master_ssl_capath":             "source_ssl_capath",
}

// ReplicaTermFor returns the replication term used by the given server version.
// MySQL 8.4 dropped the master/slave vocabulary; older servers and unparseable
// versions keep the given term.
func ReplicaTermFor(mysqlVersion string, term string) string {
	vs, err := NewServerVersion(mysqlVersion)
	if err != nil {
		// default to returning the same term if we cannot determine the version
		return term
	}

	mysqlVersionCutoff, _ := NewServerVersion(MysqlVersionCutoff)
	if vs.GreaterThanOrEqual(mysqlVersionCutoff) {
		if replicaTerm, ok := MysqlReplicaTermMap[term]; ok {
			return replicaTerm
		}
	}
	return term
}
