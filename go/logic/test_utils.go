/*
   Copyright 2025 GitHub Inc.
	 See https://github.com/github/gh-ost/blob/master/LICENSE
*/

package logic

import (
	"context"
	"fmt"
	"net/url"

	"github.com/testcontainers/testcontainers-go"
	mysqlmodule "github.com/testcontainers/testcontainers-go/modules/mysql"
	"github.com/testcontainers/testcontainers-go/network"

	"github.com/mysql-migrate/mysql-migrate/go/base"
	"github.com/mysql-migrate/mysql-migrate/go/mysql"
)

var (
	testMysqlContainerImage = "mysql:8.0.42"
	testMysqlUser           = "root"
	testMysqlPass           = "root-password"
	testMysqlDatabase       = "app"
	testMysqlSourceAlias    = "source"
)

// runTestMysqlContainer starts a MySQL server ready to act as a replication
// source, attached to nw under the given aliases
func runTestMysqlContainer(ctx context.Context, serverId int, nw *testcontainers.DockerNetwork, aliases ...string) (*mysqlmodule.MySQLContainer, error) {
	return mysqlmodule.Run(ctx, testMysqlContainerImage,
		mysqlmodule.WithUsername(testMysqlUser),
		mysqlmodule.WithPassword(testMysqlPass),
		network.WithNetwork(aliases, nw),
		testcontainers.WithCmd(
			fmt.Sprintf("--server-id=%d", serverId),
			"--log-bin=mysql-bin",
			"--binlog-format=ROW",
			"--gtid-mode=ON",
			"--enforce-gtid-consistency=ON",
		),
	)
}

// getTestReplicationSource returns the source container as other containers
// on the network reach it
func getTestReplicationSource() (*mysql.ConnectionConfig, error) {
	serviceURI := url.URL{
		Scheme: "mysql",
		User:   url.UserPassword(testMysqlUser, testMysqlPass),
		Host:   fmt.Sprintf("%s:%d", testMysqlSourceAlias, mysql.DefaultPort),
	}
	return mysql.ParseConnectionURI(serviceURI.String(), "source")
}

// getTestServiceURI returns the service URI of the container's root user
func getTestServiceURI(ctx context.Context, container testcontainers.Container) (string, error) {
	host, err := container.Host(ctx)
	if err != nil {
		return "", err
	}
	port, err := container.MappedPort(ctx, "3306")
	if err != nil {
		return "", err
	}
	serviceURI := url.URL{
		Scheme: "mysql",
		User:   url.UserPassword(testMysqlUser, testMysqlPass),
		Host:   fmt.Sprintf("%s:%s", host, port.Port()),
	}
	return serviceURI.String(), nil
}

func newTestMigrationContext(sourceURI, targetURI, targetMasterURI string) (*base.MigrationContext, error) {
	migrationContext := base.NewMigrationContext()
	if err := migrationContext.SetConnectionURIs(sourceURI, targetURI, targetMasterURI); err != nil {
		return nil, err
	}
	return migrationContext, nil
}
