// Package db implements the opening and graceful closing of database
// connections.
package db

import (
	"fmt"

	"github.com/custodia-tech/walletd/lib/config"
	"github.com/custodia-tech/walletd/lib/store"
	"github.com/custodia-tech/walletd/lib/store/mongo"
	"github.com/custodia-tech/walletd/lib/store/postgres"
)

const (
	MONGODB  string = "mongodb"
	POSTGRES string = "postgresql"
)

// New returns a new database connection according to the options (database
// type).
func New(options, connection string, pool config.PoolConfig) (store.DB, error) {
	switch options {
	case MONGODB:
		return mongo.New(connection)
	case POSTGRES:
		return postgres.New(connection, pool)
	}

	return nil, fmt.Errorf("unknown database type %q", options)
}

// Close gracefully closes the database connection.
func Close(options string, dh store.DB) error {
	switch options {
	case MONGODB:
		return dh.(*mongo.Mongo).CloseMongo()
	case POSTGRES:
		return dh.(*postgres.Postgres).ClosePostgres()
	}

	return nil
}
