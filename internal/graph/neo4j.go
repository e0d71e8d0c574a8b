// Package graph exports initiatives and their relationships to Neo4j.
package graph

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rotisserie/eris"
)

// Executor runs one Cypher statement and returns its eager result.
type Executor interface {
	ExecuteQuery(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error)
	Close(ctx context.Context) error
}

// Config holds Neo4j connection settings.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
	Timeout  time.Duration
}

// Neo4jExecutor runs statements through the official driver.
type Neo4jExecutor struct {
	driver   neo4j.DriverWithContext
	database string
}

// Connect opens a driver and verifies connectivity.
func Connect(ctx context.Context, cfg Config) (*Neo4jExecutor, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""), func(c *neo4j.Config) {
		c.SocketConnectTimeout = timeout
	})
	if err != nil {
		return nil, eris.Wrap(err, "graph: init driver")
	}

	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, eris.Wrap(err, "graph: verify connectivity")
	}
	return &Neo4jExecutor{driver: driver, database: cfg.Database}, nil
}

// ExecuteQuery implements Executor.
func (e *Neo4jExecutor) ExecuteQuery(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	var opts []neo4j.ExecuteQueryConfigurationOption
	if e.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(e.database))
	}
	res, err := neo4j.ExecuteQuery(ctx, e.driver, query, params, neo4j.EagerResultTransformer, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "graph: execute query")
	}
	return res, nil
}

// Close releases the driver.
func (e *Neo4jExecutor) Close(ctx context.Context) error {
	return e.driver.Close(ctx)
}
