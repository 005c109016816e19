// Package cluster talks to the Citus coordinator: it registers and
// deregisters worker nodes in the cluster metadata. Both operations are
// idempotent at the coordinator boundary so the reconciler's retries are
// never order- or count-sensitive.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/citusdata/membership-manager/internal/config"
	"github.com/citusdata/membership-manager/internal/logger"
	"github.com/citusdata/membership-manager/internal/reconciler"
)

// WorkerPort is the Postgres port Citus workers listen on. Worker
// containers in a compose project always expose the default port on the
// internal network.
const WorkerPort = 5432

const (
	connectInitialInterval = time.Second
	connectMaxInterval     = 5 * time.Second
)

// db is the subset of pgxpool.Pool the coordinator uses; tests provide a
// fake.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Coordinator executes membership commands against the Citus coordinator.
type Coordinator struct {
	pool db
}

// Connect establishes a connection pool to the coordinator, retrying
// with backoff until it succeeds or ctx is cancelled. Workers typically
// come up before the coordinator accepts connections, so failing fast
// here would just crash-loop the manager.
func Connect(ctx context.Context, cfg *config.Config) (*Coordinator, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse coordinator connection string: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = connectInitialInterval
	bo.MaxInterval = connectMaxInterval

	pool, err := backoff.Retry(ctx, func() (*pgxpool.Pool, error) {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warnf("coordinator %s not reachable, retrying in %s: %v",
				cfg.CoordinatorHost, next.Round(time.Millisecond), err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to coordinator %s: %w", cfg.CoordinatorHost, err)
	}

	logger.Infof("connected to coordinator %s (database %s)", cfg.CoordinatorHost, cfg.Database)
	return &Coordinator{pool: pool}, nil
}

// Close releases the connection pool.
func (c *Coordinator) Close() {
	c.pool.Close()
}

// Ping verifies the coordinator connection is alive.
func (c *Coordinator) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// AddNode registers a worker in the cluster metadata. Registering a node
// that is already present succeeds as a no-op.
func (c *Coordinator) AddNode(ctx context.Context, host string) error {
	logger.Infof("adding worker node %s:%d", host, WorkerPort)

	_, err := c.pool.Exec(ctx, "SELECT master_add_node($1, $2)", host, WorkerPort)
	if err != nil {
		if isAlreadyPresent(err) {
			logger.Debugf("worker node %s already registered", host)
			return nil
		}
		return c.classify(fmt.Errorf("master_add_node(%s, %d): %w", host, WorkerPort, err))
	}
	return nil
}

// RemoveNode deregisters a worker from the cluster metadata. The node's
// shard placements are cleared first: master_remove_node refuses to drop
// a node that still owns placements, and a destroyed container's
// placements are unrecoverable anyway. Removing an absent node succeeds
// as a no-op.
func (c *Coordinator) RemoveNode(ctx context.Context, host string) error {
	logger.Infof("removing worker node %s:%d", host, WorkerPort)

	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return c.classify(fmt.Errorf("begin remove of %s: %w", host, err))
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx,
		`DELETE FROM pg_dist_placement WHERE groupid = (
			SELECT groupid FROM pg_dist_node
			WHERE nodename = $1 AND nodeport = $2 LIMIT 1
		)`, host, WorkerPort)
	if err != nil {
		return c.classify(fmt.Errorf("clear placements of %s: %w", host, err))
	}

	_, err = tx.Exec(ctx, "SELECT master_remove_node($1, $2)", host, WorkerPort)
	if err != nil {
		if isAbsent(err) {
			logger.Debugf("worker node %s already absent", host)
			return nil
		}
		return c.classify(fmt.Errorf("master_remove_node(%s, %d): %w", host, WorkerPort, err))
	}

	if err := tx.Commit(ctx); err != nil {
		return c.classify(fmt.Errorf("commit remove of %s: %w", host, err))
	}
	return nil
}

// classify wraps permanent failures so the executor will not retry them.
func (*Coordinator) classify(err error) error {
	if Classify(err) == ClassPermanent {
		return reconciler.Permanent(err)
	}
	return err
}

// isAlreadyPresent reports whether err is the coordinator rejecting an
// add because the node is already registered.
func isAlreadyPresent(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && strings.Contains(pgErr.Message, "already exists")
}

// isAbsent reports whether err is the coordinator rejecting a remove
// because the node is not registered.
func isAbsent(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && strings.Contains(pgErr.Message, "does not exist")
}
