package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"site-deployer/pkg/job"
)

// ErrNotFound is returned when an operation requires an existing
// deployment row and none is present.
var ErrNotFound = errors.New("deployment not found")

// ChangeChannel is the NOTIFY channel carrying before/after row images
// for every deployments mutation.
const ChangeChannel = "deployment_changes"

type Client struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string, maxConns int32) (*Client, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return &Client{pool: pool}, nil
}

func (c *Client) Close() {
	c.pool.Close()
}

// InitSchema creates the tables and the change-feed trigger.
func (c *Client) InitSchema(ctx context.Context) error {
	schema := `
    CREATE TABLE IF NOT EXISTS deployments (
        id TEXT PRIMARY KEY CHECK (id = lower(id)),
        repo_url TEXT NOT NULL,
        status TEXT NOT NULL DEFAULT 'PENDING',
        error TEXT,
        connection_id TEXT,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );
    CREATE INDEX IF NOT EXISTS idx_deployments_status ON deployments (status);

    -- Outbox table for transactional outbox pattern
    CREATE TABLE IF NOT EXISTS deployment_outbox (
        id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
        deployment_id TEXT NOT NULL REFERENCES deployments(id) ON DELETE CASCADE,
        payload TEXT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );

    -- Change feed: publish before/after images of every row mutation.
    CREATE OR REPLACE FUNCTION notify_deployment_change() RETURNS trigger AS $fn$
    BEGIN
        PERFORM pg_notify('` + ChangeChannel + `', json_build_object(
            'op',  TG_OP,
            'old', CASE WHEN TG_OP = 'INSERT' THEN NULL ELSE row_to_json(OLD) END,
            'new', CASE WHEN TG_OP = 'DELETE' THEN NULL ELSE row_to_json(NEW) END
        )::text);
        RETURN NULL;
    END;
    $fn$ LANGUAGE plpgsql;

    DROP TRIGGER IF EXISTS deployments_notify ON deployments;
    CREATE TRIGGER deployments_notify
        AFTER INSERT OR UPDATE OR DELETE ON deployments
        FOR EACH ROW EXECUTE FUNCTION notify_deployment_change();
    `
	_, err := c.pool.Exec(ctx, schema)
	return err
}

// CreateDeploymentAndOutbox inserts the deployment row (PENDING) and its
// queue message into the outbox in a single transaction.
func (c *Client) CreateDeploymentAndOutbox(ctx context.Context, id, repoURL, payload string) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	insertDeployment := `INSERT INTO deployments (id, repo_url, status) VALUES ($1, $2, 'PENDING')`
	if _, err := tx.Exec(ctx, insertDeployment, strings.ToLower(id), repoURL); err != nil {
		return err
	}

	insertOutbox := `INSERT INTO deployment_outbox (deployment_id, payload) VALUES ($1, $2)`
	if _, err := tx.Exec(ctx, insertOutbox, strings.ToLower(id), payload); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (c *Client) GetDeployment(ctx context.Context, id string) (*job.Deployment, error) {
	d := &job.Deployment{}
	var errMsg, connID sql.NullString
	query := `SELECT id, repo_url, status, error, connection_id, created_at, updated_at
              FROM deployments WHERE id = $1`
	err := c.pool.QueryRow(ctx, query, strings.ToLower(id)).Scan(
		&d.ID, &d.RepoURL, &d.Status, &errMsg, &connID, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	d.Error = errMsg.String
	d.ConnectionID = connID.String
	return d, nil
}

// AdvanceStatus applies a lifecycle transition as a single guarded
// update: the write lands only if the current status is a legal
// predecessor of the target, so out-of-order and duplicate deliveries
// degrade to no-ops. The error column is populated exactly when the
// target status is ERROR. Returns whether the write was applied.
func (c *Client) AdvanceStatus(ctx context.Context, id string, status job.Status, errMsg string) (bool, error) {
	priors := job.Priors(status)
	if len(priors) == 0 {
		return false, fmt.Errorf("status %s is not a transition target", status)
	}
	from := make([]string, len(priors))
	for i, p := range priors {
		from[i] = string(p)
	}

	var errVal *string
	if status == job.StatusError {
		if errMsg == "" {
			errMsg = "deployment failed"
		}
		errVal = &errMsg
	}

	query := `UPDATE deployments
              SET status = $2, error = $3, updated_at = NOW()
              WHERE id = $1 AND status = ANY($4)`
	tag, err := c.pool.Exec(ctx, query, strings.ToLower(id), status, errVal, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RegisterConnection binds a connection id to an existing deployment.
// The existence check and the write are one conditional UPDATE; a
// missing row yields ErrNotFound and never creates a deployment.
func (c *Client) RegisterConnection(ctx context.Context, id, connectionID string) error {
	query := `UPDATE deployments SET connection_id = $2, updated_at = NOW() WHERE id = $1`
	tag, err := c.pool.Exec(ctx, query, strings.ToLower(id), connectionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// OutboxMessage represents a row in the deployment_outbox table.
type OutboxMessage struct {
	ID           string
	DeploymentID string
	Payload      string
	CreatedAt    time.Time
}

// FetchOutboxMessages retrieves up to 'limit' outbox messages ordered by creation time.
func (c *Client) FetchOutboxMessages(ctx context.Context, limit int) ([]OutboxMessage, error) {
	query := `SELECT id, deployment_id, payload, created_at
              FROM deployment_outbox ORDER BY created_at LIMIT $1`
	rows, err := c.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []OutboxMessage{}
	for rows.Next() {
		var m OutboxMessage
		if err := rows.Scan(&m.ID, &m.DeploymentID, &m.Payload, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// DeleteOutboxMessage removes an outbox message after successful publish.
func (c *Client) DeleteOutboxMessage(ctx context.Context, id string) error {
	_, err := c.pool.Exec(ctx, `DELETE FROM deployment_outbox WHERE id = $1`, id)
	return err
}

// ListenChanges holds one connection on the change-feed channel and
// invokes handle for each notification payload. It returns when ctx is
// cancelled or the connection drops; the caller owns reconnection.
func (c *Client) ListenChanges(ctx context.Context, handle func(payload string)) error {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		return err
	}
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		handle(n.Payload)
	}
}
