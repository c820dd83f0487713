package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/imyashkale/mcpdeploy/internal/logger"
	"github.com/imyashkale/mcpdeploy/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const serviceSchema = `
CREATE TABLE IF NOT EXISTS mcp_services (
	id                 TEXT PRIMARY KEY,
	user_id            TEXT NOT NULL,
	service_id         TEXT NOT NULL DEFAULT '',
	deploy_id          TEXT NOT NULL DEFAULT '',
	name               TEXT NOT NULL,
	repository         TEXT NOT NULL,
	branch             TEXT NOT NULL DEFAULT '',
	build_command      TEXT NOT NULL DEFAULT '',
	start_command      TEXT NOT NULL DEFAULT '',
	root_dir           TEXT NOT NULL DEFAULT '',
	runtime            TEXT NOT NULL DEFAULT '',
	plan               TEXT NOT NULL DEFAULT '',
	env_vars           JSONB NOT NULL DEFAULT '[]',
	status             TEXT NOT NULL,
	url                TEXT NOT NULL DEFAULT '',
	tools              JSONB NOT NULL DEFAULT '[]',
	description        TEXT NOT NULL DEFAULT '',
	advertised_env     JSONB,
	last_discovered_at TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS mcp_services_user_id_idx ON mcp_services (user_id);
CREATE INDEX IF NOT EXISTS mcp_services_status_idx ON mcp_services (status);
`

const serviceColumns = `id, user_id, service_id, deploy_id, name, repository, branch, build_command,
	start_command, root_dir, runtime, plan, env_vars, status, url, tools, description,
	advertised_env, last_discovered_at, created_at, updated_at`

// uniqueViolation is the PostgreSQL error code for duplicate keys
const uniqueViolation = "23505"

// ServiceStore handles PostgreSQL operations for service records
type ServiceStore struct {
	pool *pgxpool.Pool
}

// NewServiceStore connects to PostgreSQL and ensures the schema exists
func NewServiceStore(ctx context.Context, databaseURL string) (*ServiceStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}

	if _, err := pool.Exec(ctx, serviceSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info("PostgreSQL service store initialized")
	return &ServiceStore{pool: pool}, nil
}

// Close releases the connection pool
func (s *ServiceStore) Close() {
	s.pool.Close()
}

// CreateService inserts a new service record
func (s *ServiceStore) CreateService(ctx context.Context, r *models.ServiceRecord) error {
	envVars, err := json.Marshal(nonNilEnvVars(r.EnvVars))
	if err != nil {
		return fmt.Errorf("failed to marshal env vars: %w", err)
	}
	tools, err := json.Marshal(nonNilTools(r.Tools))
	if err != nil {
		return fmt.Errorf("failed to marshal tools: %w", err)
	}
	advertised, err := marshalNullable(r.AdvertisedEnv)
	if err != nil {
		return fmt.Errorf("failed to marshal advertised env: %w", err)
	}

	const q = `INSERT INTO mcp_services (` + serviceColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	_, err = s.pool.Exec(ctx, q,
		r.Id, r.UserId, r.ServiceId, r.DeployId, r.Name, r.Repository, r.Branch, r.BuildCommand,
		r.StartCommand, r.RootDir, r.Runtime, r.Plan, envVars, string(r.Status), r.URL, tools,
		r.Description, advertised, r.LastDiscoveredAt, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create service record: %w", err)
	}
	return nil
}

// GetService retrieves a service record by ID
func (s *ServiceStore) GetService(ctx context.Context, id string) (*models.ServiceRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+serviceColumns+` FROM mcp_services WHERE id = $1`, id)
	r, err := scanService(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// ListServices returns every service record, newest first
func (s *ServiceStore) ListServices(ctx context.Context) ([]*models.ServiceRecord, error) {
	return s.query(ctx, `SELECT `+serviceColumns+` FROM mcp_services ORDER BY created_at DESC`)
}

// ListServicesByUserId returns the service records owned by a user, newest first
func (s *ServiceStore) ListServicesByUserId(ctx context.Context, userId string) ([]*models.ServiceRecord, error) {
	return s.query(ctx, `SELECT `+serviceColumns+` FROM mcp_services WHERE user_id = $1 ORDER BY created_at DESC`, userId)
}

func (s *ServiceStore) query(ctx context.Context, q string, args ...interface{}) ([]*models.ServiceRecord, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list service records: %w", err)
	}
	defer rows.Close()

	records := make([]*models.ServiceRecord, 0)
	for rows.Next() {
		r, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list service records: %w", err)
	}
	return records, nil
}

// UpdateService applies a partial update guarded against leaving a terminal status
func (s *ServiceStore) UpdateService(ctx context.Context, id string, patch *models.ServicePatch, now time.Time) (*models.ServiceRecord, error) {
	args := []interface{}{id, now}
	sets := []string{"updated_at = $2"}
	where := "id = $1"

	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if patch.Status != nil {
		p := next(string(*patch.Status))
		sets = append(sets, "status = "+p)

		terminal := make([]string, 0)
		for _, st := range models.TerminalStatuses() {
			terminal = append(terminal, string(st))
		}
		where += fmt.Sprintf(" AND (status = %s OR NOT (status = ANY(%s)))", p, next(terminal))
	}
	if patch.URL != nil {
		sets = append(sets, "url = "+next(*patch.URL))
	}
	if patch.Tools != nil {
		tools, err := json.Marshal(nonNilTools(*patch.Tools))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tools: %w", err)
		}
		sets = append(sets, "tools = "+next(tools))
	}
	if patch.Description != nil {
		sets = append(sets, "description = "+next(*patch.Description))
	}
	if patch.AdvertisedEnv != nil {
		env, err := json.Marshal(patch.AdvertisedEnv)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal advertised env: %w", err)
		}
		sets = append(sets, "advertised_env = "+next(env))
	}
	if patch.LastDiscoveredAt != nil {
		sets = append(sets, "last_discovered_at = "+next(*patch.LastDiscoveredAt))
	}

	q := fmt.Sprintf(`UPDATE mcp_services SET %s WHERE %s RETURNING %s`, strings.Join(sets, ", "), where, serviceColumns)
	r, err := scanService(s.pool.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetService(ctx, id); getErr != nil {
			return nil, getErr
		}
		logger.WithField("record_id", id).Warn("Rejected status change on terminal service record")
		return nil, ErrTerminalState
	}
	return r, err
}

func scanService(row pgx.Row) (*models.ServiceRecord, error) {
	var (
		r          models.ServiceRecord
		status     string
		envVars    []byte
		tools      []byte
		advertised []byte
	)
	err := row.Scan(
		&r.Id, &r.UserId, &r.ServiceId, &r.DeployId, &r.Name, &r.Repository, &r.Branch, &r.BuildCommand,
		&r.StartCommand, &r.RootDir, &r.Runtime, &r.Plan, &envVars, &status, &r.URL, &tools,
		&r.Description, &advertised, &r.LastDiscoveredAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan service record: %w", err)
	}

	r.Status = models.DeploymentStatus(status)
	if err := json.Unmarshal(envVars, &r.EnvVars); err != nil {
		return nil, fmt.Errorf("decode env vars: %w", err)
	}
	if err := json.Unmarshal(tools, &r.Tools); err != nil {
		return nil, fmt.Errorf("decode tools: %w", err)
	}
	if len(advertised) > 0 {
		if err := json.Unmarshal(advertised, &r.AdvertisedEnv); err != nil {
			return nil, fmt.Errorf("decode advertised env: %w", err)
		}
	}
	return &r, nil
}

func marshalNullable(env map[string]string) ([]byte, error) {
	if env == nil {
		return nil, nil
	}
	return json.Marshal(env)
}

func nonNilEnvVars(v []models.EnvironmentVariable) []models.EnvironmentVariable {
	if v == nil {
		return []models.EnvironmentVariable{}
	}
	return v
}

func nonNilTools(v []models.ToolDescriptor) []models.ToolDescriptor {
	if v == nil {
		return []models.ToolDescriptor{}
	}
	return v
}
