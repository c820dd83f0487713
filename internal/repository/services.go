package repository

import (
	"context"
	"time"

	"github.com/imyashkale/mcpdeploy/internal/database"
	"github.com/imyashkale/mcpdeploy/internal/models"
)

// Re-export errors from database package so callers depend on one package
var (
	ErrNotFound      = database.ErrNotFound
	ErrAlreadyExists = database.ErrAlreadyExists
	ErrTerminalState = database.ErrTerminalState
)

// ServiceRepository defines the interface for service record operations.
// Every implementation rejects status changes on records already in a terminal
// status with ErrTerminalState.
type ServiceRepository interface {
	Create(ctx context.Context, record *models.ServiceRecord) error
	Get(ctx context.Context, id string) (*models.ServiceRecord, error)
	List(ctx context.Context) ([]*models.ServiceRecord, error)
	ListByUserId(ctx context.Context, userId string) ([]*models.ServiceRecord, error)
	Update(ctx context.Context, id string, patch *models.ServicePatch) (*models.ServiceRecord, error)
}

// serviceStore is the method set shared by the DynamoDB and PostgreSQL backends
type serviceStore interface {
	CreateService(ctx context.Context, record *models.ServiceRecord) error
	GetService(ctx context.Context, id string) (*models.ServiceRecord, error)
	ListServices(ctx context.Context) ([]*models.ServiceRecord, error)
	ListServicesByUserId(ctx context.Context, userId string) ([]*models.ServiceRecord, error)
	UpdateService(ctx context.Context, id string, patch *models.ServicePatch, now time.Time) (*models.ServiceRecord, error)
}

// storeServiceRepository implements ServiceRepository on a database backend
type storeServiceRepository struct {
	db  serviceStore
	now func() time.Time
}

// NewDynamoServiceRepository creates a new DynamoDB-backed service repository
func NewDynamoServiceRepository(db *database.ServiceTable) ServiceRepository {
	return &storeServiceRepository{db: db, now: time.Now}
}

// NewPostgresServiceRepository creates a new PostgreSQL-backed service repository
func NewPostgresServiceRepository(db *database.ServiceStore) ServiceRepository {
	return &storeServiceRepository{db: db, now: time.Now}
}

// Create stores a new service record
func (r *storeServiceRepository) Create(ctx context.Context, record *models.ServiceRecord) error {
	return r.db.CreateService(ctx, record)
}

// Get retrieves a service record by ID
func (r *storeServiceRepository) Get(ctx context.Context, id string) (*models.ServiceRecord, error) {
	return r.db.GetService(ctx, id)
}

// List retrieves all service records, newest first
func (r *storeServiceRepository) List(ctx context.Context) ([]*models.ServiceRecord, error) {
	records, err := r.db.ListServices(ctx)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(records)
	return records, nil
}

// ListByUserId retrieves the service records of a user, newest first
func (r *storeServiceRepository) ListByUserId(ctx context.Context, userId string) ([]*models.ServiceRecord, error) {
	records, err := r.db.ListServicesByUserId(ctx, userId)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(records)
	return records, nil
}

// Update applies a partial update and returns the stored record
func (r *storeServiceRepository) Update(ctx context.Context, id string, patch *models.ServicePatch) (*models.ServiceRecord, error) {
	return r.db.UpdateService(ctx, id, patch, r.now())
}
