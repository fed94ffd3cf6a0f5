package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const environmentsTable = "environments"

var environmentStruct = database.NewStruct(new(models.Environment))

// EnvironmentRepository handles database operations for environments
type EnvironmentRepository struct {
	*Repository
}

// NewEnvironmentRepository creates a new environment repository
func NewEnvironmentRepository(db database.DB, logger ectologger.Logger) *EnvironmentRepository {
	return &EnvironmentRepository{
		Repository: NewRepository(db, logger),
	}
}

// List retrieves all environments ordered by name
func (r *EnvironmentRepository) List(ctx context.Context) ([]models.Environment, error) {
	ctx, span := tracing.StartSpan(ctx, "EnvironmentRepository.List")
	defer span.End()

	sb := environmentStruct.SelectFrom(environmentsTable)
	sb.OrderBy("name")

	query, args := sb.Build()
	var environments []models.Environment
	err := r.DB().SelectContext(ctx, &environments, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list environments")
		return nil, Internal("failed to list environments")
	}

	return environments, nil
}

// GetByName retrieves an environment by its unique name
func (r *EnvironmentRepository) GetByName(ctx context.Context, name string) (*models.Environment, error) {
	ctx, span := tracing.StartSpan(ctx, "EnvironmentRepository.GetByName")
	defer span.End()

	sb := environmentStruct.SelectFrom(environmentsTable)
	sb.Where(sb.Equal("name", name))

	query, args := sb.Build()
	var environment models.Environment
	err := r.DB().GetContext(ctx, &environment, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("environment %s does not exist", name)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"environment": name,
		}).Error("failed to get environment")
		return nil, Internal("failed to get environment")
	}

	return &environment, nil
}
