package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	flagsTable    = "feature_flags"
	variantsTable = "flag_variants"
	configsTable  = "flag_configs"

	// MaxPageSize caps list pagination
	MaxPageSize = 100
)

var flagStruct = database.NewStruct(new(models.Flag))

// uniqueViolation is the Postgres error code for duplicate keys.
const uniqueViolation = "23505"

// FlagRepository handles database operations for feature flags
type FlagRepository struct {
	*Repository
	environments *EnvironmentRepository
	audit        *AuditRepository
}

// NewFlagRepository creates a new flag repository
func NewFlagRepository(db database.DB, logger ectologger.Logger) *FlagRepository {
	return &FlagRepository{
		Repository:   NewRepository(db, logger),
		environments: NewEnvironmentRepository(db, logger),
		audit:        NewAuditRepository(db, logger),
	}
}

// Create inserts the flag, its variants, and one config row per known
// environment in a single transaction. A partial create is not possible: any
// failure rolls the whole thing back.
func (r *FlagRepository) Create(ctx context.Context, req *CreateFlagRequest) (*models.Flag, error) {
	ctx, span := tracing.StartSpan(ctx, "FlagRepository.Create")
	defer span.End()

	if !models.FlagKeyPattern.MatchString(req.Key) {
		return nil, BadRequest("flag key must match [a-z0-9_]+")
	}
	flagType := req.FlagType
	if flagType == "" {
		flagType = models.FlagTypeBoolean
	}
	if !flagType.Valid() {
		return nil, BadRequest("invalid flag type")
	}

	environments, err := r.environments.List(ctx)
	if err != nil {
		return nil, err
	}

	ctx, tx, err := r.DB().GetTx(ctx, nil)
	if err != nil {
		return nil, Internal("failed to start transaction")
	}
	defer tx.Rollback(ctx)

	flag := &models.Flag{
		ID:          uuid.New(),
		Key:         req.Key,
		Name:        req.Name,
		Description: req.Description,
		FlagType:    flagType,
		Active:      true,
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(flagsTable).
		Cols("id", "key", "name", "description", "flag_type", "active", "created_at", "updated_at").
		Values(flag.ID, flag.Key, flag.Name, flag.Description, flag.FlagType, flag.Active,
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err = tx.QueryRowContext(ctx, query, args...).Scan(&flag.CreatedAt, &flag.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, Conflict("flag %s already exists", req.Key)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"flag_key": req.Key,
		}).Error("failed to create flag")
		return nil, Internal("failed to create flag")
	}

	variants := req.Variants
	if len(variants) == 0 {
		// Default boolean pair at even weight.
		variants = []VariantInput{
			{VariantKey: "true", Value: "true", Weight: 50},
			{VariantKey: "false", Value: "false", Weight: 50},
		}
	}

	vb := database.NewInsertBuilder()
	vb.InsertInto(variantsTable).
		Cols("id", "flag_id", "variant_key", "value", "weight", "created_at")
	for _, v := range variants {
		vb.Values(uuid.New(), flag.ID, v.VariantKey, v.Value, v.Weight, sqlbuilder.Raw("NOW()"))
	}

	query, args = vb.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"flag_key": req.Key,
		}).Error("failed to create flag variants")
		return nil, Internal("failed to create flag variants")
	}

	// One disabled config per environment, so every (flag, env) pair exists
	// from the moment the flag does.
	cb := database.NewInsertBuilder()
	cb.InsertInto(configsTable).
		Cols("id", "flag_id", "environment_id", "enabled", "default_variant", "rollout_percentage", "config", "created_at", "updated_at")
	for _, env := range environments {
		cb.Values(uuid.New(), flag.ID, env.ID, false, "false", 0,
			database.JSONB[map[string]any]{Data: map[string]any{}},
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()"))
	}

	query, args = cb.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"flag_key": req.Key,
		}).Error("failed to create flag configs")
		return nil, Internal("failed to create flag configs")
	}

	if err := r.audit.Record(ctx, &models.AuditEntry{
		EntityType: "flag",
		EntityID:   flag.ID,
		Action:     models.AuditActionCreate,
		Diff: database.JSONB[map[string]any]{Data: map[string]any{
			"key":       flag.Key,
			"name":      flag.Name,
			"flag_type": flag.FlagType,
			"variants":  len(variants),
		}},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, Internal("failed to commit flag creation")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"flag_key": flag.Key,
		"flag_id":  flag.ID,
	}).Debugf("Created %s", flagsTable)
	return flag, nil
}

// GetByKey retrieves an active flag by its unique key
func (r *FlagRepository) GetByKey(ctx context.Context, key string) (*models.Flag, error) {
	ctx, span := tracing.StartSpan(ctx, "FlagRepository.GetByKey")
	defer span.End()

	sb := flagStruct.SelectFrom(flagsTable)
	sb.Where(sb.Equal("key", key), sb.Equal("active", true))

	query, args := sb.Build()
	var flag models.Flag
	err := r.DB().GetContext(ctx, &flag, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("flag %s does not exist", key)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"flag_key": key,
		}).Error("failed to get flag")
		return nil, Internal("failed to get flag")
	}

	return &flag, nil
}

// List retrieves a page of flags with the total count
func (r *FlagRepository) List(ctx context.Context, page, perPage int, activeOnly bool) ([]models.Flag, int, error) {
	ctx, span := tracing.StartSpan(ctx, "FlagRepository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > MaxPageSize {
		perPage = MaxPageSize
	}

	cb := database.NewSelectBuilder()
	cb.Select("COUNT(*)").From(flagsTable)
	if activeOnly {
		cb.Where(cb.Equal("active", true))
	}

	query, args := cb.Build()
	var total int
	if err := r.DB().GetContext(ctx, &total, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to count flags")
		return nil, 0, Internal("failed to list flags")
	}

	sb := flagStruct.SelectFrom(flagsTable)
	if activeOnly {
		sb.Where(sb.Equal("active", true))
	}
	sb.OrderBy("key")
	sb.Limit(perPage).Offset((page - 1) * perPage)

	query, args = sb.Build()
	var flags []models.Flag
	if err := r.DB().SelectContext(ctx, &flags, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list flags")
		return nil, 0, Internal("failed to list flags")
	}

	return flags, total, nil
}

// UpdateMeta changes the flag's display name and description. Only non-nil
// fields are modified.
func (r *FlagRepository) UpdateMeta(ctx context.Context, key string, name *string, description *string) (*models.Flag, error) {
	ctx, span := tracing.StartSpan(ctx, "FlagRepository.UpdateMeta")
	defer span.End()

	if name == nil && description == nil {
		return r.GetByKey(ctx, key)
	}

	ctx, tx, err := r.DB().GetTx(ctx, nil)
	if err != nil {
		return nil, Internal("failed to start transaction")
	}
	defer tx.Rollback(ctx)

	diff := map[string]any{}
	ub := database.NewUpdateBuilder()
	assignments := []string{ub.Assign("updated_at", sqlbuilder.Raw("NOW()"))}
	if name != nil {
		assignments = append(assignments, ub.Assign("name", *name))
		diff["name"] = *name
	}
	if description != nil {
		assignments = append(assignments, ub.Assign("description", *description))
		diff["description"] = *description
	}

	ub.Update(flagsTable).Set(assignments...).
		Where(ub.Equal("key", key), ub.Equal("active", true))
	ub.SQL("RETURNING id")

	query, args := ub.Build()
	var flagID uuid.UUID
	err = tx.QueryRowContext(ctx, query, args...).Scan(&flagID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("flag %s does not exist", key)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"flag_key": key,
		}).Error("failed to update flag")
		return nil, Internal("failed to update flag")
	}

	if err := r.audit.Record(ctx, &models.AuditEntry{
		EntityType: "flag",
		EntityID:   flagID,
		Action:     models.AuditActionUpdate,
		Diff:       database.JSONB[map[string]any]{Data: diff},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, Internal("failed to commit flag update")
	}

	return r.GetByKey(ctx, key)
}

// SoftDelete clears the active bit. The flag stays on disk for audit.
func (r *FlagRepository) SoftDelete(ctx context.Context, key string) error {
	ctx, span := tracing.StartSpan(ctx, "FlagRepository.SoftDelete")
	defer span.End()

	ctx, tx, err := r.DB().GetTx(ctx, nil)
	if err != nil {
		return Internal("failed to start transaction")
	}
	defer tx.Rollback(ctx)

	ub := database.NewUpdateBuilder()
	ub.Update(flagsTable).
		Set(
			ub.Assign("active", false),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("key", key), ub.Equal("active", true))
	ub.SQL("RETURNING id")

	query, args := ub.Build()
	var flagID uuid.UUID
	err = tx.QueryRowContext(ctx, query, args...).Scan(&flagID)
	if errors.Is(err, sql.ErrNoRows) {
		return NotFound("flag %s does not exist", key)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"flag_key": key,
		}).Error("failed to delete flag")
		return Internal("failed to delete flag")
	}

	if err := r.audit.Record(ctx, &models.AuditEntry{
		EntityType: "flag",
		EntityID:   flagID,
		Action:     models.AuditActionDelete,
		Diff: database.JSONB[map[string]any]{Data: map[string]any{
			"key":    key,
			"active": false,
		}},
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return Internal("failed to commit flag deletion")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"flag_key": key,
	}).Debugf("Deleted %s", flagsTable)
	return nil
}

// CountAll returns total and active flag counts for the system overview
func (r *FlagRepository) CountAll(ctx context.Context) (int, int, error) {
	ctx, span := tracing.StartSpan(ctx, "FlagRepository.CountAll")
	defer span.End()

	var counts struct {
		Total  int `db:"total"`
		Active int `db:"active"`
	}
	query := "SELECT COUNT(*) AS total, COUNT(*) FILTER (WHERE active) AS active FROM " + flagsTable
	if err := r.DB().GetContext(ctx, &counts, query); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to count flags")
		return 0, 0, Internal("failed to count flags")
	}

	return counts.Total, counts.Active, nil
}
