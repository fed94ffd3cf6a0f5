package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const rulesTable = "rollout_rules"

var variantStruct = database.NewStruct(new(models.Variant))
var ruleStruct = database.NewStruct(new(models.Rule))

// snapshotConfigQuery joins the environment and flag so one row carries the
// full per-environment config state.
const snapshotConfigQuery = `
SELECT fc.id, fc.flag_id, fc.environment_id, e.name AS environment,
       fc.enabled, fc.default_variant, fc.rollout_percentage, fc.config,
       fc.created_at, fc.updated_at
FROM flag_configs fc
JOIN environments e ON e.id = fc.environment_id
JOIN feature_flags f ON f.id = fc.flag_id
WHERE f.key = $1 AND e.name = $2 AND f.active = true`

// FlagConfigRepository handles per-environment flag configuration
type FlagConfigRepository struct {
	*Repository
	audit *AuditRepository
}

// NewFlagConfigRepository creates a new flag config repository
func NewFlagConfigRepository(db database.DB, logger ectologger.Logger) *FlagConfigRepository {
	return &FlagConfigRepository{
		Repository: NewRepository(db, logger),
		audit:      NewAuditRepository(db, logger),
	}
}

// GetSnapshot returns the pre-joined {flag, config, variants, rules} state
// for one (flag, environment) pair. The reads run in one repeatable-read
// transaction so a concurrent rule replacement can never produce a snapshot
// mixing old and new rules.
func (r *FlagConfigRepository) GetSnapshot(ctx context.Context, flagKey, environment string) (*models.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "FlagConfigRepository.GetSnapshot")
	defer span.End()

	ctx, tx, err := r.DB().GetTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, Internal("failed to start transaction")
	}
	defer tx.Rollback(ctx)

	sb := flagStruct.SelectFrom(flagsTable)
	sb.Where(sb.Equal("key", flagKey), sb.Equal("active", true))
	query, args := sb.Build()

	var flag models.Flag
	err = tx.GetContext(ctx, &flag, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("flag %s does not exist", flagKey)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"flag_key": flagKey,
		}).Error("failed to get flag for snapshot")
		return nil, Internal("failed to get flag config")
	}

	var config models.FlagConfig
	err = tx.GetContext(ctx, &config, snapshotConfigQuery, flagKey, environment)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("no config for flag %s in environment %s", flagKey, environment)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"flag_key":    flagKey,
			"environment": environment,
		}).Error("failed to get flag config")
		return nil, Internal("failed to get flag config")
	}

	vb := variantStruct.SelectFrom(variantsTable)
	vb.Where(vb.Equal("flag_id", flag.ID))
	vb.OrderBy("variant_key")
	query, args = vb.Build()

	var variants []models.Variant
	if err := tx.SelectContext(ctx, &variants, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"flag_key": flagKey,
		}).Error("failed to get flag variants")
		return nil, Internal("failed to get flag config")
	}

	rb := ruleStruct.SelectFrom(rulesTable)
	rb.Where(rb.Equal("flag_config_id", config.ID))
	rb.OrderBy("priority", "created_at")
	query, args = rb.Build()

	var rules []models.Rule
	if err := tx.SelectContext(ctx, &rules, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"flag_key": flagKey,
		}).Error("failed to get rollout rules")
		return nil, Internal("failed to get flag config")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, Internal("failed to read flag config")
	}

	return &models.Snapshot{
		Flag:     flag,
		Config:   config,
		Variants: variants,
		Rules:    rules,
	}, nil
}

// ListSnapshots returns the snapshot of every active flag in the environment.
// Used to assemble the SDK config payload.
func (r *FlagConfigRepository) ListSnapshots(ctx context.Context, environment string) ([]models.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "FlagConfigRepository.ListSnapshots")
	defer span.End()

	sb := flagStruct.SelectFrom(flagsTable)
	sb.Where(sb.Equal("active", true))
	sb.OrderBy("key")
	query, args := sb.Build()

	var flags []models.Flag
	if err := r.DB().SelectContext(ctx, &flags, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list flags for snapshots")
		return nil, Internal("failed to list snapshots")
	}

	snapshots := make([]models.Snapshot, 0, len(flags))
	for _, flag := range flags {
		snap, err := r.GetSnapshot(ctx, flag.Key, environment)
		if err != nil {
			// A flag without a config row in this environment is skipped, not fatal.
			continue
		}
		snapshots = append(snapshots, *snap)
	}

	return snapshots, nil
}

// UpdateConfig applies the patch to the (flag, environment) config. Only keys
// present in the patch are modified. A present Rules field replaces the
// config's rules wholesale (delete-then-insert) in the same transaction.
func (r *FlagConfigRepository) UpdateConfig(ctx context.Context, flagKey, environment string, patch *ConfigPatch) (*models.FlagConfig, error) {
	ctx, span := tracing.StartSpan(ctx, "FlagConfigRepository.UpdateConfig")
	defer span.End()

	if patch.RolloutPercentage != nil && (*patch.RolloutPercentage < 0 || *patch.RolloutPercentage > 100) {
		return nil, BadRequest("rollout_percentage must be between 0 and 100")
	}
	if patch.Rules != nil {
		for _, rule := range *patch.Rules {
			if !rule.RuleType.Valid() {
				return nil, BadRequest("invalid rule_type")
			}
			if rule.Operator != nil && !rule.Operator.Valid() {
				return nil, BadRequest("invalid operator")
			}
			if rule.Percentage != nil && (*rule.Percentage < 0 || *rule.Percentage > 100) {
				return nil, BadRequest("rule percentage must be between 0 and 100")
			}
		}
	}

	ctx, tx, err := r.DB().GetTx(ctx, nil)
	if err != nil {
		return nil, Internal("failed to start transaction")
	}
	defer tx.Rollback(ctx)

	var config models.FlagConfig
	err = tx.GetContext(ctx, &config, snapshotConfigQuery+" FOR UPDATE OF fc", flagKey, environment)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("no config for flag %s in environment %s", flagKey, environment)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"flag_key":    flagKey,
			"environment": environment,
		}).Error("failed to lock flag config")
		return nil, Internal("failed to update flag config")
	}

	diff := map[string]any{}
	ub := database.NewUpdateBuilder()
	assignments := []string{ub.Assign("updated_at", sqlbuilder.Raw("NOW()"))}

	if patch.Enabled != nil {
		assignments = append(assignments, ub.Assign("enabled", *patch.Enabled))
		diff["enabled"] = map[string]any{"from": config.Enabled, "to": *patch.Enabled}
		config.Enabled = *patch.Enabled
	}
	if patch.DefaultVariant != nil {
		assignments = append(assignments, ub.Assign("default_variant", *patch.DefaultVariant))
		diff["default_variant"] = map[string]any{"from": config.DefaultVariant, "to": *patch.DefaultVariant}
		config.DefaultVariant = *patch.DefaultVariant
	}
	if patch.RolloutPercentage != nil {
		assignments = append(assignments, ub.Assign("rollout_percentage", *patch.RolloutPercentage))
		diff["rollout_percentage"] = map[string]any{"from": config.RolloutPercentage, "to": *patch.RolloutPercentage}
		config.RolloutPercentage = *patch.RolloutPercentage
	}
	if patch.Config != nil {
		blob := database.JSONB[map[string]any]{Data: *patch.Config}
		assignments = append(assignments, ub.Assign("config", blob))
		diff["config"] = map[string]any{"from": config.Config.Data, "to": *patch.Config}
		config.Config = blob
	}

	ub.Update(configsTable).Set(assignments...).Where(ub.Equal("id", config.ID))
	ub.SQL("RETURNING updated_at")

	query, args := ub.Build()
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&config.UpdatedAt); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"flag_key":    flagKey,
			"environment": environment,
		}).Error("failed to update flag config")
		return nil, Internal("failed to update flag config")
	}

	if patch.Rules != nil {
		if err := r.replaceRules(ctx, tx, config.ID, *patch.Rules); err != nil {
			return nil, err
		}
		diff["rules"] = map[string]any{"count": len(*patch.Rules)}
	}

	if err := r.audit.Record(ctx, &models.AuditEntry{
		EntityType: "flag_config",
		EntityID:   config.ID,
		Action:     models.AuditActionUpdate,
		Diff:       database.JSONB[map[string]any]{Data: diff},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, Internal("failed to commit config update")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"flag_key":    flagKey,
		"environment": environment,
	}).Debugf("Updated %s", configsTable)
	return &config, nil
}

// replaceRules swaps the config's rule set inside the caller's transaction.
func (r *FlagConfigRepository) replaceRules(ctx context.Context, tx database.Tx, configID uuid.UUID, rules []RuleInput) error {
	db := database.NewDeleteBuilder()
	db.DeleteFrom(rulesTable).Where(db.Equal("flag_config_id", configID))

	query, args := db.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"flag_config_id": configID,
		}).Error("failed to delete existing rules")
		return Internal("failed to replace rules")
	}

	if len(rules) == 0 {
		return nil
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(rulesTable).
		Cols("id", "flag_config_id", "rule_type", "attribute_name", "operator", "attribute_value",
			"percentage", "variant_key", "priority", "created_at")
	for _, rule := range rules {
		ib.Values(uuid.New(), configID, rule.RuleType, rule.AttributeName, rule.Operator,
			rule.AttributeValue, rule.Percentage, rule.VariantKey, rule.Priority, sqlbuilder.Raw("NOW()"))
	}

	query, args = ib.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"flag_config_id": configID,
		}).Error("failed to insert rules")
		return Internal("failed to replace rules")
	}

	return nil
}

// Toggle flips the enabled bit for one (flag, environment) pair.
func (r *FlagConfigRepository) Toggle(ctx context.Context, flagKey, environment string, enabled bool) (*models.FlagConfig, error) {
	ctx, span := tracing.StartSpan(ctx, "FlagConfigRepository.Toggle")
	defer span.End()

	return r.UpdateConfig(ctx, flagKey, environment, &ConfigPatch{Enabled: &enabled})
}

// DisableAll is the kill switch: it disables the flag in every environment in
// one transaction and records a critical audit entry with the operator's
// reason. It returns the environment names that were touched.
func (r *FlagConfigRepository) DisableAll(ctx context.Context, flagKey, reason string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "FlagConfigRepository.DisableAll")
	defer span.End()

	ctx, tx, err := r.DB().GetTx(ctx, nil)
	if err != nil {
		return nil, Internal("failed to start transaction")
	}
	defer tx.Rollback(ctx)

	sb := flagStruct.SelectFrom(flagsTable)
	sb.Where(sb.Equal("key", flagKey), sb.Equal("active", true))
	query, args := sb.Build()

	var flag models.Flag
	err = tx.GetContext(ctx, &flag, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("flag %s does not exist", flagKey)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"flag_key": flagKey,
		}).Error("failed to get flag for kill switch")
		return nil, Internal("failed to activate kill switch")
	}

	const disableQuery = `
UPDATE flag_configs fc
SET enabled = false, updated_at = NOW()
FROM environments e
WHERE fc.environment_id = e.id AND fc.flag_id = $1
RETURNING e.name`

	rows, err := tx.QueryContext(ctx, disableQuery, flag.ID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"flag_key": flagKey,
		}).Error("failed to disable flag configs")
		return nil, Internal("failed to activate kill switch")
	}

	var environments []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, Internal("failed to activate kill switch")
		}
		environments = append(environments, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, Internal("failed to activate kill switch")
	}

	if err := r.audit.Record(ctx, &models.AuditEntry{
		EntityType: "flag",
		EntityID:   flag.ID,
		Action:     models.AuditActionKillSwitch,
		Severity:   models.AuditSeverityCritical,
		Reason:     &reason,
		Diff: database.JSONB[map[string]any]{Data: map[string]any{
			"key":          flagKey,
			"environments": environments,
		}},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, Internal("failed to commit kill switch")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"flag_key":     flagKey,
		"environments": environments,
	}).Warnf("Kill switch activated for %s", flagKey)
	return environments, nil
}

// CountEnabledByEnvironment returns enabled-flag counts per environment for
// the system overview.
func (r *FlagConfigRepository) CountEnabledByEnvironment(ctx context.Context) (map[string]int, error) {
	ctx, span := tracing.StartSpan(ctx, "FlagConfigRepository.CountEnabledByEnvironment")
	defer span.End()

	const query = `
SELECT e.name AS environment, COUNT(*) FILTER (WHERE fc.enabled AND f.active) AS enabled
FROM environments e
LEFT JOIN flag_configs fc ON fc.environment_id = e.id
LEFT JOIN feature_flags f ON f.id = fc.flag_id
GROUP BY e.name`

	var rows []struct {
		Environment string `db:"environment"`
		Enabled     int    `db:"enabled"`
	}
	if err := r.DB().SelectContext(ctx, &rows, query); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to count enabled flags")
		return nil, Internal("failed to count enabled flags")
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Environment] = row.Enabled
	}
	return counts, nil
}
