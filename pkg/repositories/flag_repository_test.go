package repositories_test

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func getTestDB(t *testing.T) database.DB {
	// Use environment variables or defaults for test DB
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "localhost"
	}
	dbUser := os.Getenv("DB_USER")
	if dbUser == "" {
		dbUser = "clover"
	}
	dbPass := os.Getenv("DB_PASS")
	if dbPass == "" {
		dbPass = "clover"
	}
	dbName := os.Getenv("DB_NAME")
	if dbName == "" {
		dbName = "clover_test"
	}

	dsn := "host=" + dbHost + " user=" + dbUser + " password=" + dbPass + " dbname=" + dbName + " sslmode=disable"
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err, "Failed to connect to test database")

	return database.NewDatabaseInstance(db, getTestLogger())
}

func getTestContext() context.Context {
	return appctx.SetActor(context.Background(), "repository-test")
}

// assertNotFound asserts that err is an HTTP 404 error
func assertNotFound(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err), "expected HTTP error, got: %v", err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err), "expected 404, got: %d", httperror.GetStatusCode(err))
}

// assertConflict asserts that err is an HTTP 409 error
func assertConflict(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err), "expected HTTP error, got: %v", err)
	assert.Equal(t, http.StatusConflict, httperror.GetStatusCode(err), "expected 409, got: %d", httperror.GetStatusCode(err))
}

func uniqueKey(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }

func boolPtr(b bool) *bool { return &b }

func TestFlagRepository_CreateMaterializesConfigsAndVariants(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	logger := getTestLogger()
	flags := repositories.NewFlagRepository(db, logger)
	configs := repositories.NewFlagConfigRepository(db, logger)
	environments := repositories.NewEnvironmentRepository(db, logger)

	ctx := getTestContext()
	key := uniqueKey("created_flag")

	flag, err := flags.Create(ctx, &repositories.CreateFlagRequest{
		Key:  key,
		Name: "Created Flag",
	})
	require.NoError(t, err)
	assert.Equal(t, key, flag.Key)
	assert.True(t, flag.Active)
	assert.False(t, flag.CreatedAt.IsZero())

	// One config per known environment, initialized disabled.
	envs, err := environments.List(ctx)
	require.NoError(t, err)
	for _, env := range envs {
		snap, err := configs.GetSnapshot(ctx, key, env.Name)
		require.NoError(t, err, "missing config in %s", env.Name)
		assert.False(t, snap.Config.Enabled)
		assert.Equal(t, "false", snap.Config.DefaultVariant)
		assert.Equal(t, 0, snap.Config.RolloutPercentage)

		// Default boolean variant pair.
		require.Len(t, snap.Variants, 2)
	}

	// Duplicate key conflicts.
	_, err = flags.Create(ctx, &repositories.CreateFlagRequest{Key: key, Name: "Again"})
	assertConflict(t, err)
}

func TestFlagRepository_CreateWithSuppliedVariants(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	logger := getTestLogger()
	flags := repositories.NewFlagRepository(db, logger)
	configs := repositories.NewFlagConfigRepository(db, logger)

	ctx := getTestContext()
	key := uniqueKey("variant_flag")

	_, err := flags.Create(ctx, &repositories.CreateFlagRequest{
		Key:      key,
		Name:     "Variant Flag",
		FlagType: models.FlagTypeString,
		Variants: []repositories.VariantInput{
			{VariantKey: "red", Value: "red", Weight: 70},
			{VariantKey: "blue", Value: "blue", Weight: 30},
		},
	})
	require.NoError(t, err)

	snap, err := configs.GetSnapshot(ctx, key, models.EnvProduction)
	require.NoError(t, err)
	require.Len(t, snap.Variants, 2)
}

func TestFlagRepository_CreateRejectsBadKey(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	flags := repositories.NewFlagRepository(db, getTestLogger())

	_, err := flags.Create(getTestContext(), &repositories.CreateFlagRequest{
		Key:  "Not-A-Valid-Key",
		Name: "Bad",
	})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
}

func TestFlagConfigRepository_UpdateReplacesRules(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	logger := getTestLogger()
	flags := repositories.NewFlagRepository(db, logger)
	configs := repositories.NewFlagConfigRepository(db, logger)

	ctx := getTestContext()
	key := uniqueKey("ruled_flag")

	_, err := flags.Create(ctx, &repositories.CreateFlagRequest{Key: key, Name: "Ruled"})
	require.NoError(t, err)

	op := models.OpEquals
	_, err = configs.UpdateConfig(ctx, key, models.EnvProduction, &repositories.ConfigPatch{
		Enabled:           boolPtr(true),
		RolloutPercentage: intPtr(25),
		Rules: &[]repositories.RuleInput{
			{
				RuleType:       models.RuleTypeAttribute,
				AttributeName:  strPtr("country"),
				Operator:       &op,
				AttributeValue: strPtr("US"),
				VariantKey:     strPtr("true"),
				Priority:       10,
			},
			{
				RuleType:   models.RuleTypePercentage,
				Percentage: intPtr(50),
				Priority:   20,
			},
		},
	})
	require.NoError(t, err)

	snap, err := configs.GetSnapshot(ctx, key, models.EnvProduction)
	require.NoError(t, err)
	assert.True(t, snap.Config.Enabled)
	assert.Equal(t, 25, snap.Config.RolloutPercentage)
	require.Len(t, snap.Rules, 2)
	assert.Equal(t, models.RuleTypeAttribute, snap.Rules[0].RuleType)

	// A second update with one rule replaces the whole set.
	_, err = configs.UpdateConfig(ctx, key, models.EnvProduction, &repositories.ConfigPatch{
		Rules: &[]repositories.RuleInput{
			{
				RuleType:       models.RuleTypeUserID,
				AttributeValue: strPtr("u1,u2"),
				Priority:       1,
			},
		},
	})
	require.NoError(t, err)

	snap, err = configs.GetSnapshot(ctx, key, models.EnvProduction)
	require.NoError(t, err)
	require.Len(t, snap.Rules, 1)
	assert.Equal(t, models.RuleTypeUserID, snap.Rules[0].RuleType)

	// Fields not in the patch were untouched.
	assert.True(t, snap.Config.Enabled)
	assert.Equal(t, 25, snap.Config.RolloutPercentage)
}

func TestFlagConfigRepository_UpdateValidation(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	logger := getTestLogger()
	flags := repositories.NewFlagRepository(db, logger)
	configs := repositories.NewFlagConfigRepository(db, logger)

	ctx := getTestContext()
	key := uniqueKey("bounds_flag")

	_, err := flags.Create(ctx, &repositories.CreateFlagRequest{Key: key, Name: "Bounds"})
	require.NoError(t, err)

	_, err = configs.UpdateConfig(ctx, key, models.EnvProduction, &repositories.ConfigPatch{
		RolloutPercentage: intPtr(101),
	})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))

	_, err = configs.UpdateConfig(ctx, key, "nowhere", &repositories.ConfigPatch{
		Enabled: boolPtr(true),
	})
	assertNotFound(t, err)
}

func TestFlagConfigRepository_KillSwitch(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	logger := getTestLogger()
	flags := repositories.NewFlagRepository(db, logger)
	configs := repositories.NewFlagConfigRepository(db, logger)

	ctx := getTestContext()
	key := uniqueKey("killed_flag")

	_, err := flags.Create(ctx, &repositories.CreateFlagRequest{Key: key, Name: "Killed"})
	require.NoError(t, err)

	for _, env := range []string{models.EnvDevelopment, models.EnvStaging, models.EnvProduction} {
		_, err = configs.Toggle(ctx, key, env, true)
		require.NoError(t, err)
	}

	environments, err := configs.DisableAll(ctx, key, "incident")
	require.NoError(t, err)
	assert.Len(t, environments, 3)

	for _, env := range environments {
		snap, err := configs.GetSnapshot(ctx, key, env)
		require.NoError(t, err)
		assert.False(t, snap.Config.Enabled, "still enabled in %s", env)
	}
}

func TestFlagRepository_SoftDeleteHidesFromReads(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	logger := getTestLogger()
	flags := repositories.NewFlagRepository(db, logger)
	configs := repositories.NewFlagConfigRepository(db, logger)

	ctx := getTestContext()
	key := uniqueKey("deleted_flag")

	_, err := flags.Create(ctx, &repositories.CreateFlagRequest{Key: key, Name: "Doomed"})
	require.NoError(t, err)

	require.NoError(t, flags.SoftDelete(ctx, key))

	_, err = flags.GetByKey(ctx, key)
	assertNotFound(t, err)

	_, err = configs.GetSnapshot(ctx, key, models.EnvProduction)
	assertNotFound(t, err)

	// Deleting twice is a 404, the row is already inactive.
	err = flags.SoftDelete(ctx, key)
	assertNotFound(t, err)
}

func TestFlagRepository_ListPagination(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	flags := repositories.NewFlagRepository(db, getTestLogger())
	ctx := getTestContext()

	for i := 0; i < 3; i++ {
		_, err := flags.Create(ctx, &repositories.CreateFlagRequest{
			Key:  uniqueKey(fmt.Sprintf("page_flag_%d", i)),
			Name: "Paged",
		})
		require.NoError(t, err)
	}

	page, total, err := flags.List(ctx, 1, 2, true)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.GreaterOrEqual(t, total, 3)

	// Oversized per_page is clamped, not an error.
	_, _, err = flags.List(ctx, 1, 500, true)
	require.NoError(t, err)
}
