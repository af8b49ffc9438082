package publisher

import (
	"context"
	"errors"
	"flag"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMySQL_Publish(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS experiment_results").WillReturnResult(sqlmock.NewResult(0, 0))
	m, err := newMySQLWithDB(db, "experiment_results", log.NewNopLogger())
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 12, 0, 1, 0, time.UTC)
	m.now = func() time.Time { return now }

	mock.ExpectExec("INSERT INTO experiment_results").
		WithArgs("lookup", "candidate_fault", false, false, 1.0, 5.0, nil, "candidate failed", sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, m.Publish(context.Background(), candidateFaultResult("lookup")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQL_PublishError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS results").WillReturnResult(sqlmock.NewResult(0, 0))
	m, err := newMySQLWithDB(db, "results", log.NewNopLogger())
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO results").WillReturnError(errors.New("connection refused"))

	err = m.Publish(context.Background(), matchResult("lookup"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert experiment result: connection refused")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQL_MigrationError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS experiment_results").WillReturnError(errors.New("access denied"))
	_, err = newMySQLWithDB(db, "experiment_results", log.NewNopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create results table")
}

func TestMySQLConfig(t *testing.T) {
	var cfg MySQLConfig
	fs := flag.NewFlagSet("test", flag.PanicOnError)
	cfg.RegisterFlagsWithPrefix("", fs)
	require.NoError(t, fs.Parse([]string{
		"-mysql.user=scientist",
		"-mysql.password=s3cret",
		"-mysql.host=db.local",
	}))

	require.NoError(t, cfg.Validate())
	dsn := cfg.dsn()
	assert.Contains(t, dsn, "scientist:s3cret@tcp(db.local:3306)/scientist?")
	assert.Contains(t, dsn, "parseTime=true")

	cfg.Table = "results; DROP TABLE users"
	require.Error(t, cfg.Validate())
}
