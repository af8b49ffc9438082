package publisher

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-sql-driver/mysql"
	"github.com/grafana/dskit/flagext"
	"github.com/pkg/errors"

	"github.com/grafana/scientist/pkg/experiment"
)

var tableNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// MySQLConfig configures the MySQL publisher.
type MySQLConfig struct {
	Enabled        bool           `yaml:"enabled"`
	Host           string         `yaml:"host"`
	Port           int            `yaml:"port"`
	User           string         `yaml:"user"`
	Password       flagext.Secret `yaml:"password"`
	Database       string         `yaml:"database"`
	Table          string         `yaml:"table"`
	MaxConnections int            `yaml:"max_connections"`
	MaxIdleTime    time.Duration  `yaml:"max_idle_time"`
}

// RegisterFlagsWithPrefix adds the flags required to config this to the given FlagSet.
func (cfg *MySQLConfig) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.BoolVar(&cfg.Enabled, prefix+"mysql.enabled", false, "Store experiment results in MySQL.")
	f.StringVar(&cfg.Host, prefix+"mysql.host", "localhost", "MySQL host.")
	f.IntVar(&cfg.Port, prefix+"mysql.port", 3306, "MySQL port.")
	f.StringVar(&cfg.User, prefix+"mysql.user", "", "MySQL user.")
	f.Var(&cfg.Password, prefix+"mysql.password", "MySQL password.")
	f.StringVar(&cfg.Database, prefix+"mysql.database", "scientist", "MySQL database.")
	f.StringVar(&cfg.Table, prefix+"mysql.table", "experiment_results", "Table experiment results are written to.")
	f.IntVar(&cfg.MaxConnections, prefix+"mysql.max-connections", 10, "Maximum number of open connections.")
	f.DurationVar(&cfg.MaxIdleTime, prefix+"mysql.max-idle-time", 5*time.Minute, "Maximum time a connection may be idle.")
}

func (cfg *MySQLConfig) Validate() error {
	if !tableNameRE.MatchString(cfg.Table) {
		return fmt.Errorf("invalid mysql table name %q", cfg.Table)
	}
	return nil
}

func (cfg *MySQLConfig) dsn() string {
	c := mysql.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password.String()
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	c.DBName = cfg.Database
	c.ParseTime = true
	return c.FormatDSN()
}

// MySQL stores each result as one row.
type MySQL struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

// NewMySQL connects to MySQL and creates the results table if needed.
func NewMySQL(cfg MySQLConfig, logger log.Logger) (*MySQL, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", cfg.dsn())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections / 2)
	db.SetConnMaxIdleTime(cfg.MaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	m, err := newMySQLWithDB(db, cfg.Table, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

func newMySQLWithDB(db *sql.DB, table string, logger log.Logger) (*MySQL, error) {
	m := &MySQL{
		db:    db,
		table: table,
		now:   time.Now,
	}
	if err := m.migrate(context.Background()); err != nil {
		return nil, err
	}
	level.Debug(logger).Log("msg", "experiment results table ready", "table", table)
	return m, nil
}

func (m *MySQL) migrate(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+m.table+` (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		experiment VARCHAR(255) NOT NULL,
		outcome VARCHAR(32) NOT NULL,
		matched BOOLEAN NOT NULL,
		ignored BOOLEAN NOT NULL,
		control_duration_ms DOUBLE NOT NULL,
		candidate_duration_ms DOUBLE NOT NULL,
		control_error TEXT NULL,
		candidate_error TEXT NULL,
		payload JSON NOT NULL,
		published_at DATETIME(6) NOT NULL,
		INDEX idx_experiment_published (experiment, published_at)
	)`)
	return errors.Wrap(err, "failed to create results table")
}

func (m *MySQL) Publish(ctx context.Context, r experiment.Result[any]) error {
	rec := NewRecord(r, m.now())
	payload, err := rec.Marshal()
	if err != nil {
		return errors.Wrap(err, "failed to encode result")
	}

	_, err = m.db.ExecContext(ctx, `INSERT INTO `+m.table+` (
		experiment, outcome, matched, ignored,
		control_duration_ms, candidate_duration_ms,
		control_error, candidate_error,
		payload, published_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Experiment,
		rec.Outcome,
		rec.Matched,
		rec.Ignored,
		rec.Control.DurationMs,
		rec.Candidate.DurationMs,
		nullString(rec.Control.Error),
		nullString(rec.Candidate.Error),
		payload,
		rec.PublishedAt,
	)
	return errors.Wrap(err, "failed to insert experiment result")
}

func (m *MySQL) Close() error {
	return m.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
