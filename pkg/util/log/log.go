package log

import (
	"flag"
	"io"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	dslog "github.com/grafana/dskit/log"
)

// Logger is the process logger. It discards everything until InitLogger is
// called.
var Logger = log.NewNopLogger()

// Config is the logging configuration of a binary.
type Config struct {
	LogLevel  dslog.Level  `yaml:"log_level"`
	LogFormat dslog.Format `yaml:"log_format"`
}

// RegisterFlags adds the flags required to config this to the given FlagSet.
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.LogLevel.RegisterFlags(f)
	cfg.LogFormat.RegisterFlags(f)
}

// InitLogger builds a leveled logger writing to w and installs it as Logger.
func InitLogger(cfg *Config, w io.Writer) log.Logger {
	var l log.Logger
	if cfg.LogFormat.String() == "json" {
		l = log.NewJSONLogger(log.NewSyncWriter(w))
	} else {
		l = log.NewLogfmtLogger(log.NewSyncWriter(w))
	}

	if cfg.LogLevel.Option != nil {
		l = level.NewFilter(l, cfg.LogLevel.Option)
	}
	l = log.With(l, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	Logger = l
	return l
}
