package logx

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Environment represents the deployment environment of the service.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// ParseEnvironment normalises v into one of the known environments.
// Unknown values fall back to Development.
func ParseEnvironment(v string) Environment {
	switch Environment(v) {
	case Production:
		return Production
	case Testing:
		return Testing
	default:
		return Development
	}
}

type Opts struct {
	Environment Environment
	// Out overrides the destination. Defaults to stderr.
	Out io.Writer
}

func Init(opts Opts) {
	var out io.Writer = os.Stderr
	if opts.Out != nil {
		out = opts.Out
	}
	level := zerolog.InfoLevel
	switch opts.Environment {
	case Production:
	case Testing:
		level = zerolog.WarnLevel
	default:
		out = zerolog.ConsoleWriter{Out: out}
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger().Level(level)
}

func Debug() *zerolog.Event {
	return log.Debug()
}

func Info() *zerolog.Event {
	return log.Info()
}

func Warn() *zerolog.Event {
	return log.Warn()
}

func Error() *zerolog.Event {
	return log.Error()
}

func Fatal() *zerolog.Event {
	return log.Fatal()
}
