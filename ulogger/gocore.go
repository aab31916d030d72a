package ulogger

import (
	"github.com/ordishs/gocore"
)

// GoCoreLogger logs through gocore. Its level is fixed when it is created, so SetLogLevel is a
// no-op and a different level needs Duplicate or New.
type GoCoreLogger struct {
	*gocore.Logger
	service   string
	skipFrame int
}

func NewGoCoreLogger(service string, options ...Option) *GoCoreLogger {
	if service == "" {
		service = "chainstate"
	}

	opts := DefaultOptions()
	for _, o := range options {
		o(opts)
	}

	return &GoCoreLogger{
		Logger:    gocore.Log(service, gocore.NewLogLevelFromString(opts.logLevel)),
		service:   service,
		skipFrame: opts.skip,
	}
}

// New returns a logger for service at the level of g unless options set another one.
func (g *GoCoreLogger) New(service string, options ...Option) Logger {
	return g.derive(service, options)
}

// Duplicate returns a logger for the same service, applying options.
func (g *GoCoreLogger) Duplicate(options ...Option) Logger {
	return g.derive(g.service, options)
}

func (g *GoCoreLogger) derive(service string, options []Option) *GoCoreLogger {
	opts := &Options{skip: g.skipFrame}
	for _, o := range options {
		o(opts)
	}

	level := g.Logger.GetLogLevel()
	if opts.logLevel != "" {
		level = gocore.NewLogLevelFromString(opts.logLevel)
	}

	return &GoCoreLogger{
		Logger:    gocore.Log(service, level),
		service:   service,
		skipFrame: opts.skip,
	}
}

func (g *GoCoreLogger) LogLevel() int {
	return int(g.Logger.GetLogLevel())
}

func (g *GoCoreLogger) SetLogLevel(_ string) {}
