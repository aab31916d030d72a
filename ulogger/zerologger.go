package ulogger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ordishs/gocore"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// callerWidth is the column width of the shortened caller in pretty output.
const callerWidth = 32

var zerologLevels = map[string]zerolog.Level{
	"DEBUG": zerolog.DebugLevel,
	"INFO":  zerolog.InfoLevel,
	"WARN":  zerolog.WarnLevel,
	"ERROR": zerolog.ErrorLevel,
	"FATAL": zerolog.FatalLevel,
	"PANIC": zerolog.PanicLevel,
}

var gocoreLevels = map[zerolog.Level]int{
	zerolog.DebugLevel: int(gocore.DEBUG),
	zerolog.InfoLevel:  int(gocore.INFO),
	zerolog.WarnLevel:  int(gocore.WARN),
	zerolog.ErrorLevel: int(gocore.ERROR),
	zerolog.FatalLevel: int(gocore.FATAL),
}

var levelColors = map[string]int{
	"debug": colorBlue,
	"info":  colorGreen,
	"warn":  colorYellow,
	"error": colorRed,
	"fatal": colorRed,
	"panic": colorRed,
}

// ZLoggerWrapper is the zerolog Logger. Output is a coloured console layout unless the
// prettyLogs setting is false, in which case it is one JSON object per line.
type ZLoggerWrapper struct {
	zerolog.Logger
	service string
	w       io.Writer
}

func NewZeroLogger(service string, options ...Option) *ZLoggerWrapper {
	if service == "" {
		service = "chainstate"
	}

	opts := DefaultOptions()
	for _, o := range options {
		o(opts)
	}

	var output io.Writer = opts.writer
	if gocore.Config().GetBool("prettyLogs", true) {
		output = consoleWriter(opts.writer, service)
	}

	ctx := zerolog.New(output).With().Timestamp().
		CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + 1 + opts.skip)

	if _, pretty := output.(zerolog.ConsoleWriter); !pretty {
		ctx = ctx.Str("service", service)
	}

	z := &ZLoggerWrapper{Logger: ctx.Logger(), service: service, w: opts.writer}
	z.SetLogLevel(opts.logLevel)

	return z
}

func consoleWriter(writer io.Writer, service string) zerolog.ConsoleWriter {
	noColor := true
	if f, ok := writer.(*os.File); ok {
		noColor = !term.IsTerminal(int(f.Fd()))
	}

	return zerolog.ConsoleWriter{
		Out:        writer,
		NoColor:    noColor,
		TimeFormat: time.RFC3339,
		FormatTimestamp: func(i interface{}) string {
			parsed, _ := time.Parse(time.RFC3339, fmt.Sprint(i))
			return parsed.Format("15:04:05")
		},
		FormatLevel: func(i interface{}) string {
			return fmt.Sprintf("| %s|", colorize(strings.ToUpper(fmt.Sprintf("%-6s", i)), levelColor(i), noColor))
		},
		FormatMessage: func(i interface{}) string {
			return fmt.Sprintf("| %-6s| %s", service, i)
		},
		FormatFieldName: func(i interface{}) string {
			return fmt.Sprintf("%s:", i)
		},
		FormatFieldValue: func(i interface{}) string {
			return strings.ToUpper(fmt.Sprint(i))
		},
		FormatCaller: func(i interface{}) string {
			c, _ := i.(string)
			if c == "" {
				return ""
			}

			return colorize(fmt.Sprintf("%-*s", callerWidth, shortCaller(c)), colorBold, noColor)
		},
	}
}

func levelColor(level interface{}) int {
	if c, ok := levelColors[fmt.Sprint(level)]; ok {
		return c
	}

	return colorWhite
}

// shortCaller trims a caller path, relative to the working directory when possible, to its
// trailing elements that fit in callerWidth.
func shortCaller(caller string) string {
	if cwd, err := os.Getwd(); err == nil {
		if rel, err := filepath.Rel(cwd, caller); err == nil {
			caller = rel
		}
	}

	parts := strings.Split(caller, "/")
	short := parts[len(parts)-1]

	for i := len(parts) - 2; i >= 0 && len(short)+len(parts[i])+1 <= callerWidth; i-- {
		short = parts[i] + "/" + short
	}

	return short
}

// New returns a logger for service writing to the same writer at the same level, unless
// options override them.
func (z *ZLoggerWrapper) New(service string, options ...Option) Logger {
	o := append([]Option{
		WithWriter(z.w),
		WithLoggerType("zerolog"),
		WithLevel(strings.ToUpper(z.Logger.GetLevel().String())),
	}, options...)

	return NewZeroLogger(service, o...)
}

// SetLogLevel sets the minimum level; unknown names mean INFO.
func (z *ZLoggerWrapper) SetLogLevel(logLevel string) {
	level, ok := zerologLevels[strings.ToUpper(logLevel)]
	if !ok {
		level = zerolog.InfoLevel
	}

	z.Logger = z.Logger.Level(level)
}

// LogLevel returns the level on the gocore scale so both implementations compare the same.
func (z *ZLoggerWrapper) LogLevel() int {
	if level, ok := gocoreLevels[z.Logger.GetLevel()]; ok {
		return level
	}

	return int(gocore.INFO)
}

func (z *ZLoggerWrapper) Debugf(format string, args ...interface{}) {
	z.Logger.Debug().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Infof(format string, args ...interface{}) {
	z.Logger.Info().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Warnf(format string, args ...interface{}) {
	z.Logger.Warn().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Errorf(format string, args ...interface{}) {
	z.Logger.Error().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Fatalf(format string, args ...interface{}) {
	z.Logger.Fatal().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Duplicate(options ...Option) Logger {
	d := &ZLoggerWrapper{z.Logger, z.service, z.w}

	opts := &Options{}
	for _, o := range options {
		o(opts)
	}

	if opts.logLevel != "" {
		d.SetLogLevel(opts.logLevel)
	}

	if opts.writer != nil && opts.writer != z.w {
		d.Logger = d.Logger.Output(opts.writer)
		d.w = opts.writer
	}

	return d
}

// colorize wraps s in ANSI code c unless disabled, c is 0 or NO_COLOR is set.
func colorize(s interface{}, c int, disabled bool) string {
	if disabled || c == 0 || os.Getenv("NO_COLOR") != "" {
		return fmt.Sprint(s)
	}

	return fmt.Sprintf("\x1b[%dm%v\x1b[0m", c, s)
}
