package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger implements Logger using rs/zerolog.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger creates a ZerologLogger for one component. APP_ENV=dev
// selects the human-readable console writer; GM_LOG_LEVEL overrides the
// default info level.
func NewZerologLogger(component string) Logger {
	z := zerolog.New(output()).Level(level()).With().
		Timestamp().
		Str("service", "gridmarket").
		Str("component", component).
		Logger()
	return &ZerologLogger{log: z}
}

func output() zerolog.LevelWriter {
	if strings.ToLower(os.Getenv("APP_ENV")) == "dev" {
		return zerolog.MultiLevelWriter(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return zerolog.MultiLevelWriter(os.Stdout)
}

func level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("GM_LOG_LEVEL")))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func (l *ZerologLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *ZerologLogger) Debugw(msg string, fields map[string]any) {
	ev := l.log.Debug()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l *ZerologLogger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *ZerologLogger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *ZerologLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}
