// Package logging defines the logger used across the participant packages.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// Logger is the printf-style logger accepted by every component.
type Logger interface {
	Printf(format string, v ...any)
}

// zapLogger writes through a zap SugaredLogger at info level.
type zapLogger struct {
	sugar  *zap.SugaredLogger
	prefix string
}

// NewZap adapts a zap logger. A nil logger yields a no-op logger.
func NewZap(l *zap.Logger) Logger {
	if l == nil {
		return Nop()
	}
	return &zapLogger{sugar: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l *zapLogger) Printf(format string, v ...any) {
	l.sugar.Info(l.prefix + fmt.Sprintf(format, v...))
}

// Named scopes l to name. zap-backed loggers become zap named loggers;
// any other logger gets lines prefixed with "[name] ".
func Named(l Logger, name string) Logger {
	if zl, ok := l.(*zapLogger); ok {
		return &zapLogger{sugar: zl.sugar.Named(name), prefix: zl.prefix}
	}
	return &prefixed{next: l, prefix: "[" + name + "] "}
}

type prefixed struct {
	next   Logger
	prefix string
}

func (p *prefixed) Printf(format string, v ...any) {
	p.next.Printf(p.prefix+format, v...)
}

// Default returns a development zap logger, falling back to no-op when zap
// cannot be built.
func Default() Logger {
	l, err := zap.NewDevelopment()
	if err != nil {
		return Nop()
	}
	return NewZap(l)
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
