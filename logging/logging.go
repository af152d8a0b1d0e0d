// Package logging provides the narrow logging seam used throughout
// scancore: every subsystem logs through a named Logger obtained from a
// context, never through a package-level global, so the embedding
// program controls sinks without scancore owning a singleton.
package logging

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// Logger is the minimal logging surface scancore subsystems depend on.
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})
}

// Factory produces a Logger scoped to a particular module name, resolved
// against a context that may or may not carry an installed Logger.
type Factory func(ctx context.Context) Logger

type loggerContextKeyType struct{}

var loggerContextKey = loggerContextKeyType{}

type loggerSet struct {
	primary     Factory
	additional  []Factory
}

// WithLogger attaches f as the context's primary logger factory.
func WithLogger(ctx context.Context, f Factory) context.Context {
	return context.WithValue(ctx, loggerContextKey, &loggerSet{primary: f})
}

// WithAdditionalLogger fans out logging to an additional factory alongside
// whatever is already installed in ctx.
func WithAdditionalLogger(ctx context.Context, f Factory) context.Context {
	ls, _ := ctx.Value(loggerContextKey).(*loggerSet)
	if ls == nil {
		return WithLogger(ctx, f)
	}

	next := &loggerSet{primary: ls.primary, additional: append(append([]Factory(nil), ls.additional...), f)}

	return context.WithValue(ctx, loggerContextKey, next)
}

// Module returns a Factory that produces a Logger named moduleName, pulling
// the sink from ctx (falling back to a process-wide zap default when the
// context carries none).
func Module(moduleName string) Factory {
	return func(ctx context.Context) Logger {
		ls, _ := ctx.Value(loggerContextKey).(*loggerSet)
		if ls == nil {
			return defaultLogger(moduleName)
		}

		primary := ls.primary(ctx)
		if len(ls.additional) == 0 {
			return namedLogger{primary}
		}

		loggers := make([]Logger, 0, 1+len(ls.additional))
		loggers = append(loggers, primary)

		for _, f := range ls.additional {
			loggers = append(loggers, f(ctx))
		}

		return Broadcast(loggers...)
	}
}

// namedLogger exists only so Module's zero-additional-logger path returns a
// concrete Logger (not the raw result of a factory call) without allocating
// a slice.
type namedLogger struct {
	Logger
}

var defaultZap = mustNewSugaredLogger()

func mustNewSugaredLogger() *zap.SugaredLogger {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}

	return l.Sugar()
}

func defaultLogger(moduleName string) Logger {
	return zapLogger{defaultZap.Named(moduleName)}
}

type zapLogger struct {
	*zap.SugaredLogger
}

func (z zapLogger) Debugw(msg string, keysAndValues ...interface{}) {
	z.SugaredLogger.Debugw(msg, keysAndValues...)
}

// broadcastLogger fans every call out to all of its members.
type broadcastLogger struct {
	loggers []Logger
}

// Broadcast returns a Logger that forwards every call to each of loggers.
func Broadcast(loggers ...Logger) Logger {
	return &broadcastLogger{loggers: loggers}
}

func (b *broadcastLogger) Debug(args ...interface{}) {
	for _, l := range b.loggers {
		l.Debug(args...)
	}
}

func (b *broadcastLogger) Debugf(template string, args ...interface{}) {
	for _, l := range b.loggers {
		l.Debugf(template, args...)
	}
}

func (b *broadcastLogger) Debugw(msg string, keysAndValues ...interface{}) {
	for _, l := range b.loggers {
		l.Debugw(msg, keysAndValues...)
	}
}

func (b *broadcastLogger) Info(args ...interface{}) {
	for _, l := range b.loggers {
		l.Info(args...)
	}
}

func (b *broadcastLogger) Infof(template string, args ...interface{}) {
	for _, l := range b.loggers {
		l.Infof(template, args...)
	}
}

func (b *broadcastLogger) Warn(args ...interface{}) {
	for _, l := range b.loggers {
		l.Warn(args...)
	}
}

func (b *broadcastLogger) Warnf(template string, args ...interface{}) {
	for _, l := range b.loggers {
		l.Warnf(template, args...)
	}
}

func (b *broadcastLogger) Error(args ...interface{}) {
	for _, l := range b.loggers {
		l.Error(args...)
	}
}

func (b *broadcastLogger) Errorf(template string, args ...interface{}) {
	for _, l := range b.loggers {
		l.Errorf(template, args...)
	}
}

// writerLogger is a simple, dependency-free Logger used in tests: every
// call is rendered to a single line and written to the wrapped io.Writer.
type writerLogger struct {
	w io.Writer
}

// ToWriter returns a Factory whose Logger renders each call as a single
// line to w, ignoring the module name (used in tests needing exact,
// deterministic output).
func ToWriter(w io.Writer) Factory {
	return func(context.Context) Logger {
		return writerLogger{w}
	}
}

func (w writerLogger) line(s string) {
	fmt.Fprintln(w.w, s)
}

func (w writerLogger) Debug(args ...interface{})  { w.line(fmt.Sprint(args...)) }
func (w writerLogger) Info(args ...interface{})   { w.line(fmt.Sprint(args...)) }
func (w writerLogger) Warn(args ...interface{})   { w.line(fmt.Sprint(args...)) }
func (w writerLogger) Error(args ...interface{})  { w.line(fmt.Sprint(args...)) }

func (w writerLogger) Debugf(template string, args ...interface{}) {
	w.line(fmt.Sprintf(template, args...))
}

func (w writerLogger) Infof(template string, args ...interface{}) {
	w.line(fmt.Sprintf(template, args...))
}

func (w writerLogger) Warnf(template string, args ...interface{}) {
	w.line(fmt.Sprintf(template, args...))
}

func (w writerLogger) Errorf(template string, args ...interface{}) {
	w.line(fmt.Sprintf(template, args...))
}

func (w writerLogger) Debugw(msg string, keysAndValues ...interface{}) {
	if len(keysAndValues) == 0 {
		w.line(msg)
		return
	}

	m := map[string]interface{}{}

	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, _ := keysAndValues[i].(string)
		m[key] = keysAndValues[i+1]
	}

	w.line(fmt.Sprintf("%s\t%s", msg, jsonCompact(m)))
}
