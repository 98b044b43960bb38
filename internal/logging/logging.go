// Package logging builds the process-wide structured logger.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger appropriate for the given environment: a
// human-readable console writer in development, newline-delimited JSON in
// production (and anywhere else), matching what gets shipped to a log
// aggregator.
func New(environment string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	if environment == "development" {
		writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
		return zerolog.New(writer).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// WithCorrelation attaches the common correlation fields §4.12 requires on
// settlement-path logs. Empty values are skipped here rather than added as
// empty-string keys.
func WithCorrelation(l zerolog.Logger, network, payer, router, hook, tx string) zerolog.Logger {
	ctx := l.With()
	if network != "" {
		ctx = ctx.Str("network", network)
	}
	if payer != "" {
		ctx = ctx.Str("payer", payer)
	}
	if router != "" {
		ctx = ctx.Str("router", router)
	}
	if hook != "" {
		ctx = ctx.Str("hook", hook)
	}
	if tx != "" {
		ctx = ctx.Str("tx", tx)
	}
	return ctx.Logger()
}
