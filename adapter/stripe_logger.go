package adapter

import (
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v79"
)

// stripeLogger routes stripe-go's internal logging through slog.
type stripeLogger struct {
	logger *slog.Logger
}

var _ stripe.LeveledLoggerInterface = (*stripeLogger)(nil)

func newStripeLogger(logger *slog.Logger) *stripeLogger {
	return &stripeLogger{logger: logger.With("component", "stripe")}
}

func (l *stripeLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

// Infof is demoted to debug; stripe-go reports every request at info.
func (l *stripeLogger) Infof(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l *stripeLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...))
}

func (l *stripeLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}
