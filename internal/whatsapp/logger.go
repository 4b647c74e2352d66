package whatsapp

import (
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
)

type zapLogger struct {
	log *zap.SugaredLogger
}

// NewZapLogger routes whatsmeow logging through the global zap logger.
func NewZapLogger(module string) waLog.Logger {
	return &zapLogger{log: zap.S().Named("whatsmeow").Named(module)}
}

func (l *zapLogger) Errorf(msg string, args ...interface{}) {
	l.log.Errorf(msg, args...)
}

func (l *zapLogger) Warnf(msg string, args ...interface{}) {
	l.log.Warnf(msg, args...)
}

func (l *zapLogger) Infof(msg string, args ...interface{}) {
	l.log.Infof(msg, args...)
}

// Debugf is noisy enough to stay out of the info stream.
func (l *zapLogger) Debugf(msg string, args ...interface{}) {
	l.log.Debugf(msg, args...)
}

func (l *zapLogger) Sub(module string) waLog.Logger {
	return &zapLogger{log: l.log.Named(module)}
}
