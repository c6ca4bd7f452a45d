package provider

import (
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
)

type zapLogger struct {
	log *zap.SugaredLogger
}

// NewZapLogger adapts a zap logger to the whatsmeow logging interface.
func NewZapLogger(l *zap.Logger) waLog.Logger {
	return &zapLogger{log: l.Sugar()}
}

func (z *zapLogger) Debugf(msg string, args ...interface{}) { z.log.Debugf(msg, args...) }
func (z *zapLogger) Infof(msg string, args ...interface{})  { z.log.Infof(msg, args...) }
func (z *zapLogger) Warnf(msg string, args ...interface{})  { z.log.Warnf(msg, args...) }
func (z *zapLogger) Errorf(msg string, args ...interface{}) { z.log.Errorf(msg, args...) }

func (z *zapLogger) Sub(module string) waLog.Logger {
	return &zapLogger{log: z.log.Named(module)}
}
