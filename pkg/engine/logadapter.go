package engine

import "github.com/RobinCK/flowmesh/pkg/logger"

// LoggerAdapter satisfies the engine's Logger contract on top of the
// module's zap-backed logger.Logger, so embedders configuring logging once
// via pkg/logger get it wired into the executor for free.
type LoggerAdapter struct {
	L logger.Logger
}

func (a LoggerAdapter) Log(msg string, ctx ...interface{}) { a.L.Info(msg, ctx...) }

func (a LoggerAdapter) Debug(msg string, ctx ...interface{}) { a.L.Debug(msg, ctx...) }

func (a LoggerAdapter) Warn(msg string, ctx ...interface{}) { a.L.Warn(msg, ctx...) }

func (a LoggerAdapter) Error(msg string, err error, ctx ...interface{}) {
	a.L.Error(msg, append([]interface{}{"error", err}, ctx...)...)
}
