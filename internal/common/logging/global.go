package logging

import "sync"

var global struct {
	sync.RWMutex
	logger Logger
}

// SetGlobalLogger replaces the process-wide logger.
func SetGlobalLogger(logger Logger) {
	global.Lock()
	defer global.Unlock()
	global.logger = logger
}

// GetGlobalLogger returns the process-wide logger, creating the default
// one on first use.
func GetGlobalLogger() Logger {
	global.RLock()
	logger := global.logger
	global.RUnlock()
	if logger != nil {
		return logger
	}

	global.Lock()
	defer global.Unlock()
	if global.logger == nil {
		global.logger = NewDefaultLogger()
	}
	return global.logger
}

func Debug(msg string, fields ...Field) { GetGlobalLogger().Debug(msg, fields...) }

func Info(msg string, fields ...Field) { GetGlobalLogger().Info(msg, fields...) }

func Warn(msg string, fields ...Field) { GetGlobalLogger().Warn(msg, fields...) }

func Error(msg string, err error, fields ...Field) { GetGlobalLogger().Error(msg, err, fields...) }
