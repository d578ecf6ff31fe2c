package logger

import "go.uber.org/zap"

// New returns a console logger in development and a JSON production logger otherwise.
func New(env string) *zap.Logger {
	if env == "development" || env == "memory" {
		return zap.Must(zap.NewDevelopment())
	}
	return zap.Must(zap.NewProduction())
}
