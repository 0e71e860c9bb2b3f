package utils

import "time"

const (
	GCSweepInterval = 10 * time.Second

	// ShutdownPersistTimeout bounds the final persistence sweep on exit.
	ShutdownPersistTimeout = 30 * time.Second
)
