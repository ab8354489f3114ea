package services

// Status strings published on service.<name>.status.
const (
	StatusInitialized = "initialized"
	StatusStarted     = "started"
	StatusStopped     = "stopped"
	StatusHealthy     = "healthy"
	StatusUnhealthy   = "unhealthy"
)

// DefaultErrorThreshold is the error count above which a service reports
// itself unhealthy.
const DefaultErrorThreshold = 10
