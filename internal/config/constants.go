package config

// Default paths and limits
const (
	// DefaultDatabasePath is the default path for the main application database
	DefaultDatabasePath = "./clinsync.db"

	// DefaultMaxInputBytes caps the size of an import payload before parsing
	DefaultMaxInputBytes = 50 * 1024 * 1024
)
