package sandbox

import (
	"time"
)

// Config defines sandbox configuration
type Config struct {
	Timeout       time.Duration // Execution timeout per script
	EnableConsole bool          // Capture console.log/warn/error
	UserAgent     string        // navigator.userAgent
	ScreenWidth   int           // initial screen.width
	ScreenHeight  int           // initial screen.height
}

// Result holds execution result
type Result struct {
	Value    interface{}   // Exported return value
	Console  []LogEntry    // Console output produced by this script
	Duration time.Duration // Execution time
	Error    error         // Execution error
}

// LogEntry represents console output
type LogEntry struct {
	Level   string    // log, warn, error, info
	Message string    // Log message
	Time    time.Time // Timestamp
}

// DefaultConfig returns a desktop-sized page
func DefaultConfig() Config {
	return Config{
		Timeout:       2 * time.Second,
		EnableConsole: true,
		UserAgent:     "Mozilla/5.0 (X11; Linux x86_64) lobbyshell-sandbox",
		ScreenWidth:   1920,
		ScreenHeight:  1080,
	}
}
