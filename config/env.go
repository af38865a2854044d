package config

import (
	"os"

	"github.com/rs/zerolog"
)

// Environment selects runtime behaviour: default log level, console output
// and the HTTP engine mode.
type Environment string

const (
	Development Environment = "development"
	Test        Environment = "test"
	CI          Environment = "ci"
	Production  Environment = "production"
)

// CurrentEnvironment reads ENV; CI runners are detected from the CI variable
// they set. Anything unrecognized counts as development.
func CurrentEnvironment() Environment {
	if os.Getenv("CI") == "true" {
		return CI
	}
	switch env := Environment(os.Getenv("ENV")); env {
	case Production, Test, Development:
		return env
	default:
		return Development
	}
}

// IsDevelopment returns true if the current environment is development
func IsDevelopment() bool {
	return CurrentEnvironment() == Development
}

// IsProduction returns true if the current environment is production
func IsProduction() bool {
	return CurrentEnvironment() == Production
}

// GinMode maps the environment onto the gin engine modes.
func GinMode() string {
	switch CurrentEnvironment() {
	case Production:
		return "release"
	case Test, CI:
		return "test"
	default:
		return "debug"
	}
}

// LogLevel is the default zerolog level for the environment. Development
// gets debug logs; everything else starts at info.
func LogLevel() zerolog.Level {
	if IsDevelopment() {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}
