package config

import (
	"os"
	"strings"
)

// The deployment environment selects which venue tier the daemon runs
// against. Demo is the default so a bare checkout never touches a live
// account by accident.
const (
	envVar = "FIXFLOW_ENV"

	// EnvironmentDemo trades practice accounts on the demo venue.
	EnvironmentDemo = "demo"
	// EnvironmentStaging runs the live venue with internal accounts.
	EnvironmentStaging = "staging"
	// EnvironmentLive trades real money.
	EnvironmentLive = "live"
)

var environmentAliases = map[string]string{
	"dev":         EnvironmentDemo,
	"development": EnvironmentDemo,
	"practice":    EnvironmentDemo,
	"stage":       EnvironmentStaging,
	"stg":         EnvironmentStaging,
	"prod":        EnvironmentLive,
	"production":  EnvironmentLive,
}

// Environment returns the deployment environment from FIXFLOW_ENV,
// normalised through the alias table and defaulting to demo.
func Environment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(envVar)))
	if env == "" {
		return EnvironmentDemo
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// IsLive reports whether the environment trades real money. Live
// deployments validate accounts more strictly.
func IsLive(env string) bool {
	return env == EnvironmentLive
}

// resolveEnvSpecificPath swaps in the environment's own config file
// when the caller did not ask for a specific one and that file exists.
func resolveEnvSpecificPath(path, defaultPath string, envPaths map[string]string) string {
	if path != "" && path != defaultPath {
		return path
	}
	if path == "" {
		path = defaultPath
	}
	envPath, ok := envPaths[Environment()]
	if !ok {
		return path
	}
	if _, err := os.Stat(envPath); err != nil {
		return path
	}
	return envPath
}
