// Package config loads service configuration with a fixed precedence:
// built-in defaults, then an optional YAML file, then environment variable
// overrides (STATEFLOW_ prefixed).
package config
