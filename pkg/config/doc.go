// Package config loads and validates the daemon's YAML configuration.
//
// All settings have working defaults; a config file overrides them field by
// field. Unknown keys are rejected at load time.
package config
