// Package config loads ekronosd settings from an optional YAML file and the
// environment variables understood by the original deployment scripts.
package config
