// Package config materializes the frozen service configuration at startup
// from an optional YAML file overlaid with HUTCH_* environment variables.
// Components receive the Config struct explicitly; no other package reads
// the environment.
package config
