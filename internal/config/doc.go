// Package config loads node configuration from a JSON file with CMQ_*
// environment overrides on top.
package config
