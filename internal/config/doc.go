// ABOUTME: Package documentation for configuration handling
// ABOUTME: Describes file locations, env expansion, and validation rules

// Package config handles configuration loading for consult-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CONSULT_CONFIG environment variable
//  2. ./config.yaml (current directory)
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: ${CONSULT_JWT_SECRET}
//
// Unset variables expand to the empty string, which the validator then
// catches for required fields.
//
// # Durations
//
// Duration fields such as agent.timeout accept Go duration strings ("30s",
// "2m"). An empty duration leaves the consuming component's default in place.
package config
