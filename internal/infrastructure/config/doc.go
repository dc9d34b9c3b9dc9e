// Package config loads and validates Homestream Core configuration.
//
// Configuration comes from three layers, later layers overriding earlier:
//
//  1. Hardcoded defaults (Default)
//  2. A YAML file (configs/config.yaml by default)
//  3. HOMESTREAM_* environment variables
//
// The environment layer exists so secrets (broker credentials, InfluxDB
// tokens) never have to live in the YAML file.
package config
