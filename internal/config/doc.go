// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation, so
// credentials can stay out of the file. An optional .env file is loaded first.
package config
