// Package config loads the tagpin server configuration: a YAML file merged
// over built-in defaults, validated before use. CLI flags override file
// values at the command layer.
package config
