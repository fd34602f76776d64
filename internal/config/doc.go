// Package config loads the timerd configuration (JSON or YAML), validates it
// and republishes it on file change.
package config
