// Package config defines the application's configuration structure and
// loading. Configuration comes from environment variables with the RELAY_
// prefix and is validated before use, so the rest of the application can
// assume a well-formed Config.
package config
