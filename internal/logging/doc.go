// Package logging builds the zap loggers used by the beacon binaries.
package logging
