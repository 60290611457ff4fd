// Package logger provides structured, leveled logging for git-incrypt's
// CLI and remote-helper loop.
//
// Output is formatted with semantic prefixes and colors from fatih/color.
// The remote-helper loop writes exclusively to stderr so stdout stays
// reserved for the line protocol (see internal/helper).
//
// # Verbosity Levels
//
// Logging behavior is controlled by two flags:
//
//   - --verbose: Shows info messages
//   - --debug: Shows debug messages
//
// Warnings and errors are always shown.
//
// # Usage
//
//	log := logger.Logger{Verbose: verbose, Debug: debug}
//	log.Infof("encrypting %d objects", count)
package logger
