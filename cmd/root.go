// Package cmd is the git-incrypt CLI: the operator-facing init command
// alongside the doctor self-check, grounded on the teacher's cmd/secrets.go
// dispatch shape.
package cmd

import (
	logger "github.com/git-incrypt/git-incrypt/internal/logging"
	"github.com/spf13/cobra"
)

var (
	verbose bool
	debug   bool
	Logger  logger.Logger

	RootCmd = &cobra.Command{
		Use:   "git-incrypt",
		Short: "Create and inspect git-incrypt encrypted mirrors",
		Long: `git-incrypt transparently mirrors a cleartext git repository to an
encrypted remote. This binary creates and inspects that encrypted remote;
day-to-day fetch/push runs through the git-remote-incrypt remote helper.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			Logger = logger.Logger{Verbose: verbose, Debug: debug}
			Logger.Debugf("git-incrypt starting with verbose=%t, debug=%t", verbose, debug)
		},
	}
)

func init() {
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	RootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug output")

	RootCmd.AddCommand(initCmd)
	RootCmd.AddCommand(doctorCmd)
}

// Helper functions for testing.

// GetRootCmd returns RootCmd for testing.
func GetRootCmd() *cobra.Command {
	return RootCmd
}

// ResetGlobalState resets package-level flag state between test cases.
func ResetGlobalState() {
	verbose = false
	debug = false
	resetInitCommandState()
	resetDoctorCommandState()
}

// SetVerbose sets the verbose flag for testing.
func SetVerbose(v bool) {
	verbose = v
}

// SetDebug sets the debug flag for testing.
func SetDebug(d bool) {
	debug = d
}

// SetLogger sets the logger for testing.
func SetLogger(l logger.Logger) {
	Logger = l
}
