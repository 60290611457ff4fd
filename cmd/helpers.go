package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/briandowns/spinner"

	"github.com/git-incrypt/git-incrypt/internal/ui"
)

// startSpinner creates and starts a spinner with the given message, mirroring
// the teacher's suppression of the spinner (and stdlib log output) in
// verbose/debug mode. Returns the spinner and a cleanup function to defer.
func startSpinner(message string) (*spinner.Spinner, func()) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message

	if err := s.Color("cyan"); err != nil {
		Logger.Warnf("failed to set spinner color: %v", err)
	}

	if !verbose && !debug {
		s.Start()
		log.SetOutput(io.Discard)
	} else {
		Logger.Infof("running in verbose/debug mode: %s", message)
	}

	cleanup := func() {
		if !verbose && !debug {
			log.SetOutput(os.Stderr)
		}

		finalMsg := ""
		if s.FinalMSG != "" {
			finalMsg = ui.EnsureNewline(s.FinalMSG)
			s.FinalMSG = ""
		}

		if !verbose && !debug {
			s.Stop()
		}

		if finalMsg != "" {
			fmt.Print(finalMsg)
		}
	}

	return s, cleanup
}

// printError prints a formatted error line and logs the underlying error at
// debug level.
func printError(context string, err error) {
	fmt.Fprintln(os.Stderr, ui.Error.Sprint("✗")+" "+context+": "+err.Error())
	Logger.Debugf("%s: %v", context, err)
}
