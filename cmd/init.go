package cmd

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-git/v5"
	"github.com/spf13/cobra"

	"github.com/git-incrypt/git-incrypt/internal/keytool"
	"github.com/git-incrypt/git-incrypt/internal/metadata"
	"github.com/git-incrypt/git-incrypt/internal/odb"
	"github.com/git-incrypt/git-incrypt/internal/ui"
)

const (
	defaultAuthorName  = "git-incrypt"
	defaultAuthorEmail = "git-incrypt@localhost"
	defaultBranchName  = "refs/heads/master"
	dateLayout         = time.RFC3339
)

var (
	initName          string
	initEmail         string
	initDate          string
	initMessages      []string
	initReadmeText    string
	initKeyTool       string
	initDefaultBranch string
)

func init() {
	initCmd.Flags().StringVarP(&initName, "name", "n", "", "template commit author name (default \""+defaultAuthorName+"\")")
	initCmd.Flags().StringVarP(&initEmail, "email", "e", "", "template commit author email (default \""+defaultAuthorEmail+"\")")
	initCmd.Flags().StringVarP(&initDate, "date", "d", "", "template commit date, RFC3339 (default: now)")
	initCmd.Flags().StringArrayVarP(&initMessages, "message", "m", nil, "template commit message paragraph (repeatable)")
	initCmd.Flags().StringVar(&initReadmeText, "readme-text", "", "path to a file whose contents replace the default README.md warning")
	initCmd.Flags().StringVar(&initKeyTool, "key-tool", "gpg", "external key-management program invoked to wrap the generated key")
	initCmd.Flags().StringVar(&initDefaultBranch, "default-branch", defaultBranchName, "cleartext ref recorded as the ER's default branch")
}

func resetInitCommandState() {
	initName = ""
	initEmail = ""
	initDate = ""
	initMessages = nil
	initReadmeText = ""
	initKeyTool = "gpg"
	initDefaultBranch = defaultBranchName
}

var initCmd = &cobra.Command{
	Use:   "init [-n NAME] [-e EMAIL] [-d DATE] [-m MSG]... KEY...",
	Short: "Create a bare encrypted repository and write its metadata record",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	spin, cleanup := startSpinner("Initializing encrypted repository...")
	defer cleanup()

	recipients, err := expandRecipients(args)
	if err != nil {
		spin.FinalMSG = ui.Error.Sprint("✗") + " Failed to expand recipient arguments: " + err.Error()
		return err
	}

	readme, err := loadReadmeText(initReadmeText)
	if err != nil {
		spin.FinalMSG = ui.Error.Sprint("✗") + " Failed to read " + ui.Path.Sprint(initReadmeText) + ": " + err.Error()
		return err
	}

	tpl, err := buildTemplate()
	if err != nil {
		spin.FinalMSG = ui.Error.Sprint("✗") + " " + err.Error()
		return err
	}

	repo, err := git.PlainInit(".", true)
	if err != nil {
		spin.FinalMSG = ui.Error.Sprint("✗") + " Failed to create bare repository: " + err.Error()
		return err
	}
	store := odb.NewStore(repo.Storer)

	tool := keytool.New(initKeyTool)
	ctx := context.Background()

	rec, err := metadata.Init(ctx, tool, recipients, tpl.Body(), initDefaultBranch, readme)
	if err != nil {
		spin.FinalMSG = ui.Error.Sprint("✗") + " Failed to wrap key: " + err.Error()
		return err
	}

	if _, err := metadata.Write(store, rec, nil); err != nil {
		spin.FinalMSG = ui.Error.Sprint("✗") + " Failed to write metadata record: " + err.Error()
		return err
	}

	keyB64 := base64.StdEncoding.EncodeToString(rec.Key)
	finalMessage := ui.Success.Sprint("✓") + " Encrypted repository initialized\n" +
		ui.Info.Sprint("→") + " Wrapped key for: " + strings.Join(recipients, ", ") + "\n" +
		ui.Info.Sprint("→") + " Raw key (stash this somewhere safe): " + ui.Highlight.Sprint(keyB64) + "\n"
	spin.FinalMSG = finalMessage
	return nil
}

// expandRecipients treats each argument as a literal recipient identifier,
// unless it contains glob metacharacters, in which case it is expanded
// against locally-known recipient key files (SPEC_FULL.md §4 item 4).
func expandRecipients(args []string) ([]string, error) {
	var recipients []string
	for _, arg := range args {
		if !hasGlobMeta(arg) {
			recipients = append(recipients, arg)
			continue
		}
		matches, err := doublestar.FilepathGlob(arg)
		if err != nil {
			return nil, fmt.Errorf("expanding %q: %w", arg, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("%q matched no recipient key files", arg)
		}
		recipients = append(recipients, matches...)
	}
	return recipients, nil
}

func hasGlobMeta(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

func loadReadmeText(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(filepath.Clean(path))
}

func buildTemplate() (odb.Template, error) {
	name := initName
	if name == "" {
		name = defaultAuthorName
	}
	email := initEmail
	if email == "" {
		email = defaultAuthorEmail
	}

	when := time.Now()
	if initDate != "" {
		parsed, err := time.Parse(dateLayout, initDate)
		if err != nil {
			return odb.Template{}, fmt.Errorf("parsing --date %q: %w", initDate, err)
		}
		when = parsed
	}

	msg := strings.Join(initMessages, "\n\n")
	if msg == "" {
		msg = "git-incrypt initial metadata\n"
	}

	sig := odb.Signature{Name: name, Email: email, When: when}
	return odb.Template{Author: sig, Committer: sig, Message: msg}, nil
}
