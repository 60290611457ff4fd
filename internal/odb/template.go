package odb

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
)

// Signature is an author or committer identity with a timestamp, encoded
// in git's canonical line format: "Name <email> <unix-seconds> <tz-offset>".
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

func (s Signature) encode() string {
	_, offset := s.When.Zone()
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	return fmt.Sprintf("%s <%s> %d %s%02d%02d",
		s.Name, s.Email, s.When.Unix(), sign, offset/3600, (offset%3600)/60)
}

// Template is the fixed commit envelope shared by every wrapper commit
// and the metadata commit (spec §3, "Template commit body"): the bytes
// that follow a commit's "tree"/"parent" lines. Because every wrapper
// shares the same template, wrapper commits differ only in tree and
// parent lines — their identity is purely a function of the encrypted
// payload graph (spec I3).
type Template struct {
	Author    Signature
	Committer Signature
	Message   string
}

// Body returns the canonical byte encoding of the template.
func (t Template) Body() []byte {
	msg := t.Message
	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		msg += "\n"
	}
	return []byte(fmt.Sprintf("author %s\ncommitter %s\n\n%s", t.Author.encode(), t.Committer.encode(), msg))
}

// BuildCommitBody assembles a full commit's raw body from a tree, an
// ordered list of parents, and a template body — the inverse of stripping
// a commit down to its template.
func BuildCommitBody(tree plumbing.Hash, parents []plumbing.Hash, templateBody []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", tree.String())
	for _, p := range parents {
		fmt.Fprintf(&buf, "parent %s\n", p.String())
	}
	buf.Write(templateBody)
	return buf.Bytes()
}
