package walker

import (
	"testing"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/git-incrypt/git-incrypt/internal/crypt"
	"github.com/git-incrypt/git-incrypt/internal/objectmap"
	"github.com/git-incrypt/git-incrypt/internal/odb"
)

func newCRStore() *odb.Store {
	return odb.NewStore(memory.NewStorage())
}

func commitTemplate(msg string) []byte {
	when := time.Unix(1700000000, 0).UTC()
	tpl := odb.Template{
		Author:    odb.Signature{Name: "Author", Email: "author@example.com", When: when},
		Committer: odb.Signature{Name: "Author", Email: "author@example.com", When: when},
		Message:   msg,
	}
	return tpl.Body()
}

// buildCR constructs a two-commit cleartext history directly against an
// in-memory object store: a root commit with one file, and a child commit
// that changes the file's content.
func buildCR(t *testing.T) (cr *odb.Store, rootID, childID plumbing.Hash) {
	t.Helper()
	cr = newCRStore()

	blob1, err := cr.WriteBlob([]byte("hello"))
	if err != nil {
		t.Fatalf("WriteBlob() error = %v", err)
	}
	tree1, err := cr.WriteTree(&object.Tree{Entries: []object.TreeEntry{
		{Name: "file.txt", Mode: filemode.Regular, Hash: blob1},
	}})
	if err != nil {
		t.Fatalf("WriteTree() error = %v", err)
	}
	rootID, err = cr.WriteRaw(odb.KindCommit, odb.BuildCommitBody(tree1, nil, commitTemplate("root")))
	if err != nil {
		t.Fatalf("WriteRaw(root) error = %v", err)
	}

	blob2, err := cr.WriteBlob([]byte("hello again"))
	if err != nil {
		t.Fatalf("WriteBlob() error = %v", err)
	}
	tree2, err := cr.WriteTree(&object.Tree{Entries: []object.TreeEntry{
		{Name: "file.txt", Mode: filemode.Regular, Hash: blob2},
	}})
	if err != nil {
		t.Fatalf("WriteTree() error = %v", err)
	}
	childID, err = cr.WriteRaw(odb.KindCommit, odb.BuildCommitBody(tree2, []plumbing.Hash{rootID}, commitTemplate("child")))
	if err != nil {
		t.Fatalf("WriteRaw(child) error = %v", err)
	}

	return cr, rootID, childID
}

func newKey(t *testing.T) []byte {
	t.Helper()
	key, err := crypt.NewKey()
	if err != nil {
		t.Fatalf("NewKey() error = %v", err)
	}
	return key
}

func TestEncryptPushProducesOneWrapperPerCommit(t *testing.T) {
	cr, rootID, childID := buildCR(t)
	er := newCRStore()
	key := newKey(t)
	m := objectmap.New()

	ew := &EncryptWalker{CR: cr, ER: er, Map: m, Key: key, TemplateBody: commitTemplate("wrapper")}
	results, err := ew.EncryptPush([]PushTip{{ClearID: childID, DstRef: "refs/heads/master"}})
	if err != nil {
		t.Fatalf("EncryptPush() error = %v", err)
	}
	if err := results["refs/heads/master"]; err != nil {
		t.Fatalf("EncryptPush() ref result = %v", err)
	}

	if m.Len() != 2 {
		t.Fatalf("Map.Len() = %d, want 2 (root + child)", m.Len())
	}
	if _, ok := m.Crypt(rootID); !ok {
		t.Fatal("root commit missing from Map")
	}
	if _, ok := m.Crypt(childID); !ok {
		t.Fatal("child commit missing from Map")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	cr, rootID, childID := buildCR(t)
	er := newCRStore()
	key := newKey(t)
	m := objectmap.New()

	ew := &EncryptWalker{CR: cr, ER: er, Map: m, Key: key, TemplateBody: commitTemplate("wrapper")}
	if _, err := ew.EncryptPush([]PushTip{{ClearID: childID, DstRef: "refs/heads/master"}}); err != nil {
		t.Fatalf("EncryptPush() error = %v", err)
	}

	wrapperID, ok := m.Crypt(childID)
	if !ok {
		t.Fatal("child commit has no wrapper")
	}

	cr2 := newCRStore()
	m2 := objectmap.New()
	dw := &DecryptWalker{ER: er, CR: cr2, Map: m2, Key: key}
	results, err := dw.FetchRefs([]RefTip{{ClearName: "refs/heads/master", WrapperID: wrapperID}})
	if err != nil {
		t.Fatalf("FetchRefs() error = %v", err)
	}
	if len(results) != 1 || results[0].ClearID != childID {
		t.Fatalf("FetchRefs() = %+v, want tip %s", results, childID)
	}

	gotRoot, err := cr2.Commit(rootID)
	if err != nil {
		t.Fatalf("decrypted CR missing root commit: %v", err)
	}
	wantRoot, err := cr.Commit(rootID)
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if gotRoot.Hash != wantRoot.Hash {
		t.Fatalf("decrypted root commit id = %s, want %s", gotRoot.Hash, wantRoot.Hash)
	}

	gotChild, err := cr2.Commit(childID)
	if err != nil {
		t.Fatalf("decrypted CR missing child commit: %v", err)
	}
	if gotChild.NumParents() != 1 || gotChild.ParentHashes[0] != rootID {
		t.Fatalf("decrypted child commit parents = %v, want [%s]", gotChild.ParentHashes, rootID)
	}
}

func TestEncryptPushIsDeterministic(t *testing.T) {
	cr, _, childID := buildCR(t)
	key := newKey(t)
	tpl := commitTemplate("wrapper")

	er1 := newCRStore()
	m1 := objectmap.New()
	ew1 := &EncryptWalker{CR: cr, ER: er1, Map: m1, Key: key, TemplateBody: tpl}
	if _, err := ew1.EncryptPush([]PushTip{{ClearID: childID, DstRef: "refs/heads/master"}}); err != nil {
		t.Fatalf("EncryptPush() error = %v", err)
	}

	er2 := newCRStore()
	m2 := objectmap.New()
	ew2 := &EncryptWalker{CR: cr, ER: er2, Map: m2, Key: key, TemplateBody: tpl}
	if _, err := ew2.EncryptPush([]PushTip{{ClearID: childID, DstRef: "refs/heads/master"}}); err != nil {
		t.Fatalf("EncryptPush() error = %v", err)
	}

	w1, _ := m1.Crypt(childID)
	w2, _ := m2.Crypt(childID)
	if w1 != w2 {
		t.Fatalf("wrapper ids differ across identical pushes: %s != %s", w1, w2)
	}
}

func TestEncryptPushIsIncremental(t *testing.T) {
	cr, rootID, childID := buildCR(t)
	er := newCRStore()
	key := newKey(t)
	tpl := commitTemplate("wrapper")
	m := objectmap.New()

	ew := &EncryptWalker{CR: cr, ER: er, Map: m, Key: key, TemplateBody: tpl}
	if _, err := ew.EncryptPush([]PushTip{{ClearID: rootID, DstRef: "refs/heads/master"}}); err != nil {
		t.Fatalf("first EncryptPush() error = %v", err)
	}
	rootWrapperBefore, _ := m.Crypt(rootID)

	if _, err := ew.EncryptPush([]PushTip{{ClearID: childID, DstRef: "refs/heads/master"}}); err != nil {
		t.Fatalf("second EncryptPush() error = %v", err)
	}
	rootWrapperAfter, _ := m.Crypt(rootID)

	if rootWrapperBefore != rootWrapperAfter {
		t.Fatalf("root wrapper id changed across incremental push: %s != %s", rootWrapperBefore, rootWrapperAfter)
	}
	if m.Len() != 2 {
		t.Fatalf("Map.Len() = %d, want 2", m.Len())
	}
}

func TestEncryptPushRejectsUnexpectedType(t *testing.T) {
	cr, _, _ := buildCR(t)
	er := newCRStore()
	key := newKey(t)
	m := objectmap.New()

	blob, err := cr.WriteBlob([]byte("not a commit"))
	if err != nil {
		t.Fatalf("WriteBlob() error = %v", err)
	}

	ew := &EncryptWalker{CR: cr, ER: er, Map: m, Key: key, TemplateBody: commitTemplate("wrapper")}
	if _, err := ew.EncryptPush([]PushTip{{ClearID: blob, DstRef: "refs/heads/master"}}); err == nil {
		t.Fatal("EncryptPush() on a blob tip succeeded, want error")
	}
}
