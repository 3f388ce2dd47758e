package snapshot_test

import (
	"bytes"
	"time"

	"github.com/kylelemons/godebug/pretty"

	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"

	"github.com/ramdiskfs/ramdisk/internal/accountant"
	"github.com/ramdiskfs/ramdisk/internal/ramtree"
	"github.com/ramdiskfs/ramdisk/internal/snapshot"

	"testing"
)

func TestCodec(t *testing.T) { RunTests(t) }

type CodecTest struct {
	now time.Time
}

func init() { RegisterTestSuite(&CodecTest{}) }

func (t *CodecTest) SetUp(ti *TestInfo) {
	t.now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}

func (t *CodecTest) buildSampleTree() *ramtree.Node {
	root := ramtree.NewRoot(t.now)

	d := ramtree.NewDir("d", 0, 0, t.now)
	ramtree.InsertChild(root, d, t.now)

	f := ramtree.NewFile("f", 0, 0, t.now)
	f.Payload = []byte("xyz")
	f.Attr.Size = int64(len(f.Payload))
	ramtree.InsertChild(d, f, t.now)

	g := ramtree.NewFile("g.txt", 0, 0, t.now)
	ramtree.InsertChild(root, g, t.now)

	return root
}

// comparable strips the Parent back-references ramtree.Node carries so that
// pretty.Compare's reflective walk doesn't need to reason about the cycle,
// and so a mismatch prints as a name/attr/payload diff instead of a wall of
// pointer addresses.
type comparable struct {
	Name     string
	Kind     ramtree.Kind
	Size     int64
	Nlink    uint32
	Payload  []byte
	Children []comparable
}

func flatten(n *ramtree.Node) comparable {
	c := comparable{
		Name:    n.Name,
		Kind:    n.Kind,
		Size:    n.Attr.Size,
		Nlink:   n.Attr.Nlink,
		Payload: n.Payload,
	}
	for _, child := range n.Children {
		c.Children = append(c.Children, flatten(child))
	}
	return c
}

// Round-trip law from spec.md §8: decode(encode(T), capacity >=
// capacity_of(T)) == T, modulo the Parent back-references flatten doesn't
// carry over.
func (t *CodecTest) EncodeDecodeRoundTrip() {
	root := t.buildSampleTree()

	var buf bytes.Buffer
	AssertEq(nil, snapshot.Encode(root, &buf))

	acct := accountant.New(1 << 20)
	got, err := snapshot.Decode(&buf, acct)
	AssertEq(nil, err)

	diff := pretty.Compare(flatten(root), flatten(got))
	ExpectEq("", diff)
}

func (t *CodecTest) DecodeRestoresAccounting() {
	root := t.buildSampleTree()

	var buf bytes.Buffer
	AssertEq(nil, snapshot.Encode(root, &buf))

	capacity := int64(1 << 20)
	acct := accountant.New(capacity)
	_, err := snapshot.Decode(&buf, acct)
	AssertEq(nil, err)

	// Three node headers (d, f, g.txt) plus 3 payload bytes were charged.
	// Root's own header is never charged, matching ramfs.New.
	wantCharged := ramtree.HeaderSize*3 + 3
	ExpectEq(capacity-wantCharged, acct.Free())
}

// Scenario 6 from spec.md §8, restated for the codec alone: decoding into
// an accountant too small to hold the tree stops partway and reports an
// error, rather than silently returning a complete-looking tree.
func (t *CodecTest) DecodeOutOfSpaceReturnsPartialTreeAndError() {
	root := t.buildSampleTree()

	var buf bytes.Buffer
	AssertEq(nil, snapshot.Encode(root, &buf))

	// Room for the root's first child header only.
	acct := accountant.New(ramtree.HeaderSize)
	got, err := snapshot.Decode(&buf, acct)
	ExpectNe(nil, err)
	AssertNe(nil, got)
	ExpectEq(root.Name, got.Name)
}

func (t *CodecTest) EncodeEmptyRoot() {
	root := ramtree.NewRoot(t.now)

	var buf bytes.Buffer
	AssertEq(nil, snapshot.Encode(root, &buf))

	acct := accountant.New(1 << 20)
	got, err := snapshot.Decode(&buf, acct)
	AssertEq(nil, err)
	ExpectEq(0, len(got.Children))
	ExpectEq(2, got.Attr.Nlink)
}
