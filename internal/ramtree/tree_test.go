package ramtree_test

import (
	"testing"
	"time"

	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"

	"github.com/ramdiskfs/ramdisk/internal/ramtree"
)

func TestTree(t *testing.T) { RunTests(t) }

type TreeTest struct {
	now time.Time
}

func init() { RegisterTestSuite(&TreeTest{}) }

func (t *TreeTest) SetUp(ti *TestInfo) {
	t.now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}

func (t *TreeTest) ResolveRoot() {
	tree := ramtree.New(t.now)

	for _, p := range []string{"", "/"} {
		n, ok := tree.Resolve(p)
		AssertTrue(ok)
		ExpectEq(tree.Root, n)
	}
}

func (t *TreeTest) ResolveNested() {
	tree := ramtree.New(t.now)
	d := ramtree.NewDir("a", 0, 0, t.now)
	ramtree.InsertChild(tree.Root, d, t.now)
	f := ramtree.NewFile("b", 0, 0, t.now)
	ramtree.InsertChild(d, f, t.now)

	n, ok := tree.Resolve("/a/b")
	AssertTrue(ok)
	ExpectEq(f, n)

	// Consecutive separators collapse to one.
	n, ok = tree.Resolve("//a//b")
	AssertTrue(ok)
	ExpectEq(f, n)
}

func (t *TreeTest) ResolveNotFound() {
	tree := ramtree.New(t.now)
	_, ok := tree.Resolve("/missing")
	ExpectFalse(ok)
}

func (t *TreeTest) SplitParent() {
	tree := ramtree.New(t.now)
	d := ramtree.NewDir("a", 0, 0, t.now)
	ramtree.InsertChild(tree.Root, d, t.now)

	parent, name, ok := tree.SplitParent("/a/b.txt")
	AssertTrue(ok)
	ExpectEq(d, parent)
	ExpectEq("b.txt", name)
}

func (t *TreeTest) SplitParentMissingPrefix() {
	tree := ramtree.New(t.now)
	_, _, ok := tree.SplitParent("/missing/b.txt")
	ExpectFalse(ok)
}

func (t *TreeTest) SplitParentPrefixIsFile() {
	tree := ramtree.New(t.now)
	f := ramtree.NewFile("a", 0, 0, t.now)
	ramtree.InsertChild(tree.Root, f, t.now)

	_, _, ok := tree.SplitParent("/a/b.txt")
	ExpectFalse(ok)
}

func (t *TreeTest) InsertChildLinkCount() {
	tree := ramtree.New(t.now)
	ExpectEq(uint32(2), tree.Root.Attr.Nlink)

	d := ramtree.NewDir("a", 0, 0, t.now)
	ramtree.InsertChild(tree.Root, d, t.now)
	ExpectEq(uint32(3), tree.Root.Attr.Nlink)
	ExpectEq(tree.Root, d.Parent)
	ExpectEq(d, tree.Root.Children[0])
}

func (t *TreeTest) DetachLinkCount() {
	tree := ramtree.New(t.now)
	d := ramtree.NewDir("a", 0, 0, t.now)
	ramtree.InsertChild(tree.Root, d, t.now)

	ramtree.Detach(d, t.now)
	ExpectEq(uint32(2), tree.Root.Attr.Nlink)
	ExpectEq(0, len(tree.Root.Children))
	ExpectTrue(d.Parent == nil)
}

// RenameOverSameParentNetsZero is a regression test for the open question
// in SPEC_FULL.md §10.2: detach then reinsert of the source under the *same*
// parent must net zero, not double-decrement or double-increment, so the
// only change left is the one decrement from removing the destination.
func (t *TreeTest) RenameOverSameParentNetsZero() {
	tree := ramtree.New(t.now)
	src := ramtree.NewFile("a", 0, 0, t.now)
	ramtree.InsertChild(tree.Root, src, t.now)
	dst := ramtree.NewFile("b", 0, 0, t.now)
	ramtree.InsertChild(tree.Root, dst, t.now)

	before := tree.Root.Attr.Nlink

	ramtree.Detach(dst, t.now) // simulates unlink(to) during rename-over
	ramtree.Detach(src, t.now) // simulates detaching the rename source
	ramtree.InsertChild(tree.Root, src, t.now)

	ExpectEq(before-1, tree.Root.Attr.Nlink)
}
