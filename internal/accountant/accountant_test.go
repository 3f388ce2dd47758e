package accountant_test

import (
	"testing"

	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"

	"github.com/ramdiskfs/ramdisk/internal/accountant"
)

func TestAccountant(t *testing.T) { RunTests(t) }

type AccountantTest struct {
}

func init() { RegisterTestSuite(&AccountantTest{}) }

func (t *AccountantTest) ReserveAndRelease() {
	a := accountant.New(100)

	AssertTrue(a.Reserve(40))
	ExpectEq(60, a.Free())

	a.Release(40)
	ExpectEq(100, a.Free())
}

func (t *AccountantTest) ReserveFailsWithoutMutation() {
	a := accountant.New(10)

	ExpectFalse(a.Reserve(11))
	ExpectEq(10, a.Free())
}

func (t *AccountantTest) ReserveExactBalance() {
	a := accountant.New(10)

	AssertTrue(a.Reserve(10))
	ExpectEq(0, a.Free())
	ExpectFalse(a.Reserve(1))
}

func (t *AccountantTest) ReserveZero() {
	a := accountant.New(0)
	ExpectTrue(a.Reserve(0))
}
