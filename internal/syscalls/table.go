// Package syscalls provides immutable syscall number<->name tables, fixed
// per architecture for the lifetime of the process. Hook registrations given
// a syscall name resolve through these tables exactly once.
package syscalls

import "sort"

// Table is a bidirectional syscall number<->name mapping. Tables are built
// once at package init and never mutated afterwards.
type Table struct {
	byNum  map[int]string
	byName map[string]int
}

type entry struct {
	nr   int
	name string
}

func newTable(entries []entry) *Table {
	t := &Table{
		byNum:  make(map[int]string, len(entries)),
		byName: make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		t.byNum[e.nr] = e.name
		t.byName[e.name] = e.nr
	}
	return t
}

// Name returns the name for a syscall number.
func (t *Table) Name(num int) (string, bool) {
	name, ok := t.byNum[num]
	return name, ok
}

// Num returns the number for a syscall name.
func (t *Table) Num(name string) (int, bool) {
	num, ok := t.byName[name]
	return num, ok
}

// Len returns the number of entries in the table.
func (t *Table) Len() int {
	return len(t.byNum)
}

// Numbers returns all syscall numbers in ascending order.
func (t *Table) Numbers() []int {
	nums := make([]int, 0, len(t.byNum))
	for nr := range t.byNum {
		nums = append(nums, nr)
	}
	sort.Ints(nums)
	return nums
}

// Each calls fn for every entry in ascending syscall-number order.
func (t *Table) Each(fn func(num int, name string)) {
	for _, nr := range t.Numbers() {
		fn(nr, t.byNum[nr])
	}
}

var tables = map[string]*Table{
	"arm64":  newTable(arm64Entries),
	"x86_64": newTable(amd64Entries),
}

var emptyTable = newTable(nil)

// ForProfile returns the syscall table for an architecture profile. Profiles
// without a table get an empty one: number-based registrations still work,
// name-based registrations fail with a lookup error.
func ForProfile(profile string) *Table {
	if t, ok := tables[profile]; ok {
		return t
	}
	return emptyTable
}
