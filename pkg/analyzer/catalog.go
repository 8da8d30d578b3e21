package analyzer

import (
	"go/types"

	"golang.org/x/tools/go/ssa"
)

// Package paths of the supported lock families. go-deadlock and gVisor's
// sync are drop-in replacements for the standard library package, so all
// three families expose the same method surface. Matching is by path, type
// and method name; the analyzer never imports the matched packages.
const (
	pkgSync       = "sync"
	pkgDeadlock   = "github.com/sasha-s/go-deadlock"
	pkgGvisorSync = "gvisor.dev/gvisor/pkg/sync"
)

// lockKind identifies one acquisition flavor of one lock family.
type lockKind int

const (
	kindInvalid lockKind = iota
	kindSyncMutex
	kindSyncRWRead
	kindSyncRWWrite
	kindDeadlockMutex
	kindDeadlockRWRead
	kindDeadlockRWWrite
	kindGvisorMutex
	kindGvisorRWRead
	kindGvisorRWWrite
)

// kindNames are the stable strings used in diagnostics and reports.
var kindNames = map[lockKind]string{
	kindSyncMutex:       "sync.Mutex",
	kindSyncRWRead:      "sync.RWMutex(read)",
	kindSyncRWWrite:     "sync.RWMutex(write)",
	kindDeadlockMutex:   "deadlock.Mutex",
	kindDeadlockRWRead:  "deadlock.RWMutex(read)",
	kindDeadlockRWWrite: "deadlock.RWMutex(write)",
	kindGvisorMutex:     "gvisor/sync.Mutex",
	kindGvisorRWRead:    "gvisor/sync.RWMutex(read)",
	kindGvisorRWWrite:   "gvisor/sync.RWMutex(write)",
}

func (k lockKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "invalid"
}

// exclusive reports whether the acquisition excludes all other holders.
// Shared-read acquisitions admit concurrent readers.
func (k lockKind) exclusive() bool {
	switch k {
	case kindSyncRWRead, kindDeadlockRWRead, kindGvisorRWRead:
		return false
	}
	return true
}

// canConflict reports whether two acquisitions can mutually block: two
// shared readers never conflict, any combination involving at least one
// exclusive acquisition can.
func canConflict(a, b lockKind) bool {
	return a.exclusive() || b.exclusive()
}

// lockAPI names one method of one lock type.
type lockAPI struct {
	pkgPath string
	typ     string
	method  string
}

// acquireAPIs maps acquisition methods to the kind of guard they create.
// TryLock variants count as acquisitions; the collector does not model
// their failure path, which only over-approximates the held set.
var acquireAPIs = map[lockAPI]lockKind{
	{pkgSync, "Mutex", "Lock"}:       kindSyncMutex,
	{pkgSync, "Mutex", "TryLock"}:    kindSyncMutex,
	{pkgSync, "RWMutex", "RLock"}:    kindSyncRWRead,
	{pkgSync, "RWMutex", "TryRLock"}: kindSyncRWRead,
	{pkgSync, "RWMutex", "Lock"}:     kindSyncRWWrite,
	{pkgSync, "RWMutex", "TryLock"}:  kindSyncRWWrite,

	{pkgDeadlock, "Mutex", "Lock"}:       kindDeadlockMutex,
	{pkgDeadlock, "Mutex", "TryLock"}:    kindDeadlockMutex,
	{pkgDeadlock, "RWMutex", "RLock"}:    kindDeadlockRWRead,
	{pkgDeadlock, "RWMutex", "TryRLock"}: kindDeadlockRWRead,
	{pkgDeadlock, "RWMutex", "Lock"}:     kindDeadlockRWWrite,
	{pkgDeadlock, "RWMutex", "TryLock"}:  kindDeadlockRWWrite,

	{pkgGvisorSync, "Mutex", "Lock"}:       kindGvisorMutex,
	{pkgGvisorSync, "Mutex", "TryLock"}:    kindGvisorMutex,
	{pkgGvisorSync, "RWMutex", "RLock"}:    kindGvisorRWRead,
	{pkgGvisorSync, "RWMutex", "TryRLock"}: kindGvisorRWRead,
	{pkgGvisorSync, "RWMutex", "Lock"}:     kindGvisorRWWrite,
	{pkgGvisorSync, "RWMutex", "TryLock"}:  kindGvisorRWWrite,
}

// releaseAPIs maps release methods to the kind of guard they destroy.
var releaseAPIs = map[lockAPI]lockKind{
	{pkgSync, "Mutex", "Unlock"}:    kindSyncMutex,
	{pkgSync, "RWMutex", "RUnlock"}: kindSyncRWRead,
	{pkgSync, "RWMutex", "Unlock"}:  kindSyncRWWrite,

	{pkgDeadlock, "Mutex", "Unlock"}:    kindDeadlockMutex,
	{pkgDeadlock, "RWMutex", "RUnlock"}: kindDeadlockRWRead,
	{pkgDeadlock, "RWMutex", "Unlock"}:  kindDeadlockRWWrite,

	{pkgGvisorSync, "Mutex", "Unlock"}:    kindGvisorMutex,
	{pkgGvisorSync, "RWMutex", "RUnlock"}: kindGvisorRWRead,
	{pkgGvisorSync, "RWMutex", "Unlock"}:  kindGvisorRWWrite,
}

// Condition variable APIs consumed by the condvar-misuse detector.
var (
	condWaitAPI = lockAPI{pkgSync, "Cond", "Wait"}

	condNotifyAPIs = map[lockAPI]bool{
		{pkgSync, "Cond", "Signal"}:    true,
		{pkgSync, "Cond", "Broadcast"}: true,
	}
)

// lockTypeNames lists the catalog lock types per family package.
var lockTypeNames = map[string]map[string]bool{
	pkgSync:       {"Mutex": true, "RWMutex": true},
	pkgDeadlock:   {"Mutex": true, "RWMutex": true},
	pkgGvisorSync: {"Mutex": true, "RWMutex": true},
}

// isLockCell reports whether addr is the address of a catalog lock value.
func isLockCell(addr ssa.Value) bool {
	ptr, ok := addr.Type().Underlying().(*types.Pointer)
	if !ok {
		return false
	}
	named, ok := ptr.Elem().(*types.Named)
	if !ok {
		return false
	}
	obj := named.Obj()
	if obj.Pkg() == nil {
		return false
	}
	return lockTypeNames[obj.Pkg().Path()][obj.Name()]
}

// methodAPI extracts the (package, receiver type, method) triple of a
// static callee, or ok=false when fn is not a named-receiver method.
func methodAPI(fn *ssa.Function) (lockAPI, bool) {
	recv := fn.Signature.Recv()
	if recv == nil {
		return lockAPI{}, false
	}
	t := recv.Type()
	if ptr, ok := t.(*types.Pointer); ok {
		t = ptr.Elem()
	}
	named, ok := t.(*types.Named)
	if !ok {
		return lockAPI{}, false
	}
	obj := named.Obj()
	if obj.Pkg() == nil {
		return lockAPI{}, false
	}
	return lockAPI{
		pkgPath: obj.Pkg().Path(),
		typ:     obj.Name(),
		method:  fn.Name(),
	}, true
}

// classifyAcquire returns the guard kind created by calling fn, if fn is a
// catalog acquisition method.
func classifyAcquire(fn *ssa.Function) (lockKind, bool) {
	api, ok := methodAPI(fn)
	if !ok {
		return kindInvalid, false
	}
	kind, ok := acquireAPIs[api]
	return kind, ok
}

// classifyRelease returns the guard kind destroyed by calling fn, if fn is
// a catalog release method.
func classifyRelease(fn *ssa.Function) (lockKind, bool) {
	api, ok := methodAPI(fn)
	if !ok {
		return kindInvalid, false
	}
	kind, ok := releaseAPIs[api]
	return kind, ok
}

// isCondWait reports whether fn is (*sync.Cond).Wait.
func isCondWait(fn *ssa.Function) bool {
	api, ok := methodAPI(fn)
	return ok && api == condWaitAPI
}

// isCondNotify reports whether fn is (*sync.Cond).Signal or Broadcast.
func isCondNotify(fn *ssa.Function) bool {
	api, ok := methodAPI(fn)
	return ok && condNotifyAPIs[api]
}

// isNewCond reports whether fn is the sync.NewCond constructor.
func isNewCond(fn *ssa.Function) bool {
	if fn.Signature.Recv() != nil || fn.Name() != "NewCond" {
		return false
	}
	pkg := fn.Package()
	return pkg != nil && pkg.Pkg != nil && pkg.Pkg.Path() == pkgSync
}
