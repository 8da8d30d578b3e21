package analyzer

import (
	"fmt"
	"strings"
)

// Default cost bounds. Both exist to guarantee termination on large or
// cyclic call graphs; exhausting either truncates the analysis for the
// affected function or chain and keeps the pairs found so far.
const (
	defaultVisitCap   = 10000
	defaultChainDepth = 4
)

// Detector names accepted by the -detectors flag.
const (
	detectorDoubleLock    = "double-lock"
	detectorConflictOrder = "conflicting-lock-order"
	detectorCondvarMisuse = "condvar-misuse"
)

// listMode says how a module name list is applied.
type listMode int

const (
	// listDisabled means no module gating at all.
	listDisabled listMode = iota
	// listAllow analyzes only packages matching the list.
	listAllow
	// listDeny analyzes every package except those matching the list.
	listDeny
)

// ambiguityPolicy decides how guards whose origin chain fails to normalize
// compare to other guards.
type ambiguityPolicy int

const (
	// originsDistinct treats unresolved origins as unequal to everything,
	// favoring precision. This is the default.
	originsDistinct ambiguityPolicy = iota
	// originsShared treats an unresolved origin as equal to any other,
	// favoring double-lock recall at the cost of false positives.
	originsShared
)

// detectorSet records which detectors a run executes.
type detectorSet struct {
	doubleLock    bool
	conflictOrder bool
	condvarMisuse bool
}

// config carries every tunable the analysis consumes. One immutable value
// is built from the analyzer's flags when a pass starts and handed to each
// phase, so passes stay reentrant when the driver analyzes packages in
// parallel.
type config struct {
	detectors  detectorSet
	visitCap   int
	chainDepth int

	// moduleList holds package path prefixes; moduleMode says whether the
	// list admits (allow) or excludes (deny) matching packages and origins.
	moduleList []string
	moduleMode listMode

	onAmbiguousOrigin ambiguityPolicy

	jsonDump bool
}

// parseDetectors parses a comma-separated detector list.
func parseDetectors(s string) (detectorSet, error) {
	var set detectorSet
	for _, name := range strings.Split(s, ",") {
		switch strings.TrimSpace(name) {
		case detectorDoubleLock:
			set.doubleLock = true
		case detectorConflictOrder:
			set.conflictOrder = true
		case detectorCondvarMisuse:
			set.condvarMisuse = true
		case "":
		default:
			return detectorSet{}, fmt.Errorf("unknown detector %q (want %s, %s or %s)",
				name, detectorDoubleLock, detectorConflictOrder, detectorCondvarMisuse)
		}
	}
	return set, nil
}

// parseModuleList splits a comma-separated package path prefix list.
func parseModuleList(s string) []string {
	var list []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			list = append(list, p)
		}
	}
	return list
}

// parseListMode maps the -module-list-mode flag value.
func parseListMode(s string, haveList bool) (listMode, error) {
	if !haveList {
		return listDisabled, nil
	}
	switch s {
	case "allow":
		return listAllow, nil
	case "deny":
		return listDeny, nil
	}
	return listDisabled, fmt.Errorf("unknown module list mode %q (want allow or deny)", s)
}

// parseAmbiguityPolicy maps the -on-ambiguous-origin flag value.
func parseAmbiguityPolicy(s string) (ambiguityPolicy, error) {
	switch s {
	case "distinct":
		return originsDistinct, nil
	case "shared":
		return originsShared, nil
	}
	return originsDistinct, fmt.Errorf("unknown ambiguous-origin policy %q (want distinct or shared)", s)
}

// admitsPackage reports whether the module list lets pkgPath be analyzed.
func (c *config) admitsPackage(pkgPath string) bool {
	switch c.moduleMode {
	case listAllow:
		return c.matchesList(pkgPath)
	case listDeny:
		return !c.matchesList(pkgPath)
	}
	return true
}

// excludesOrigin reports whether a guard rooted in pkgPath must leave
// origin consideration entirely.
func (c *config) excludesOrigin(pkgPath string) bool {
	if pkgPath == "" {
		return false
	}
	switch c.moduleMode {
	case listAllow:
		return !c.matchesList(pkgPath)
	case listDeny:
		return c.matchesList(pkgPath)
	}
	return false
}

func (c *config) matchesList(pkgPath string) bool {
	for _, prefix := range c.moduleList {
		if pkgPath == prefix || strings.HasPrefix(pkgPath, prefix+"/") {
			return true
		}
	}
	return false
}
