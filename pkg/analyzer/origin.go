package analyzer

import (
	"fmt"
	"go/token"
	"go/types"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/tools/go/ssa"
)

// The origin resolver approximates whether two lock references point at the
// same lock object without a points-to analysis. It walks a reference's
// defining chain backward through assignment, field projection and
// dereference steps until a canonical symbolic root is reached; guards
// whose normalized roots are equal share an origin class.
//
// The walk is split in two: extractSteps turns an SSA value into a symbolic
// step chain, and a finite-state automaton (runOriginAutomaton) folds the
// chain into an originKey. Keeping the automaton free of SSA lets it be
// tested against synthetic chains.

// stepKind is the vocabulary of the symbolic chains.
type stepKind int

const (
	stepCopy stepKind = iota // straight-line assignment or conversion
	stepField                // field projection, name attached
	stepIndex                // array/slice element projection
	stepDeref                // load through a pointer cell
	stepCapture              // closure free-variable boundary

	// Terminal steps end a chain at its root.
	stepRootLocal
	stepRootParam
	stepRootGlobal
	stepRootCall
)

// originStep is one element of a symbolic chain, ordered from the lock
// reference toward its root.
type originStep struct {
	kind stepKind
	name string // field name, or root identifier / type for terminals
}

// originState enumerates the automaton states.
type originState int

const (
	stateInit originState = iota
	stateWalk
	stateDeref
	stateLocalRoot
	stateParamRoot
	stateGlobalRoot
	stateCallRoot
)

// originTransitions is the automaton's transition table. Missing entries
// mean the chain is rejected as ambiguous. A capture after a dereference is
// deliberately absent: a pointer loaded from a reseatable cell and then
// carried across a closure boundary is beyond the resolver's confidence.
var originTransitions = map[originState]map[stepKind]originState{
	stateInit: {
		stepCopy:       stateWalk,
		stepField:      stateWalk,
		stepIndex:      stateWalk,
		stepDeref:      stateDeref,
		stepCapture:    stateWalk,
		stepRootLocal:  stateLocalRoot,
		stepRootParam:  stateParamRoot,
		stepRootGlobal: stateGlobalRoot,
		stepRootCall:   stateCallRoot,
	},
	stateWalk: {
		stepCopy:       stateWalk,
		stepField:      stateWalk,
		stepIndex:      stateWalk,
		stepDeref:      stateDeref,
		stepCapture:    stateWalk,
		stepRootLocal:  stateLocalRoot,
		stepRootParam:  stateParamRoot,
		stepRootGlobal: stateGlobalRoot,
		stepRootCall:   stateCallRoot,
	},
	stateDeref: {
		stepCopy:       stateDeref,
		stepField:      stateDeref,
		stepIndex:      stateDeref,
		stepDeref:      stateDeref,
		stepRootLocal:  stateLocalRoot,
		stepRootParam:  stateParamRoot,
		stepRootGlobal: stateGlobalRoot,
		stepRootCall:   stateCallRoot,
	},
}

// maxOriginSteps bounds chain length; longer chains resolve as ambiguous.
const maxOriginSteps = 32

// rootClass tags the terminal a chain ended in.
type rootClass int

const (
	rootNone rootClass = iota
	rootLocal
	rootParam
	rootGlobal
	rootCall
)

// originKey is a canonical root. Parameter roots are normalized by the
// root's type rather than its position, so the same field reached through
// receivers of the same struct type unifies across functions.
type originKey struct {
	class rootClass
	ident string // local/global/call identifier, param type string
	path  string // field path from the root, derefs marked "*"
}

// resolution is the outcome for one guard.
type resolution struct {
	key      originKey
	resolved bool
	// pkgPath locates the root for module allow/deny filtering.
	pkgPath string
}

// runOriginAutomaton folds a symbolic chain into an originKey. ok is false
// when the chain is empty, over-long, or takes a transition outside the
// table.
func runOriginAutomaton(steps []originStep) (originKey, bool) {
	if len(steps) == 0 || len(steps) > maxOriginSteps {
		return originKey{}, false
	}

	state := stateInit
	var rev []string // path elements in visit order, reversed at the end

	for _, step := range steps {
		row, ok := originTransitions[state]
		if !ok {
			// Terminal state reached but steps remain.
			return originKey{}, false
		}
		next, ok := row[step.kind]
		if !ok {
			return originKey{}, false
		}

		switch step.kind {
		case stepField:
			rev = append(rev, step.name)
		case stepIndex:
			rev = append(rev, "[]")
		case stepDeref:
			rev = append(rev, "*")
		}
		state = next
	}

	var class rootClass
	switch state {
	case stateLocalRoot:
		class = rootLocal
	case stateParamRoot:
		class = rootParam
	case stateGlobalRoot:
		class = rootGlobal
	case stateCallRoot:
		class = rootCall
	default:
		// Chain never reached a root.
		return originKey{}, false
	}

	var path string
	for i := len(rev) - 1; i >= 0; i-- {
		if path != "" {
			path += "."
		}
		path += rev[i]
	}

	return originKey{
		class: class,
		ident: steps[len(steps)-1].name,
		path:  path,
	}, true
}

// originResolver assigns origin classes to guards.
type originResolver struct {
	cfg *config
	res map[guardID]resolution
}

func newOriginResolver(cfg *config) *originResolver {
	return &originResolver{cfg: cfg, res: make(map[guardID]resolution)}
}

// resolveGuard records the resolution for one guard's lock reference.
func (r *originResolver) resolveGuard(id guardID, recv ssa.Value) {
	steps, pkgPath, ok := extractSteps(recv)
	if !ok {
		log.Debugf("origin: unsupported reference chain for %s", recv.Name())
		r.res[id] = resolution{}
		return
	}
	key, ok := runOriginAutomaton(steps)
	if !ok {
		log.Debugf("origin: chain did not normalize for %s", recv.Name())
		r.res[id] = resolution{}
		return
	}
	r.res[id] = resolution{key: key, resolved: true, pkgPath: pkgPath}
}

// sameOrigin reports whether two guards are judged to guard the same lock.
// When either side failed to normalize the configured ambiguity policy
// decides the answer.
func (r *originResolver) sameOrigin(a, b guardID) bool {
	ra, rb := r.res[a], r.res[b]
	if !ra.resolved || !rb.resolved {
		return r.cfg.onAmbiguousOrigin == originsShared
	}
	return ra.key == rb.key
}

// keyOf exposes a guard's normalized origin for detectors that compare
// locks against values outside the guard table.
func (r *originResolver) keyOf(id guardID) (originKey, bool) {
	res, ok := r.res[id]
	if !ok || !res.resolved {
		return originKey{}, false
	}
	return res.key, true
}

// displayName renders a guard's resolved origin for diagnostics, like
// "Tracker.mu". Unresolved guards render as "".
func (r *originResolver) displayName(id guardID) string {
	res, ok := r.res[id]
	if !ok || !res.resolved {
		return ""
	}
	return res.key.display()
}

// display renders the key as root.field..., dropping package qualifiers
// and the deref and index markers the path carries for identity.
func (k originKey) display() string {
	root := k.ident
	switch k.class {
	case rootParam, rootGlobal, rootCall:
		root = strings.TrimPrefix(root, "*")
		if i := strings.LastIndex(root, "/"); i >= 0 {
			root = root[i+1:]
		}
		if i := strings.LastIndex(root, "."); i >= 0 {
			root = root[i+1:]
		}
		if k.class == rootCall {
			root += "()"
		}
	case rootLocal:
		if i := strings.Index(root, "#"); i >= 0 {
			root = root[i+1:]
		}
		if i := strings.Index(root, "@"); i >= 0 {
			root = root[:i]
		}
		if root == "" || root == "free" {
			root = "captured lock"
		}
	}
	parts := []string{root}
	for _, seg := range strings.Split(k.path, ".") {
		if seg == "" || seg == "*" || seg == "[]" {
			continue
		}
		parts = append(parts, seg)
	}
	return strings.Join(parts, ".")
}

// excluded reports whether a guard's root falls in a module the
// configuration removes from origin consideration.
func (r *originResolver) excluded(id guardID) bool {
	res, ok := r.res[id]
	if !ok || !res.resolved {
		return false
	}
	return r.cfg.excludesOrigin(res.pkgPath)
}

// extractSteps walks an SSA value backward and emits its symbolic chain
// plus the package path of the root. ok is false on constructs the walk
// does not model (divergent phis, dynamic calls, unrecognized values).
func extractSteps(v ssa.Value) (steps []originStep, pkgPath string, ok bool) {
	seen := make(map[ssa.Value]bool)

	for len(steps) <= maxOriginSteps {
		if seen[v] {
			return nil, "", false
		}
		seen[v] = true

		switch val := v.(type) {
		case *ssa.FieldAddr:
			steps = append(steps, originStep{kind: stepField, name: fieldAddrName(val)})
			v = val.X

		case *ssa.Field:
			steps = append(steps, originStep{kind: stepField, name: fieldName(val.X.Type(), val.Field)})
			v = val.X

		case *ssa.IndexAddr:
			steps = append(steps, originStep{kind: stepIndex})
			v = val.X

		case *ssa.UnOp:
			if val.Op != token.MUL {
				return nil, "", false
			}
			steps = append(steps, originStep{kind: stepDeref})
			v = val.X

		case *ssa.Phi:
			uniform := resolvePhiIfUniform(val, make(map[*ssa.Phi]bool))
			if uniform == nil {
				return nil, "", false
			}
			steps = append(steps, originStep{kind: stepCopy})
			v = uniform

		case *ssa.ChangeType:
			steps = append(steps, originStep{kind: stepCopy})
			v = val.X

		case *ssa.Convert:
			steps = append(steps, originStep{kind: stepCopy})
			v = val.X

		case *ssa.FreeVar:
			// Key by the captured variable's declaration position so
			// distinct closures over one variable unify.
			steps = append(steps,
				originStep{kind: stepCapture},
				originStep{kind: stepRootLocal, name: fmt.Sprintf("free@%d", val.Pos())})
			return steps, funcPkgPath(val.Parent()), true

		case *ssa.Alloc:
			name := fmt.Sprintf("%s@%d", val.Comment, val.Pos())
			if fn := val.Parent(); fn != nil {
				name = fn.String() + "#" + name
			}
			steps = append(steps, originStep{kind: stepRootLocal, name: name})
			return steps, funcPkgPath(val.Parent()), true

		case *ssa.Parameter:
			steps = append(steps, originStep{kind: stepRootParam, name: paramRootType(val)})
			return steps, paramRootPkg(val), true

		case *ssa.Global:
			steps = append(steps, originStep{kind: stepRootGlobal, name: val.Pkg.Pkg.Path() + "." + val.Name()})
			return steps, val.Pkg.Pkg.Path(), true

		case *ssa.Call:
			callee := val.Common().StaticCallee()
			if callee == nil {
				return nil, "", false
			}
			steps = append(steps, originStep{kind: stepRootCall, name: callee.String()})
			return steps, funcPkgPath(callee), true

		default:
			return nil, "", false
		}
	}

	return nil, "", false
}

// resolvePhiIfUniform returns the single value a phi merges, following
// nested phis, or nil when the phi genuinely diverges.
func resolvePhiIfUniform(phi *ssa.Phi, visiting map[*ssa.Phi]bool) ssa.Value {
	if visiting[phi] {
		return nil
	}
	visiting[phi] = true

	var uniform ssa.Value
	for _, edge := range phi.Edges {
		v := edge
		if nested, ok := v.(*ssa.Phi); ok {
			v = resolvePhiIfUniform(nested, visiting)
			if v == nil {
				return nil
			}
		}
		if uniform == nil {
			uniform = v
		} else if uniform != v {
			return nil
		}
	}
	return uniform
}

// fieldAddrName resolves the field name a FieldAddr projects.
func fieldAddrName(fa *ssa.FieldAddr) string {
	ptr, ok := fa.X.Type().Underlying().(*types.Pointer)
	if !ok {
		return fmt.Sprintf("f%d", fa.Field)
	}
	return fieldName(ptr.Elem(), fa.Field)
}

// fieldName resolves field i of a struct type, falling back to the index.
func fieldName(t types.Type, i int) string {
	st, ok := t.Underlying().(*types.Struct)
	if !ok || i >= st.NumFields() {
		return fmt.Sprintf("f%d", i)
	}
	return st.Field(i).Name()
}

// paramRootType normalizes a parameter root to its pointed-to type string,
// so the same field path on the same struct type unifies across functions.
func paramRootType(p *ssa.Parameter) string {
	t := p.Type()
	if ptr, ok := t.Underlying().(*types.Pointer); ok {
		t = ptr.Elem()
	}
	return types.TypeString(t, nil)
}

// paramRootPkg locates the package owning a parameter root's named type,
// falling back to the function's own package.
func paramRootPkg(p *ssa.Parameter) string {
	t := p.Type()
	if ptr, ok := t.Underlying().(*types.Pointer); ok {
		t = ptr.Elem()
	}
	if named, ok := t.(*types.Named); ok && named.Obj().Pkg() != nil {
		return named.Obj().Pkg().Path()
	}
	return funcPkgPath(p.Parent())
}

// funcPkgPath returns fn's package path, or "" for wrappers and nil.
func funcPkgPath(fn *ssa.Function) string {
	if fn == nil {
		return ""
	}
	pkg := fn.Package()
	if pkg == nil || pkg.Pkg == nil {
		return ""
	}
	return pkg.Pkg.Path()
}
