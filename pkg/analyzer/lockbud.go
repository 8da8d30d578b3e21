package analyzer

import (
	"fmt"
	"os"
	"reflect"

	log "github.com/sirupsen/logrus"
	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/buildssa"
	"golang.org/x/tools/go/ssa"
)

var (
	flagDetectors       string
	flagModuleList      string
	flagModuleListMode  string
	flagAmbiguousOrigin string
	flagVisitCap        int
	flagChainDepth      int
	flagJSON            bool
	flagDebug           bool
)

func init() {
	Analyzer.Flags.StringVar(&flagDetectors, "detectors",
		detectorDoubleLock+","+detectorConflictOrder+","+detectorCondvarMisuse,
		"comma-separated list of detectors to run")
	Analyzer.Flags.StringVar(&flagModuleList, "module-list", "",
		"comma-separated package path prefixes the list mode applies to")
	Analyzer.Flags.StringVar(&flagModuleListMode, "module-list-mode", "allow",
		"how -module-list applies: allow analyzes only listed packages, deny skips them")
	Analyzer.Flags.StringVar(&flagAmbiguousOrigin, "on-ambiguous-origin", "distinct",
		"how lock references that fail origin resolution compare: distinct or shared")
	Analyzer.Flags.IntVar(&flagVisitCap, "visit-cap", defaultVisitCap,
		"worklist visits per function before the dataflow truncates")
	Analyzer.Flags.IntVar(&flagChainDepth, "chain-depth", defaultChainDepth,
		"call-chain depth for tracking locks across functions")
	Analyzer.Flags.BoolVar(&flagJSON, "json", false,
		"dump the full report as JSON to stderr")
	Analyzer.Flags.BoolVar(&flagDebug, "debug", false,
		"enable debug logging")
}

var Analyzer = &analysis.Analyzer{
	Name:       "lockbud",
	Doc:        "detects possible deadlocks: double locks and conflicting lock orders",
	Run:        run,
	Requires:   []*analysis.Analyzer{buildssa.Analyzer},
	ResultType: reflect.TypeOf((*Report)(nil)),
}

// passContext holds state for a single analyzer pass.
type passContext struct {
	pass     *analysis.Pass
	cfg      *config
	ssaPkg   *ssa.Package
	srcFuncs []*ssa.Function

	graph    *callGraph
	funcs    []*funcGuards
	stats    *collectStats
	resolver *originResolver
	engine   *reachabilityEngine

	// Annotation directives parsed from comments.
	annotations *annotations

	report *Report
}

// guard resolves a guard identifier to its record.
func (ctx *passContext) guard(id guardID) *lockGuard {
	return ctx.funcs[id.fn].guards[id.seq]
}

// buildConfig snapshots the flag values into one immutable config. Values
// are validated here rather than at registration so a bad setting fails
// the pass with a clear error instead of panicking the driver.
func buildConfig() (*config, error) {
	detectors, err := parseDetectors(flagDetectors)
	if err != nil {
		return nil, err
	}
	list := parseModuleList(flagModuleList)
	mode, err := parseListMode(flagModuleListMode, len(list) > 0)
	if err != nil {
		return nil, err
	}
	policy, err := parseAmbiguityPolicy(flagAmbiguousOrigin)
	if err != nil {
		return nil, err
	}
	if flagVisitCap < 1 {
		return nil, fmt.Errorf("visit-cap must be at least 1, got %d", flagVisitCap)
	}
	if flagChainDepth < 0 {
		return nil, fmt.Errorf("chain-depth must not be negative, got %d", flagChainDepth)
	}
	return &config{
		detectors:         detectors,
		visitCap:          flagVisitCap,
		chainDepth:        flagChainDepth,
		moduleList:        list,
		moduleMode:        mode,
		onAmbiguousOrigin: policy,
		jsonDump:          flagJSON,
	}, nil
}

func run(pass *analysis.Pass) (any, error) {
	cfg, err := buildConfig()
	if err != nil {
		return nil, err
	}
	if flagDebug {
		log.SetLevel(log.DebugLevel)
	}

	ctx := &passContext{
		pass:   pass,
		cfg:    cfg,
		report: &Report{Bugs: []Bug{}},
	}

	ssaResult, ok := pass.ResultOf[buildssa.Analyzer].(*buildssa.SSA)
	if !ok || ssaResult.Pkg == nil {
		return nil, fmt.Errorf("no SSA form for %s", pass.Pkg.Path())
	}
	ctx.ssaPkg = ssaResult.Pkg
	ctx.srcFuncs = ssaResult.SrcFuncs

	if !cfg.admitsPackage(pass.Pkg.Path()) {
		log.Debugf("lockbud: skipping %s, outside the module list", pass.Pkg.Path())
		return ctx.report, nil
	}

	// Phase 0: Parse annotation directives from comments.
	ctx.parseAnnotations()

	// Phase 1: Build the in-unit call graph.
	ctx.graph = buildCallGraph(ctx.srcFuncs)

	// Phase 2: Collect lock guards and condvar sites per function.
	ctx.stats = &collectStats{}
	ctx.funcs = collectGuards(ctx.graph, ctx.stats)

	// Phase 3: Resolve every guard's lock reference to an origin class.
	ctx.resolver = newOriginResolver(cfg)
	for _, fg := range ctx.funcs {
		for _, g := range fg.guards {
			ctx.resolver.resolveGuard(g.id, g.recv)
		}
	}

	// Phase 4: Propagate held sets through blocks and call edges.
	ctx.engine = newReachabilityEngine(cfg, ctx.graph, ctx.funcs, ctx.resolver)
	ctx.engine.run()
	ctx.engine.markEscapingGuards()

	// Phase 5: Classify the relations and report.
	doubles, candidates := classifyRelations(ctx.engine.relations, ctx.funcs, ctx.resolver, ctx.graph, cfg.chainDepth)
	if cfg.detectors.doubleLock {
		for _, pair := range doubles {
			ctx.reportDoubleLockPair(pair)
		}
	}
	if cfg.detectors.conflictOrder {
		conflicts := buildConflictGraph(candidates, ctx.funcs, ctx.resolver)
		for _, nodes := range conflicts.cycles() {
			cycle := make([]candidatePair, 0, len(nodes))
			for _, n := range nodes {
				cycle = append(cycle, candidates[n])
			}
			ctx.reportConflictCycle(cycle)
		}
	}
	if cfg.detectors.condvarMisuse {
		ctx.checkCondvars()
	}

	log.Debugf("lockbud: %s: %d guards, %d relations, %d bugs (%d deferred acquires, %d unmatched releases skipped)",
		pass.Pkg.Path(), ctx.guardCount(), len(ctx.engine.relations), len(ctx.report.Bugs),
		ctx.stats.deferredAcquires, ctx.stats.unmatchedReleases)

	if cfg.jsonDump {
		dump, err := ctx.report.JSON()
		if err != nil {
			return nil, err
		}
		fmt.Fprintln(os.Stderr, dump)
	}

	return ctx.report, nil
}

func (ctx *passContext) guardCount() int {
	n := 0
	for _, fg := range ctx.funcs {
		n += len(fg.guards)
	}
	return n
}
