// Command lockbud reports possible deadlocks in Go packages: double
// locks, conflicting lock orders, and locks held across condition
// variable waits.
package main

import (
	log "github.com/sirupsen/logrus"
	"golang.org/x/tools/go/analysis/singlechecker"

	"github.com/BurtonQin/lockbud/pkg/analyzer"
)

func main() {
	// Keep analysis progress out of the diagnostic stream; -debug on the
	// analyzer lowers the threshold again.
	log.SetLevel(log.WarnLevel)
	singlechecker.Main(analyzer.Analyzer)
}
