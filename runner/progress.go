package runner

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/crucible-ci/crucible/types"
)

// Progress prints per-test outcomes as they arrive from the pool. Quiet
// passes collapse into a single dot; failing, flaky or verbose results
// print a labeled block with the full captured output, including every
// prior failed attempt when the test eventually passed. Safe for
// concurrent use by pool workers.
type Progress struct {
	out     io.Writer
	verbose bool
	mu      sync.Mutex
}

func NewProgress(out io.Writer, verbose bool) *Progress {
	if out == nil {
		out = os.Stdout
	}
	return &Progress{out: out, verbose: verbose}
}

// Report prints one result.
func (p *Progress) Report(result *types.ExecutionResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if result.Success && len(result.PreviousAttempts) == 0 && !p.verbose {
		fmt.Fprint(p.out, ".")
		return
	}

	status := "failed"
	if result.Success {
		if len(result.PreviousAttempts) > 0 {
			status = "is flaky"
		} else {
			status = "passed"
		}
	}
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "--------------------------------")
	fmt.Fprintln(p.out, "-", result.Name, status)
	fmt.Fprintln(p.out, "--------------------------------")
	fmt.Fprintln(p.out, result.Output)
	if result.Success {
		for i, attempt := range result.PreviousAttempts {
			fmt.Fprintln(p.out)
			fmt.Fprintf(p.out, "- Previous attempt %d\n", i)
			fmt.Fprintln(p.out, attempt.Output)
		}
	}
}

// Println writes a line through the progress writer, keeping interleaved
// dot output intact.
func (p *Progress) Println(a ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, a...)
}

// Printf writes formatted text through the progress writer.
func (p *Progress) Printf(format string, a ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, a...)
}
