package types

import "fmt"

// Artifact kinds reported by cargo for a compiled target.
const (
	KindBin       = "bin"
	KindLib       = "lib"
	KindTest      = "test"
	KindProcMacro = "proc-macro"
)

// Executable describes one compiled artifact produced by a cargo invocation.
// Instances are created by the build orchestrator while parsing the message
// stream and are never modified afterwards.
type Executable struct {
	BinaryPath string // absolute path to the produced binary
	CrateName  string // owning crate
	TargetName string // cargo target the binary was built from
	Kind       string // bin, lib, test or proc-macro
	IsTest     bool   // built with the test profile
	IsFresh    bool   // reused from cache rather than recompiled
}

// Name returns the qualified name used for filtering and reporting.
func (e Executable) Name() string {
	return fmt.Sprintf("%s:%s", e.CrateName, e.TargetName)
}
