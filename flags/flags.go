package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "CRUCIBLE"

func prefixEnvVar(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

var (
	Workspace = &cli.StringFlag{
		Name:    "workspace",
		Value:   ".",
		EnvVars: prefixEnvVar("WORKSPACE"),
		Usage:   "Path to the cargo workspace root",
	}
	Policy = &cli.StringFlag{
		Name:    "policy",
		Value:   "",
		EnvVars: prefixEnvVar("POLICY"),
		Usage:   "Path to the crate policy file (eg. 'policy.yaml'). Built-in defaults apply when omitted.",
	}
	Arch = &cli.StringFlag{
		Name:    "arch",
		Value:   "",
		Hidden:  true,
		EnvVars: prefixEnvVar("ARCH"),
		Usage:   "Deprecated alias for --build-target",
	}
	BuildTarget = &cli.StringFlag{
		Name:    "build-target",
		Aliases: []string{"p"},
		Value:   "",
		EnvVars: prefixEnvVar("BUILD_TARGET"),
		Usage:   "Architecture triple or shorthand (eg. 'aarch64', 'x86_64-unknown-linux-gnu') to build tests for. Defaults to the host.",
	}
	Target = &cli.StringFlag{
		Name:    "target",
		Value:   "",
		EnvVars: prefixEnvVar("TARGET"),
		Usage:   "Where to run tests: 'host', 'vm:ARCH', or 'none' to skip execution on that category",
	}
	Emulator = &cli.StringSliceFlag{
		Name:    "emulator",
		EnvVars: prefixEnvVar("EMULATOR"),
		Usage:   "Command wrapper used to run foreign-architecture binaries (eg. 'qemu-aarch64-static')",
	}
	Clean = &cli.BoolFlag{
		Name:    "clean",
		Value:   false,
		EnvVars: prefixEnvVar("CLEAN"),
		Usage:   "Run cargo clean before building",
	}
	BuildOnly = &cli.BoolFlag{
		Name:    "build-only",
		Value:   false,
		EnvVars: prefixEnvVar("BUILD_ONLY"),
		Usage:   "Build test binaries but do not run them",
	}
	UnitTests = &cli.BoolFlag{
		Name:    "unit-tests",
		Value:   false,
		EnvVars: prefixEnvVar("UNIT_TESTS"),
		Usage:   "Run only unit tests",
	}
	IntegrationTests = &cli.BoolFlag{
		Name:    "integration-tests",
		Value:   false,
		EnvVars: prefixEnvVar("INTEGRATION_TESTS"),
		Usage:   "Run only integration tests",
	}
	Cov = &cli.BoolFlag{
		Name:    "cov",
		Value:   false,
		EnvVars: prefixEnvVar("COV"),
		Usage:   "Build with coverage instrumentation and write lcov.info",
	}
	GenerateLcov = &cli.StringFlag{
		Name:    "generate-lcov",
		Value:   "",
		EnvVars: prefixEnvVar("GENERATE_LCOV"),
		Usage:   "Path of the lcov tracefile to generate (implies --cov)",
	}
	CovReport = &cli.BoolFlag{
		Name:    "cov-report",
		Value:   false,
		EnvVars: prefixEnvVar("COV_REPORT"),
		Usage:   "Print a per-file coverage summary after the run",
	}
	Direct = &cli.BoolFlag{
		Name:    "direct",
		Value:   false,
		EnvVars: prefixEnvVar("DIRECT"),
		Usage:   "Build with the 'direct' feature set and default features disabled",
	}
	Repeat = &cli.IntFlag{
		Name:    "repeat",
		Value:   1,
		EnvVars: prefixEnvVar("REPEAT"),
		Usage:   "Number of rounds to run the test set; the set is shuffled between rounds",
	}
	Retry = &cli.IntFlag{
		Name:    "retry",
		Value:   0,
		EnvVars: prefixEnvVar("RETRY"),
		Usage:   "Number of times a failing test is retried before it counts as failed",
	}
	Parallelism = &cli.IntFlag{
		Name:    "jobs",
		Aliases: []string{"j"},
		Value:   0,
		EnvVars: prefixEnvVar("JOBS"),
		Usage:   "Worker count for the unit-test pool (0 = default)",
	}
	Verbose = &cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Value:   false,
		EnvVars: prefixEnvVar("VERBOSE"),
		Usage:   "Stream build diagnostics and per-test output as it happens",
	}
	MainTarget = &cli.StringFlag{
		Name:    "main-target",
		Value:   "",
		EnvVars: prefixEnvVar("MAIN_TARGET"),
		Usage:   "Name of the workspace's main binary target, used for coverage attribution",
	}
	LogDir = &cli.StringFlag{
		Name:    "log-dir",
		Value:   "logs",
		EnvVars: prefixEnvVar("LOG_DIR"),
		Usage:   "Directory to store per-run test logs",
	}
	Monitoring = &cli.BoolFlag{
		Name:    "monitoring",
		Value:   false,
		EnvVars: prefixEnvVar("MONITORING"),
		Usage:   "Expose healthz and Prometheus metrics endpoints for the duration of the run",
	}
)

var requiredFlags = []cli.Flag{}

var optionalFlags = []cli.Flag{
	Workspace,
	Policy,
	Arch,
	BuildTarget,
	Target,
	Emulator,
	Clean,
	BuildOnly,
	UnitTests,
	IntegrationTests,
	Cov,
	GenerateLcov,
	CovReport,
	Direct,
	Repeat,
	Retry,
	Parallelism,
	Verbose,
	MainTarget,
	LogDir,
	Monitoring,
}

var Flags []cli.Flag

func init() {
	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
