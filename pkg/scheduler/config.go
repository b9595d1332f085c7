package scheduler

import "runtime"

// Config is the scheduler configuration, assembled once at startup from the
// profile file, environment overrides and CLI flags. Immutable afterwards.
type Config struct {
	// MaxCPUs is the global CPU slot budget shared by running instances.
	MaxCPUs int `mapstructure:"maxCpus" env:"NEREUS_MAX_CPUS"`

	// MaxMemoryMB is the global memory budget. Zero means unlimited.
	MaxMemoryMB int `mapstructure:"maxMemoryMB" env:"NEREUS_MAX_MEMORY_MB"`

	// MaxTimeMinutes is the per-instance wall time ceiling a task hint may
	// declare. Zero means unlimited.
	MaxTimeMinutes int `mapstructure:"maxTimeMinutes" env:"NEREUS_MAX_TIME_MINUTES"`

	// WorkDir is the artifact store root.
	WorkDir string `mapstructure:"workDir" env:"NEREUS_WORK_DIR"`

	// RunDir holds per-run reports and traces.
	RunDir string `mapstructure:"runDir" env:"NEREUS_RUN_DIR"`

	// Resume reuses committed namespaces whose fingerprint matches instead
	// of re-invoking the command.
	Resume bool `mapstructure:"resume" env:"NEREUS_RESUME"`
}

// DefaultConfig returns the configuration used when no profile is given.
func DefaultConfig() Config {
	return Config{
		MaxCPUs: runtime.NumCPU(),
		WorkDir: "work",
		RunDir:  "runs",
	}
}
