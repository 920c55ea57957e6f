package container

import (
	"path/filepath"
	"strings"
)

// PortMapping publishes a container port on the host.
type PortMapping struct {
	HostPort      int    `mapstructure:"host_port" yaml:"host_port"`
	ContainerPort int    `mapstructure:"container_port" yaml:"container_port"`
	Protocol      string `mapstructure:"protocol" yaml:"protocol"` // tcp or udp
}

// NetworkConfig attaches a container to a named network.
type NetworkConfig struct {
	Name  string        `mapstructure:"name" yaml:"name"`
	Ports []PortMapping `mapstructure:"ports" yaml:"ports"`
	DNS   []string      `mapstructure:"dns" yaml:"dns"`
}

// Mount binds a host path into the container.
type Mount struct {
	HostPath      string
	ContainerPath string
	Mode          string // ro or rw; empty uses the backend default
}

// Config describes one container to create. It is immutable once passed to
// RuntimeBackend.Create.
type Config struct {
	Image       string
	Command     []string
	WorkingDir  string
	Env         []string // K=V pairs
	MemoryBytes int64    // 0 means unlimited
	CPULimit    float64  // fraction of one CPU in (0.0, 1.0]; 0 means unlimited
	Mounts      []Mount
	Network     *NetworkConfig
}

// sourcePlaceholder is replaced by the staged source file name in runner
// compile and run commands.
const sourcePlaceholder = "{source}"

// keepAliveCommand keeps the container's main process alive so that compile
// and run commands can be exec'd into it.
var keepAliveCommand = []string{"tail", "-f", "/dev/null"}

// Runner is a per-language build recipe supplied by external configuration:
// which image to use, how to compile (optional) and run a submission, and
// the default resource limits.
type Runner struct {
	Image      string   `mapstructure:"image" yaml:"image"`
	CompileCmd string   `mapstructure:"compile_cmd" yaml:"compile_cmd,omitempty"`
	RunCmd     string   `mapstructure:"run_cmd" yaml:"run_cmd"`
	Workdir    string   `mapstructure:"workdir" yaml:"workdir"`
	MemoryMB   int      `mapstructure:"memory_mb" yaml:"memory_mb"`
	CPULimit   float64  `mapstructure:"cpu_limit" yaml:"cpu_limit"`
	Env        []string `mapstructure:"env" yaml:"env,omitempty"`
}

// ContainerConfig maps the runner onto a concrete container: the workspace
// directory is bind-mounted over the runner's workdir and the container is
// kept alive for exec'd compile/run commands.
func (r Runner) ContainerConfig(workspace string) Config {
	cfg := Config{
		Image:      r.Image,
		Command:    keepAliveCommand,
		WorkingDir: r.Workdir,
		Env:        r.Env,
		CPULimit:   r.CPULimit,
		Mounts: []Mount{
			{HostPath: workspace, ContainerPath: r.Workdir, Mode: "rw"},
		},
	}
	if r.MemoryMB > 0 {
		cfg.MemoryBytes = int64(r.MemoryMB) * 1024 * 1024
	}
	return cfg
}

// CompileCommand returns the compile command with the source placeholder
// substituted, or "" when the language needs no compilation.
func (r Runner) CompileCommand(sourceFile string) string {
	if r.CompileCmd == "" {
		return ""
	}
	return strings.ReplaceAll(r.CompileCmd, sourcePlaceholder, filepath.Base(sourceFile))
}

// RunCommand returns the run command with the source placeholder substituted
// and any extra arguments appended.
func (r Runner) RunCommand(sourceFile string, args []string) string {
	cmd := strings.ReplaceAll(r.RunCmd, sourcePlaceholder, filepath.Base(sourceFile))
	if len(args) > 0 {
		cmd = cmd + " " + strings.Join(args, " ")
	}
	return cmd
}
