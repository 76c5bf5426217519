// Package supervisor is the Container Supervisor: it composes image
// tags, container names, port bindings, volume mounts and environment
// variables from the rest of the Configuration Management Core, and drives
// the external container runtime through those argument vectors, for the
// fixed apache/mail/dns container set (one per registered ServiceConfig)
// on a single local/loopback host, via the shared internal/transport.Client
// exec path.
package supervisor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lakowske/netcore/internal/shell"
)

// runConfig holds everything buildRunArgs needs to render one `run`
// invocation.
type runConfig struct {
	Name    string
	Image   string
	Env     map[string]string
	Ports   []string // host:container/protocol
	Volumes []string // host:container[:ro]
	Labels  map[string]string
	Restart string
	Detach  bool
	Remove  bool
}

// buildRunArgs renders the `run` argument vector in a fixed flag ordering
// (detach, rm, name, env, ports, volumes, labels, restart, image), quoting
// every value via shell.Quote so an operator-supplied setting can never
// break out of its argument.
func (c runConfig) buildRunArgs() []string {
	args := []string{"run"}

	if c.Detach {
		args = append(args, "-d")
	}
	if c.Remove {
		args = append(args, "--rm")
	}
	if c.Name != "" {
		args = append(args, "--name", shell.Quote(c.Name))
	}

	for _, key := range sortedKeys(c.Env) {
		args = append(args, "-e", shell.Quote(fmt.Sprintf("%s=%s", key, c.Env[key])))
	}

	for _, port := range c.Ports {
		args = append(args, "-p", shell.Quote(port))
	}

	for _, vol := range c.Volumes {
		args = append(args, "-v", shell.Quote(vol))
	}

	for _, key := range sortedKeys(c.Labels) {
		args = append(args, "-l", shell.Quote(fmt.Sprintf("%s=%s", key, c.Labels[key])))
	}

	if c.Restart != "" {
		args = append(args, "--restart", shell.Quote(c.Restart))
	}

	args = append(args, shell.Quote(c.Image))
	return args
}

// buildConfig holds everything buildArgs needs.
type buildConfig struct {
	Context    string
	Tag        string
	NoCache    bool
	Pull       bool
}

func (c buildConfig) buildArgs() []string {
	args := []string{"build"}
	if c.Tag != "" {
		args = append(args, "-t", shell.Quote(c.Tag))
	}
	if c.NoCache {
		args = append(args, "--no-cache")
	}
	if c.Pull {
		args = append(args, "--pull")
	}
	ctx := c.Context
	if ctx == "" {
		ctx = "."
	}
	args = append(args, shell.Quote(ctx))
	return args
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func renderCommand(bin string, args []string) string {
	return bin + " " + strings.Join(args, " ")
}
