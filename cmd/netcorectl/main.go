// Command netcorectl is the operator entrypoint for the net-servers
// Configuration Management Core: it registers environments, manages
// users/domains/certificates, reconciles config into on-disk projections
// and drives the container runtime. See internal/cli for the command
// surface.
package main

import (
	"os"

	"github.com/lakowske/netcore/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
