// Command tunnelsupervisor runs the reverse-tunnel supervisor: one process
// per configured tunnel, restarted on failure, with SMTP/HTTP alerting and
// a loopback introspection endpoint.
//
// Invoked normally, it reads the top-level config (--config_ini) and
// starts supervising. Invoked with TUNNELSUPERVISOR_WORKER_DESCRIPTOR set
// in its environment, it instead runs as a single isolated Worker process
// for the descriptor that variable names — see internal/procworker for how
// the Supervisor spawns these.
package main

import (
	"fmt"
	"os"

	"github.com/websoft9/tunnelsupervisor/internal/procworker"
)

func main() {
	if descriptorPath, isWorker := procworker.DescriptorFromEnv(); isWorker {
		os.Exit(runWorker(descriptorPath))
	}

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
