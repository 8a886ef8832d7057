// SPDX-License-Identifier: BSD-3-Clause

// Command fsmrtd runs the FSM runtime as a standalone process: the
// registry, the live debug channel, and the embedded IPC bus, supervised
// by service/operator.
package main

import (
	"fmt"
	"os"

	"github.com/fsmrt/fsmrt/cmd/fsmrtd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
