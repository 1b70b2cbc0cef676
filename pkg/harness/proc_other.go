//go:build !unix

package harness

import "os/exec"

// configureProcessGroup keeps the exec default of killing the child itself.
func configureProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) error {
	return nil
}
