//go:build !unix

package tools

import "os/exec"

func configureProcess(cmd *exec.Cmd) {}
