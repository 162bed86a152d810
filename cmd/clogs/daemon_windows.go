//go:build windows

package main

import (
	"os/exec"
	"syscall"
)

// configureDaemonAttrs starts the child in a new process group without a console window.
func configureDaemonAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | 0x08000000, // CREATE_NO_WINDOW
	}
}
