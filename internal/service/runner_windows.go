//go:build windows

package service

import (
	"os"
	"os/exec"
	"syscall"
)

const createNoWindow = 0x08000000

// configure hides the console window renderer would open otherwise.
func configure(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: createNoWindow,
	}
}

// interrupt kills the process, os.Interrupt can't be delivered on Windows.
func interrupt(p *os.Process) error {
	return p.Kill()
}
