//go:build !windows

package service

import (
	"os"
	"os/exec"
)

func configure(_ *exec.Cmd) {}

func interrupt(p *os.Process) error {
	return p.Signal(os.Interrupt)
}
