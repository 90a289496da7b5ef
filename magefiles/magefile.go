//go:build mage

// Package main contains Mage build targets for secfin developer tooling.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binDir   = "bin"
	binName  = "secfin"
	cmdPkg   = "./cmd"
	coverOut = "coverage.out"
)

// Default target when mage is run without arguments.
var Default = Build

// Build compiles the CLI binary into bin/.
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", binDir, err)
	}
	out := filepath.Join(binDir, binName)
	if err := sh.RunV("go", "build", "-o", out, cmdPkg); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	fmt.Printf("Built %s\n", out)
	return nil
}

// Test runs the unit tests with the race detector.
func Test() error {
	return sh.RunV("go", "test", "-race", "-count=1", "./...")
}

// Integration runs the tests behind the integration build tag.
func Integration() error {
	return sh.RunV("go", "test", "-count=1", "-tags", "integration", "./...")
}

// Coverage writes coverage.out and prints the per-function summary.
func Coverage() error {
	if err := sh.RunV("go", "test", "-covermode=atomic", "-coverprofile="+coverOut, "./..."); err != nil {
		return err
	}
	return sh.RunV("go", "tool", "cover", "-func="+coverOut)
}

// Lint runs go vet and golangci-lint.
func Lint() error {
	if err := sh.RunV("go", "vet", "./..."); err != nil {
		return err
	}
	return sh.RunV("golangci-lint", "run", "./...")
}

// Check runs lint and tests.
func Check() {
	mg.SerialDeps(Lint, Test)
}

// Clean removes build and coverage output.
func Clean() error {
	if err := sh.Rm(binDir); err != nil {
		return err
	}
	return sh.Rm(coverOut)
}
