//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

// Package main provides build targets for jetstream using Mage.
//
// Usage:
//
//	mage build             Compile jetstream to bin/
//	mage install           Install jetstream to GOPATH/bin
//	mage clean             Remove build artifacts
//	mage lint              Run golangci-lint
//	mage vet               Run go vet
//	mage test:all          Run every test
//	mage test:unit         Run package tests only
//	mage test:integration  Build, then run tests/integration
//	mage test:redis        Run the bus tests against JETSTREAM_TEST_REDIS
//	mage stats             Print Go line counts
package main

import (
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binGo      = "go"
	binaryName = "jetstream"
	binaryDir  = "bin"
	cmdDir     = "./cmd/jetstream"
	versionVar = "github.com/mesh-intelligence/jetstream/internal/cli.Version"
)

// ldflags stamps the version from $VERSION when it is set.
func ldflags() string {
	if v := os.Getenv("VERSION"); v != "" {
		return "-X " + versionVar + "=" + v
	}
	return ""
}

// Build compiles the jetstream binary to bin/.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	return sh.RunV(binGo, "build", "-v", "-ldflags", ldflags(), "-o", filepath.Join(binaryDir, binaryName), cmdDir)
}

// Clean removes build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	return sh.RunV(binGo, "clean")
}

// Install builds and copies the binary to GOPATH/bin.
func Install() error {
	mg.Deps(Build)
	gopath, err := sh.Output(binGo, "env", "GOPATH")
	if err != nil {
		return err
	}
	src := filepath.Join(binaryDir, binaryName)
	dst := filepath.Join(gopath, "bin", binaryName)
	return sh.Copy(dst, src)
}
