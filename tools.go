//go:build tools
// +build tools

package tools

// Package tools pins the ginkgo runner and the linter so `go run` picks up the
// versions in go.mod.
import (
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
	_ "github.com/onsi/ginkgo/ginkgo"
)
