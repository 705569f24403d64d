//go:build tools
// +build tools

package tools

import (
	// Test runners and mocks
	_ "github.com/vektra/mockery/v2"
	_ "gotest.tools/gotestsum"

	// Linters
	_ "github.com/fzipp/gocyclo/cmd/gocyclo"
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
	_ "golang.org/x/tools/cmd/goimports"
	_ "golang.org/x/vuln/cmd/govulncheck"
	_ "honnef.co/go/tools/cmd/staticcheck"

	// Release
	_ "github.com/goreleaser/goreleaser"
)
