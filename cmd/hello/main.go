package main

// ============================================================================
// Entry point of the hello server. All logic lives in internal/cli.
//
//   go run ./cmd/hello serve
//   go run ./cmd/hello serve -c configs/default.yaml --workers 8
//   go run ./cmd/hello bench --long 5s
// ============================================================================

import (
	"github.com/ChuLiYu/hello-pool/internal/cli"
)

func main() {
	cli.Execute()
}
