// Package main is the single-binary entrypoint for PressMesh.
package main

import "github.com/pressmesh/pressmesh/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
