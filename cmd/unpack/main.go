// Command unpack pulls OCI container images from a registry and
// materializes them onto the local filesystem.
package main

import (
	"os"

	"github.com/oci/unpack/cmd/unpack/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
