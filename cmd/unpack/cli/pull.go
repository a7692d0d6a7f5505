package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oci/unpack"
)

var pullCmd = &cobra.Command{
	Use:   "pull <reference> <directory>",
	Short: "Pull an image and materialize it onto a directory",
	Long: `Pull downloads every layer of an OCI image and applies them, in order,
onto the destination directory. The result is written as:

  <directory>/rootfs/        the merged filesystem
  <directory>/manifest.json  the resolved manifest
  <directory>/config.json    the image configuration

Examples:
  unpack pull alpine:3.19 ./alpine
  unpack pull ghcr.io/org/image@sha256:abcd... ./image --no-sandbox`,
	Args: cobra.ExactArgs(2),
	RunE: runPull,
}

func init() {
	rootCmd.AddCommand(pullCmd)
}

func runPull(_ *cobra.Command, args []string) error {
	ref := args[0]
	destDir := args[1]

	client, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	var opts []unpack.UnpackOption
	if viper.GetBool("no-sandbox") {
		opts = append(opts, unpack.WithoutSandbox())
	}

	callback, finish := newPullProgress()
	if callback != nil {
		opts = append(opts, unpack.WithProgress(callback))
	}
	defer finish()

	if err := client.Unpack(ctx, ref, destDir, opts...); err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	return nil
}
