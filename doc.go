// Package unpack pulls an OCI container image from a registry and
// materializes it onto the local filesystem as a plain rootfs directory.
//
// unpack resolves an image reference, selects a manifest for the host's
// platform out of an image index if necessary, downloads every layer
// blob (through an optional content-addressed disk cache), and applies
// the layers in order onto a destination directory, honoring whiteout
// and opaque-directory semantics between layers. On Linux, writes to the
// destination are confined by a Landlock filesystem sandbox installed
// before any layer data is written.
//
// # Basic usage
//
//	client, err := unpack.NewClient()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	err = client.Unpack(ctx, "alpine:3.19", "/var/lib/images/alpine")
//
// This leaves /var/lib/images/alpine/rootfs populated with the image's
// filesystem, alongside manifest.json and config.json for inspection.
//
// # Authentication
//
// By default, no credentials are configured; private registries require
// WithCredentials or WithCredentialStore.
//
// # Caching
//
// WithCacheDir enables a content-addressed blob cache so repeated pulls
// of the same layers skip the network entirely.
package unpack
