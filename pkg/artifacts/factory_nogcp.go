//go:build !gcp

package artifacts

import "context"

// gcsEnabled reports whether this binary was built with the gcp tag.
const gcsEnabled = false

func newGCSStore(context.Context, Config) (Store, error) {
	return nil, ErrGCSDisabled
}
