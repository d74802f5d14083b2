//go:build gcp

package artifacts

import "context"

func openGCS(ctx context.Context, o GCSOptions) (Store, error) {
	return NewGCSStore(ctx, GCSConfig(o))
}
