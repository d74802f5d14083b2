//go:build !gcp

package artifacts

import (
	"context"
	"errors"
)

func openGCS(context.Context, GCSOptions) (Store, error) {
	return nil, errors.New("artifacts: gcs backend not compiled in (build with -tags gcp)")
}
