//go:build !gcp

package blob

import (
	"context"
	"fmt"
)

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	return nil, fmt.Errorf("blob: gcs backend requires building with the gcp tag")
}
