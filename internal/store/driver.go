//go:build !(sqlite_vec && cgo)

package store

import (
	"context"
	"database/sql/driver"
	"fmt"

	sqlite "modernc.org/sqlite"
)

// driverName is the pure-Go modernc driver.
const driverName = "sqlite"

func init() {
	registerDistanceFunctions()
}

// registerDistanceFunctions installs the vector distance functions on the
// modernc driver. They are deterministic: the same blobs give the same
// distance.
func registerDistanceFunctions() {
	for name := range distanceKernels {
		name := name
		_ = sqlite.RegisterDeterministicScalarFunction(name, 2, func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			a, err := blobArg(args[0])
			if err != nil {
				return nil, err
			}
			b, err := blobArg(args[1])
			if err != nil {
				return nil, err
			}
			return distanceBlobs(name, a, b)
		})
	}
}

func blobArg(v driver.Value) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported vector type %T", v)
	}
}

// VecVersion reports the sqlite-vec version; empty on this build.
func (s *LocalStore) VecVersion(ctx context.Context) string { return "" }
