//go:build sqlite_vec && cgo

package store

import (
	"context"
	"database/sql"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// driverName is mattn/go-sqlite3 with sqlite-vec loaded and the distance
// functions registered on every connection.
const driverName = "sqlite3_formpilot"

func init() {
	// Register the sqlite-vec extension as auto-loadable for every connection.
	vec.Auto()

	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			for name := range distanceKernels {
				name := name
				fn := func(a, b []byte) (float64, error) { return distanceBlobs(name, a, b) }
				if err := conn.RegisterFunc(name, fn, true); err != nil {
					return err
				}
			}
			return nil
		},
	})
}

// VecVersion reports the loaded sqlite-vec version.
func (s *LocalStore) VecVersion(ctx context.Context) string {
	var v string
	if err := s.db.QueryRowContext(ctx, "SELECT vec_version()").Scan(&v); err != nil {
		return ""
	}
	return v
}
