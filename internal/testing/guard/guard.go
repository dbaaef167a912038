// Package guard is blank-imported by tests of the binaries so main returns
// before dialing Postgres or Redis.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("GRIDBILL_TEST_MODE") == "" {
			_ = os.Setenv("GRIDBILL_TEST_MODE", "1")
		}
	})
}
