// Package guard switches binaries into test mode when imported by their tests,
// so main can be exercised without dialing Postgres or Redis.
package guard

import (
	"os"
	"sync"
)

const testModeEnv = "FAIRWAY_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(testModeEnv) == "" {
			_ = os.Setenv(testModeEnv, "1")
		}
	})
}
