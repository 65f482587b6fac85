// Package guard switches the process into test mode when imported, so that
// test binaries never start servers or dial Postgres and Redis.
package guard

import "os"

const envKey = "COOPLEDGER_TEST_MODE"

func init() {
	if os.Getenv(envKey) == "" {
		_ = os.Setenv(envKey, "1")
	}
}

// Enabled reports whether test mode is set.
func Enabled() bool {
	return os.Getenv(envKey) == "1"
}
