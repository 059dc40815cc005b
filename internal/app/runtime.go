package app

import (
	"os"
	"strconv"
	"sync"
)

const testModeEnv = "LEDGER_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	on, _ := strconv.ParseBool(os.Getenv(testModeEnv))
	return on
})

// InTestMode reports whether LEDGER_TEST_MODE asks binaries to skip connecting to backing
// services. The variable is read once per process.
func InTestMode() bool {
	return testMode()
}
