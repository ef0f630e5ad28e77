package service

import (
	"log"
	"os"
)

// newLogger builds a component-prefixed logger, matching the broker's own
// prefix convention but as a fresh instance per communicator rather than a
// shared package-global, so the library stays safe to embed by multiple
// concurrent consumers.
func newLogger(prefix string) *log.Logger {
	return log.New(os.Stderr, "[telling:service:"+prefix+"] ", log.LstdFlags)
}
