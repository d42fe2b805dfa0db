package coordinator

import (
	"fmt"
	"os"

	"github.com/notecove/notecove/internal/fsadapter"
	"github.com/notecove/notecove/internal/sdstore"
)

// CheckSDVersion reports whether adapter's SD is compatible with this
// build, per sdstore.CheckVersion — call this before RegisterSD.
func (c *Coordinator) CheckSDVersion(adapter fsadapter.Adapter) (sdstore.CompatibilityResult, error) {
	return sdstore.CheckVersion(adapter)
}

// MigrateSD runs every outstanding migration step against adapter's SD,
// acquiring .migration-lock for the duration. Callers should re-run
// CheckSDVersion after a successful migrate before RegisterSD.
func (c *Coordinator) MigrateSD(adapter fsadapter.Adapter) error {
	if err := sdstore.Migrate(adapter, c.now(), os.Getpid()); err != nil {
		return fmt.Errorf("coordinator: MigrateSD: %w", err)
	}
	return nil
}

// sdLockInfo reports who currently holds .migration-lock, if anyone.
func (c *Coordinator) sdLockInfo(adapter fsadapter.Adapter) (sdstore.LockInfo, error) {
	return sdstore.ReadLockInfo(adapter)
}
