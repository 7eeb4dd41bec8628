package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/argon-hosting/daemon/internal/cargo"
	"github.com/argon-hosting/daemon/internal/record"
	"github.com/argon-hosting/daemon/internal/volume"
)

// ShipCargo fetches every entry into the server's volume and appends its
// metadata to the persisted record. hidden, noDelete, and customProperties are
// forwarded as-is; only readonly is enforced, by the fetcher.
func (c *Controller) ShipCargo(ctx context.Context, serverID string, entries []record.CargoFile) error {
	lock := c.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := c.store.Get(ctx, serverID)
	if err != nil {
		return err
	}

	volDir := volume.Dir(c.volDir, serverID)
	for _, entry := range entries {
		if _, err := c.fetcher.Fetch(ctx, volDir, cargo.Entry{
			URL: entry.URL, TargetPath: entry.TargetPath, Readonly: entry.Readonly,
		}); err != nil {
			return fmt.Errorf("ship cargo %s: %w", entry.TargetPath, err)
		}
		rec.Cargo = append(rec.Cargo, entry)
	}

	rec.UpdatedAt = time.Now()
	return c.store.Update(ctx, rec)
}
