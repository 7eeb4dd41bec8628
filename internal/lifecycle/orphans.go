package lifecycle

import (
	"context"
	"time"

	"github.com/argon-hosting/daemon/internal/record"
)

// RecoverOrphans reconciles Docker state against the record store once at
// startup: a record claiming a container that no longer exists is demoted
// to Errored, and any argon-managed container with no matching record is
// force-removed.
func (c *Controller) RecoverOrphans(ctx context.Context) error {
	recs, err := c.store.List(ctx)
	if err != nil {
		return err
	}

	known := make(map[string]bool, len(recs))
	for _, rec := range recs {
		known[rec.ID] = true
		if rec.ContainerID == nil || *rec.ContainerID == "" {
			continue
		}
		if _, err := c.docker.Inspect(ctx, *rec.ContainerID); err != nil {
			c.log.Warn("recovering orphaned record: container missing", "server_id", rec.ID, "container_id", *rec.ContainerID)
			rec.ContainerID = nil
			rec.State = record.StateErrored
			rec.UpdatedAt = time.Now()
			_ = c.store.Update(ctx, rec)
		}
	}

	containers, err := c.docker.ListContainers(ctx, map[string]string{"argon.role": "runtime"})
	if err != nil {
		return err
	}
	for _, ctr := range containers {
		serverID := ctr.Labels["argon.server.id"]
		if serverID != "" && known[serverID] {
			continue
		}
		c.log.Warn("removing orphaned runtime container", "container_id", ctr.ContainerID, "server_id", serverID)
		_ = c.docker.RemoveContainer(ctx, ctr.ContainerID, true, false)
	}

	// Installer containers are always ephemeral and self-remove on
	// completion; any survivor here crashed mid-run and is stale.
	installers, err := c.docker.ListContainers(ctx, map[string]string{"argon.role": "installer"})
	if err != nil {
		return err
	}
	for _, ctr := range installers {
		c.log.Warn("removing stale installer container", "container_id", ctr.ContainerID)
		_ = c.docker.RemoveContainer(ctx, ctr.ContainerID, true, false)
	}

	return nil
}

// SweepOrphans runs RecoverOrphans on a fixed interval until ctx is
// cancelled.
func (c *Controller) SweepOrphans(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.RecoverOrphans(ctx); err != nil {
				c.log.Warn("orphan sweep failed", "error", err)
			}
		}
	}
}
