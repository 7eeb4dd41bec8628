package lifecycle

import (
	"context"
	"time"

	"github.com/argon-hosting/daemon/internal/argonerr"
	"github.com/argon-hosting/daemon/internal/record"
)

// PowerAction is one of the four actions a live session may invoke.
type PowerAction string

const (
	PowerStart   PowerAction = "start"
	PowerStop    PowerAction = "stop"
	PowerRestart PowerAction = "restart"
	PowerKill    PowerAction = "kill"
)

// validFrom lists the states each action is legal from; anything else is
// InvalidTransition.
var validFrom = map[PowerAction][]record.State{
	PowerStart:   {record.StateStopped, record.StateInstalled},
	PowerStop:    {record.StateRunning},
	PowerRestart: {record.StateRunning},
	PowerKill:    {record.StateRunning, record.StateStopping},
}

func allows(action PowerAction, state record.State) bool {
	for _, s := range validFrom[action] {
		if s == state {
			return true
		}
	}
	return false
}

// Power applies action to serverID. Every power action clears the
// server's log ring: the client is about to see a fresh
// session of output, not cross-restart history.
func (c *Controller) Power(ctx context.Context, serverID string, action PowerAction) error {
	lock := c.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := c.store.Get(ctx, serverID)
	if err != nil {
		return err
	}
	if !allows(action, rec.State) {
		return argonerr.Newf(argonerr.KindInvalidTransition, "cannot %s server in state %s", action, rec.State)
	}

	noContainer := rec.ContainerID == nil || *rec.ContainerID == ""
	if noContainer && action != PowerStart {
		return argonerr.Newf(argonerr.KindInvalidTransition, "server %s has no container", serverID)
	}

	c.logs.Get(serverID).Clear()

	var containerID string
	if !noContainer {
		containerID = *rec.ContainerID
	}

	switch action {
	case PowerStart:
		// Installed has no runtime container yet — a reinstalled server
		// only gets one on its next start.
		if noContainer {
			if err := c.startRuntimeContainer(ctx, serverID); err != nil {
				return err
			}
			return nil
		}
		if err := c.docker.StartContainer(ctx, *rec.ContainerID); err != nil {
			return argonerr.New(argonerr.KindContainerOpFailed, err)
		}
		rec.State = record.StateRunning

	case PowerStop:
		rec.State = record.StateStopping
		_ = c.store.Update(ctx, rec)
		timeout := stopTimeout
		if err := c.docker.StopContainer(ctx, containerID, &timeout); err != nil {
			return argonerr.New(argonerr.KindContainerOpFailed, err)
		}
		rec.State = record.StateStopped

	case PowerRestart:
		rec.State = record.StateStopping
		_ = c.store.Update(ctx, rec)
		timeout := stopTimeout
		if err := c.docker.StopContainer(ctx, containerID, &timeout); err != nil {
			return argonerr.New(argonerr.KindContainerOpFailed, err)
		}
		if err := c.docker.StartContainer(ctx, containerID); err != nil {
			rec.State = record.StateStopped
			_ = c.store.Update(ctx, rec)
			return argonerr.New(argonerr.KindContainerOpFailed, err)
		}
		rec.State = record.StateRunning

	case PowerKill:
		if err := c.docker.KillContainer(ctx, containerID); err != nil {
			return argonerr.New(argonerr.KindContainerOpFailed, err)
		}
		rec.State = record.StateStopped

	default:
		return argonerr.Newf(argonerr.KindInvalidTransition, "unknown power action %q", action)
	}

	rec.UpdatedAt = time.Now()
	return c.store.Update(ctx, rec)
}
