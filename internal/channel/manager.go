package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"bulletin/internal/models"
	"bulletin/internal/observability"
)

// Snapshot is the manager state at one instant.
type Snapshot struct {
	Channel      Channel
	Epoch        uint64
	Identity     models.Identity
	Initializing bool
	// Err is the build failure of the current epoch, if any.
	Err error
}

// Ready reports whether a channel can serve calls.
func (s Snapshot) Ready() bool {
	return s.Channel != nil
}

// Manager rebuilds the channel whenever the identity changes. Every change
// increments the epoch; results tagged with an older epoch are stale.
type Manager struct {
	build  Builder
	logger *observability.ChannelLogger

	// switching serializes SetIdentity so listeners see epochs in order.
	switching sync.Mutex

	mu           sync.Mutex
	epoch        uint64
	cred         Credential
	current      Channel
	initializing bool
	buildErr     error
	ready        chan struct{}
	listeners    []func(Snapshot)
}

// NewManager returns a manager without identity and without channel.
// Call SetIdentity to build the first channel.
func NewManager(build Builder) *Manager {
	ready := make(chan struct{})
	close(ready)
	return &Manager{
		build:  build,
		logger: observability.NewChannelLogger(),
		ready:  ready,
	}
}

// OnIdentityChange registers fn to run synchronously inside SetIdentity,
// after the epoch moved and before the new channel is built. Listeners run
// one identity change at a time, in epoch order, and must not call SetIdentity.
func (m *Manager) OnIdentityChange(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// SetIdentity switches to cred and starts building its channel in the
// background. Setting the current credential again is a no-op. The new epoch
// is returned.
func (m *Manager) SetIdentity(ctx context.Context, cred Credential) uint64 {
	m.switching.Lock()
	defer m.switching.Unlock()

	m.mu.Lock()
	if m.epoch > 0 && cred == m.cred {
		epoch := m.epoch
		m.mu.Unlock()
		return epoch
	}

	if m.initializing {
		// Wake waiters of the superseded build.
		close(m.ready)
	}
	m.epoch++
	m.cred = cred
	m.current = nil
	m.buildErr = nil
	m.initializing = true
	m.ready = make(chan struct{})

	epoch := m.epoch
	ready := m.ready
	snap := m.snapshotLocked()
	listeners := append([]func(Snapshot){}, m.listeners...)
	m.mu.Unlock()

	observability.ChannelEpoch.Set(float64(epoch))
	for _, fn := range listeners {
		fn(snap)
	}

	buildCtx := observability.EnsureCorrelationID(context.WithoutCancel(ctx))
	m.logger.LogRebuild(buildCtx, epoch, cred.Identity.String())
	go m.rebuild(buildCtx, epoch, cred, ready)
	return epoch
}

func (m *Manager) rebuild(ctx context.Context, epoch uint64, cred Credential, ready chan struct{}) {
	ch, err := m.build(ctx, cred)
	if err == nil && ch == nil {
		err = errors.New("builder returned no channel")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch {
		m.logger.LogSuperseded(ctx, epoch, m.epoch)
		observability.ChannelRebuilds.WithLabelValues("superseded").Inc()
		return
	}

	m.initializing = false
	if err != nil {
		m.buildErr = err
		m.logger.LogFailed(ctx, epoch, err)
		observability.ChannelRebuilds.WithLabelValues("failed").Inc()
	} else {
		m.current = ch
		m.logger.LogReady(ctx, epoch)
		observability.ChannelRebuilds.WithLabelValues("ready").Inc()
	}
	close(ready)
}

// Current returns the usable channel, or false while initializing or after a failed build.
func (m *Manager) Current() (Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.current != nil
}

func (m *Manager) IsInitializing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initializing
}

func (m *Manager) Epoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

func (m *Manager) Identity() models.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred.Identity
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{
		Channel:      m.current,
		Epoch:        m.epoch,
		Identity:     m.cred.Identity,
		Initializing: m.initializing,
		Err:          m.buildErr,
	}
}

// Await blocks while the channel is being built. It fails with
// ChannelUnavailable when no channel exists once building is over.
func (m *Manager) Await(ctx context.Context) (Snapshot, error) {
	for {
		m.mu.Lock()
		snap := m.snapshotLocked()
		ready := m.ready
		m.mu.Unlock()

		if !snap.Initializing {
			if snap.Channel == nil {
				return snap, unavailable(snap)
			}
			return snap, nil
		}

		select {
		case <-ready:
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}

func unavailable(snap Snapshot) error {
	if snap.Epoch == 0 {
		return models.NewChannelUnavailableError("no identity has been set")
	}
	appErr := models.NewChannelUnavailableError(fmt.Sprintf("no channel for %s", snap.Identity))
	appErr.Err = snap.Err
	return appErr
}
