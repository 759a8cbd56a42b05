package signaling

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"ifindlife/internal/auth"
	"ifindlife/internal/model"
	"ifindlife/internal/notify"
	"ifindlife/internal/realtime"
)

const defaultResubscribeDelay = time.Second

// PendingLister loads requests that were waiting before a party came online
type PendingLister interface {
	ListPending(ctx context.Context, receiverID string, now time.Time) ([]model.IncomingCallRequest, error)
}

// Manager keeps one bridge per online party
type Manager struct {
	source    realtime.Source[model.IncomingCallRequest]
	presenter Presenter
	notifier  notify.Notifier
	pending   PendingLister
	cfg       Config
	logger    *zap.Logger

	changes chan auth.IdentityChange

	mu          sync.Mutex
	bridges     map[string]*Bridge
	unsubscribe func()
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

func NewManager(source realtime.Source[model.IncomingCallRequest], presenter Presenter, notifier notify.Notifier, pending PendingLister, cfg Config, logger *zap.Logger) *Manager {
	if cfg.ResubscribeDelay <= 0 {
		cfg.ResubscribeDelay = defaultResubscribeDelay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		source:    source,
		presenter: presenter,
		notifier:  notifier,
		pending:   pending,
		cfg:       cfg,
		logger:    logger,
		changes:   make(chan auth.IdentityChange, 1024),
		bridges:   make(map[string]*Bridge),
	}
}

// Start listens to identity changes until ctx is done or Stop is called.
// Changes are applied in order on a single goroutine.
func (m *Manager) Start(ctx context.Context, identities *auth.Identities) {
	ctx, cancel := context.WithCancel(ctx)
	unsubscribe := identities.Subscribe(func(change auth.IdentityChange) {
		select {
		case m.changes <- change:
		case <-ctx.Done():
		}
	})

	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case change := <-m.changes:
				if change.Online {
					m.Attach(ctx, change.UserID)
				} else {
					m.Detach(change.UserID)
				}
			}
		}
	}()
}

// Attach creates the party's bridge and shows requests already waiting for it
func (m *Manager) Attach(ctx context.Context, partyID string) *Bridge {
	m.mu.Lock()
	if b, ok := m.bridges[partyID]; ok {
		m.mu.Unlock()
		return b
	}
	b := NewBridge(m.source, m.presenter, m.notifier, m.cfg, m.logger.With(zap.String("party", partyID)))
	b.onError = func(error) { m.scheduleReattach(ctx, partyID, b) }
	m.bridges[partyID] = b
	m.mu.Unlock()

	if err := b.SetParty(ctx, partyID); err != nil {
		m.scheduleReattach(ctx, partyID, b)
		return b
	}

	if m.pending == nil {
		return b
	}
	reqs, err := m.pending.ListPending(ctx, partyID, m.cfg.Now())
	if err != nil {
		m.logger.Warn("could not load pending incoming calls", zap.String("party", partyID), zap.Error(err))
		return b
	}
	for _, req := range reqs {
		b.Offer(req)
	}
	return b
}

// scheduleReattach replaces a failed bridge with a fresh one after a short pause
func (m *Manager) scheduleReattach(ctx context.Context, partyID string, failed *Bridge) {
	time.AfterFunc(m.cfg.ResubscribeDelay, func() {
		if ctx.Err() != nil {
			return
		}
		m.mu.Lock()
		if m.bridges[partyID] != failed {
			m.mu.Unlock()
			return
		}
		delete(m.bridges, partyID)
		m.mu.Unlock()

		failed.Close()
		m.logger.Info("recreating incoming call bridge", zap.String("party", partyID))
		m.Attach(ctx, partyID)
	})
}

func (m *Manager) Detach(partyID string) {
	m.mu.Lock()
	b, ok := m.bridges[partyID]
	delete(m.bridges, partyID)
	m.mu.Unlock()

	if ok {
		b.Close()
	}
}

func (m *Manager) Bridge(partyID string) (*Bridge, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bridges[partyID]
	return b, ok
}

// Dismiss closes requestID's dialog for partyID if it is the one shown
func (m *Manager) Dismiss(partyID, requestID string) bool {
	b, ok := m.Bridge(partyID)
	if !ok {
		return false
	}
	return b.Dismiss(requestID)
}

// Withdraw drops requestID from partyID's dialog or queue
func (m *Manager) Withdraw(partyID, requestID string) bool {
	b, ok := m.Bridge(partyID)
	if !ok {
		return false
	}
	return b.Withdraw(requestID)
}

// Stop ends the change loop and detaches every bridge
func (m *Manager) Stop() {
	m.mu.Lock()
	unsubscribe, cancel := m.unsubscribe, m.cancel
	bridges := m.bridges
	m.bridges = make(map[string]*Bridge)
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	for _, b := range bridges {
		b.Close()
	}
	m.wg.Wait()
}
