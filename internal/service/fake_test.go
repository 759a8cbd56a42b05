package service

import (
	"context"
	"slices"
	"sync"
	"time"

	"ifindlife/internal/db"
	"ifindlife/internal/event"
	"ifindlife/internal/ledger"
	"ifindlife/internal/model"
	"ifindlife/internal/repo"
)

type fakeSessions struct {
	mu           sync.Mutex
	rows         map[string]model.CallSession
	existsActive bool
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{rows: map[string]model.CallSession{}}
}

func (f *fakeSessions) Create(_ context.Context, s *model.CallSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[s.ID] = *s
	return nil
}

func (f *fakeSessions) FindByID(_ context.Context, id string) (*model.CallSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &s, nil
}

func (f *fakeSessions) ExistsActive(context.Context, string, string, string) (bool, error) {
	return f.existsActive, nil
}

func (f *fakeSessions) MarkActive(_ context.Context, id string, startedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok || s.Status != model.CallSessionPending {
		return repo.ErrStateConflict
	}
	s.Status = model.CallSessionActive
	s.StartTime = &startedAt
	f.rows[id] = s
	return nil
}

func (f *fakeSessions) Complete(_ context.Context, s *model.CallSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.rows[s.ID]
	if !ok || cur.Status == model.CallSessionCompleted {
		return repo.ErrStateConflict
	}
	cur.Status = model.CallSessionCompleted
	cur.EndTime = s.EndTime
	cur.DurationSeconds = s.DurationSeconds
	cur.CostAccrued = s.CostAccrued
	cur.EndedBy = s.EndedBy
	f.rows[s.ID] = cur
	return nil
}

func (f *fakeSessions) ListByParticipant(_ context.Context, id string, page int64) (*db.PaginatedResult[model.CallSession], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.CallSession
	for _, s := range f.rows {
		if s.IsParticipant(id) {
			out = append(out, s)
		}
	}
	return &db.PaginatedResult[model.CallSession]{Data: out, Total: int64(len(out)), Page: page, PageSize: 15, TotalPages: 1}, nil
}

func (f *fakeSessions) get(id string) model.CallSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id]
}

type fakeIncoming struct {
	mu   sync.Mutex
	rows map[string]model.IncomingCallRequest
}

func newFakeIncoming() *fakeIncoming {
	return &fakeIncoming{rows: map[string]model.IncomingCallRequest{}}
}

func (f *fakeIncoming) Create(_ context.Context, r *model.IncomingCallRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[r.ID] = *r
	return nil
}

func (f *fakeIncoming) FindByID(_ context.Context, id string) (*model.IncomingCallRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &r, nil
}

func (f *fakeIncoming) Resolve(_ context.Context, id string, status model.IncomingCallStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok || r.Status != model.IncomingCallPending {
		return repo.ErrStateConflict
	}
	r.Status = status
	f.rows[id] = r
	return nil
}

func (f *fakeIncoming) ListPending(_ context.Context, receiverID string, now time.Time) ([]model.IncomingCallRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.IncomingCallRequest
	for _, r := range f.rows {
		if r.ReceiverID == receiverID && r.Actionable(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeIncoming) PendingForCall(_ context.Context, callSessionID string) ([]model.IncomingCallRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.IncomingCallRequest
	for _, r := range f.rows {
		if r.CallSessionID == callSessionID && r.Status == model.IncomingCallPending {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeIncoming) ExpireBefore(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, r := range f.rows {
		if r.Status == model.IncomingCallPending && r.Expired(now) {
			r.Status = model.IncomingCallExpired
			f.rows[id] = r
			n++
		}
	}
	return n, nil
}

func (f *fakeIncoming) only() model.IncomingCallRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		return r
	}
	return model.IncomingCallRequest{}
}

type fakeMessages struct {
	mu     sync.Mutex
	rows   []model.PersistedMessage
	onSave func(model.PersistedMessage)
}

func (f *fakeMessages) InsertMessage(_ context.Context, msg *model.PersistedMessage) (string, error) {
	f.mu.Lock()
	f.rows = append(f.rows, *msg)
	onSave := f.onSave
	f.mu.Unlock()
	if onSave != nil {
		onSave(*msg)
	}
	return msg.ID, nil
}

func (f *fakeMessages) Conversation(_ context.Context, a, b string, page int64) (*db.PaginatedResult[model.PersistedMessage], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.PersistedMessage
	for _, m := range f.rows {
		if (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a) {
			out = append(out, m)
		}
	}
	return &db.PaginatedResult[model.PersistedMessage]{Data: out, Total: int64(len(out)), Page: page, PageSize: 15, TotalPages: 1}, nil
}

func (f *fakeMessages) MarkRead(_ context.Context, receiverID, senderID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for i, m := range f.rows {
		if m.ReceiverID == receiverID && m.SenderID == senderID && !m.Read {
			f.rows[i].Read = true
			n++
		}
	}
	return n, nil
}

type sentEvent struct {
	user string
	ev   event.WsEvent
}

type recordingSender struct {
	mu     sync.Mutex
	online map[string]bool
	events []sentEvent
}

func (r *recordingSender) SendToUser(userID string, ev event.WsEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sentEvent{user: userID, ev: ev})
	return true
}

func (r *recordingSender) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online[userID]
}

// names returns the events sent to userID in order
func (r *recordingSender) names(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.user == userID {
			out = append(out, e.ev.Event)
		}
	}
	return out
}

func (r *recordingSender) has(userID, name string) bool {
	return slices.Contains(r.names(userID), name)
}

type recordingDismisser struct {
	mu        sync.Mutex
	dismissed []string
	withdrawn []string
}

func (d *recordingDismisser) Withdraw(partyID, requestID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.withdrawn = append(d.withdrawn, partyID+"/"+requestID)
	return true
}

func (d *recordingDismisser) Dismiss(partyID, requestID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dismissed = append(d.dismissed, partyID+"/"+requestID)
	return true
}

type recordingLedger struct {
	ledger.Noop
	mu      sync.Mutex
	charges []ledger.CallCharge
}

func (l *recordingLedger) Record(_ context.Context, charge ledger.CallCharge) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.charges = append(l.charges, charge)
	return nil
}
