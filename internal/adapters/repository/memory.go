package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/fieldguard/internal/domain/model"
)

// MemoryStore is a process-local Store for development and tests.
type MemoryStore struct {
	mu sync.RWMutex

	samples    map[string][]model.StoredSample // employee -> insertion order
	identities map[string]struct{}
	alerts     []model.AlertRecord

	geofences   map[string]model.Geofence
	assignments map[string][]string // employee -> geofence ids

	attendance map[string]model.Attendance // employee|day

	closed bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		samples:     make(map[string][]model.StoredSample),
		identities:  make(map[string]struct{}),
		geofences:   make(map[string]model.Geofence),
		assignments: make(map[string][]string),
		attendance:  make(map[string]model.Attendance),
	}
}

func (m *MemoryStore) LatestSample(_ context.Context, employeeID string) (*model.StoredSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	list := m.samples[employeeID]
	if len(list) == 0 {
		return nil, nil
	}
	last := list[len(list)-1]
	return &last, nil
}

func (m *MemoryStore) SaveScored(_ context.Context, sample model.StoredSample, alerts []model.AlertRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	key := model.IdentityKey(sample.EmployeeID, &sample.LocationSample)
	if _, dup := m.identities[key]; dup {
		return ErrDuplicate
	}
	if sample.ID == "" {
		sample.ID = uuid.NewString()
	}
	m.identities[key] = struct{}{}
	m.samples[sample.EmployeeID] = append(m.samples[sample.EmployeeID], sample)
	for _, a := range alerts {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		a.SampleID = sample.ID
		m.alerts = append(m.alerts, a)
	}
	return nil
}

func (m *MemoryStore) SamplesBetween(_ context.Context, employeeID string, from, to time.Time) ([]model.StoredSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	out := make([]model.StoredSample, 0)
	for _, s := range m.samples[employeeID] {
		if !s.RecordedAt.Before(from) && s.RecordedAt.Before(to) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

func (m *MemoryStore) RecentAlerts(_ context.Context, q AlertQuery) ([]model.AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	limit := alertLimit(q.Limit)
	out := make([]model.AlertRecord, 0, limit)
	for i := len(m.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		a := m.alerts[i]
		if q.EmployeeID != "" && a.EmployeeID != q.EmployeeID {
			continue
		}
		if !atLeast(a.Severity, q.MinSeverity) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *MemoryStore) AssignedGeofences(_ context.Context, employeeID string) ([]model.Geofence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	ids := m.assignments[employeeID]
	out := make([]model.Geofence, 0, len(ids))
	for _, id := range ids {
		if g, ok := m.geofences[id]; ok && g.Active {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *MemoryStore) PutGeofence(_ context.Context, g model.Geofence) error {
	if err := g.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	m.geofences[g.ID] = g
	return nil
}

func (m *MemoryStore) Assign(_ context.Context, employeeID, geofenceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.geofences[geofenceID]; !ok {
		return ErrNotFound
	}
	for _, id := range m.assignments[employeeID] {
		if id == geofenceID {
			return nil
		}
	}
	m.assignments[employeeID] = append(m.assignments[employeeID], geofenceID)
	return nil
}

func (m *MemoryStore) AttendanceOn(_ context.Context, employeeID, day string) (*model.Attendance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	rec, ok := m.attendance[employeeID+"|"+day]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) SaveAttendance(_ context.Context, rec model.Attendance) (model.Attendance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.Attendance{}, ErrClosed
	}
	key := rec.EmployeeID + "|" + rec.Date
	if prev, ok := m.attendance[key]; ok {
		rec.ID = prev.ID
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m.attendance[key] = rec
	return rec, nil
}

// Close marks the store unusable.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
