package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"RampTracker/internal/models"
)

type lease struct {
	owner string
	until time.Time
}

// Memory is a Journal that lives for the life of the process. It is used
// when no database is configured.
type Memory struct {
	mu     sync.RWMutex
	orders map[string]models.Order
	leases map[string]lease
}

func NewMemory() *Memory {
	return &Memory{orders: map[string]models.Order{}, leases: map[string]lease{}}
}

func (m *Memory) SaveOrder(_ context.Context, order models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.orders[order.ID]; ok {
		order.Status = prev.Status
		if prev.CompletedAt != nil {
			order.CompletedAt = prev.CompletedAt
		}
	}
	order.UpdatedAt = time.Now().UTC()
	m.orders[order.ID] = order.Clone()
	return nil
}

func (m *Memory) UpdateStatus(_ context.Context, id string, status models.OrderStatus, completedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	order.Status = status
	if order.CompletedAt == nil && completedAt != nil {
		t := *completedAt
		order.CompletedAt = &t
	}
	order.UpdatedAt = time.Now().UTC()
	m.orders[id] = order
	return nil
}

func (m *Memory) GetOrder(_ context.Context, id string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := order.Clone()
	return &c, nil
}

func (m *Memory) ListActive(_ context.Context) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Order
	for _, order := range m.orders {
		if order.Error != "" || !slices.Contains(activeStatuses, string(order.Status)) {
			continue
		}
		out = append(out, order.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) Claim(_ context.Context, id, owner string, now time.Time, d time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[id]; !ok {
		return false, ErrNotFound
	}
	if l, ok := m.leases[id]; ok && l.owner != owner && now.Before(l.until) {
		return false, nil
	}
	m.leases[id] = lease{owner: owner, until: now.Add(d)}
	return true, nil
}

func (m *Memory) Release(_ context.Context, id, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leases[id]; ok && l.owner == owner {
		delete(m.leases, id)
	}
	return nil
}
