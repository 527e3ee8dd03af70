package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/norm/timeline-daemon/internal/timeline"
)

// Memory is an in-memory Store.
type Memory struct {
	mu   sync.Mutex
	obs  []timeline.Observation
	days map[string][]timeline.ActivityCard
}

func NewMemory() *Memory {
	return &Memory{days: make(map[string][]timeline.ActivityCard)}
}

func (m *Memory) InsertObservations(_ context.Context, obs []timeline.Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.obs = append(m.obs, obs...)
	sort.Slice(m.obs, func(i, j int) bool { return m.obs[i].StartTs < m.obs[j].StartTs })
	return nil
}

func (m *Memory) ObservationsInRange(_ context.Context, startTs, endTs int64) ([]timeline.Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []timeline.Observation
	for _, o := range m.obs {
		if o.EndTs > startTs && o.StartTs < endTs {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *Memory) CardsInRange(_ context.Context, day string, r timeline.TimeRange) ([]timeline.ActivityCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []timeline.ActivityCard
	for _, c := range m.days[day] {
		cr, err := timeline.CardRange(c)
		if err != nil {
			return nil, fmt.Errorf("store: stored card: %w", err)
		}
		if cr.End > r.Start && cr.Start < r.End {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) ReplaceCardsInRange(_ context.Context, day string, r timeline.TimeRange, cards []timeline.ActivityCard) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var kept []timeline.ActivityCard
	for _, c := range m.days[day] {
		cr, err := timeline.CardRange(c)
		if err != nil {
			return fmt.Errorf("store: stored card: %w", err)
		}
		if cr.End > r.Start && cr.Start < r.End {
			continue
		}
		kept = append(kept, c)
	}
	kept = append(kept, cards...)
	sort.SliceStable(kept, func(i, j int) bool {
		ri, erri := timeline.CardRange(kept[i])
		rj, errj := timeline.CardRange(kept[j])
		if erri != nil || errj != nil {
			return false
		}
		return ri.Start < rj.Start
	})
	m.days[day] = kept
	return nil
}
