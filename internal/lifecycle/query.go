package lifecycle

import (
	"context"
	"sort"

	"equipment-custody-backend/internal/custody"
	"equipment-custody-backend/internal/metrics"
	"equipment-custody-backend/internal/model"
	"equipment-custody-backend/internal/store"
)

// List returns derived records in dashboard order, optionally narrowed to one
// of the dashboard cards.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]custody.Derived, error) {
	switch opts.Filter {
	case FilterNone, FilterPreparation, FilterUrgent, FilterDelayed:
	default:
		return nil, invalid("unknown filter %q", string(opts.Filter))
	}

	records, err := s.store.List(ctx, store.ListOptions{
		IncludeDeleted: opts.IncludeDeleted,
		ActiveOnly:     opts.Filter != FilterNone,
	})
	if err != nil {
		return nil, s.persistence("list records", err)
	}

	now := s.now()
	out := make([]custody.Derived, 0, len(records))
	for _, r := range records {
		d := custody.Derive(r, now)
		if !matches(opts.Filter, &d) {
			continue
		}
		out = append(out, d)
	}

	if opts.SortByDays {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].CustodyDays > out[j].CustodyDays
		})
	}
	return out, nil
}

func matches(f Filter, d *custody.Derived) bool {
	switch f {
	case FilterPreparation:
		return d.Active()
	case FilterUrgent:
		return d.Active() && d.Status == custody.StatusUrgent
	case FilterDelayed:
		return d.Active() && d.Status == custody.StatusDelayed
	default:
		return true
	}
}

// Get returns one derived record.
func (s *Service) Get(ctx context.Context, id string, includeDeleted bool) (*custody.Derived, error) {
	rec, err := s.store.Get(ctx, id, includeDeleted)
	if err != nil {
		return nil, s.storeErr("load record", id, err)
	}
	return s.derive(*rec), nil
}

// Stats aggregates the records still in custody and publishes the snapshot
// on the custody gauges.
func (s *Service) Stats(ctx context.Context) (custody.Stats, error) {
	records, err := s.store.List(ctx, store.ListOptions{ActiveOnly: true})
	if err != nil {
		return custody.Stats{}, s.persistence("compute stats", err)
	}
	stats := custody.ComputeStats(records, s.now())
	metrics.ObserveStats(stats)
	return stats, nil
}

// Catalog lists the values accepted on the record form.
func (s *Service) Catalog() CatalogView {
	return CatalogView{
		Reasons:       append([]model.Reason(nil), model.Reasons...),
		Areas:         append([]string(nil), s.catalog.Areas...),
		Specialists:   append([]string(nil), s.catalog.Specialists...),
		ProcessStates: append([]string(nil), model.ProcessStates...),
	}
}
