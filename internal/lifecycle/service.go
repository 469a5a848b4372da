// Package lifecycle applies custody transitions to equipment records: it
// validates requests, enforces the one-active-record-per-code rule and keeps
// intake and exit timestamps write-once.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"equipment-custody-backend/internal/custody"
	"equipment-custody-backend/internal/metrics"
	"equipment-custody-backend/internal/model"
	"equipment-custody-backend/internal/parse"
	"equipment-custody-backend/internal/store"
)

// ExitNotifier is told about records that just left custody.
type ExitNotifier interface {
	NotifyExit(rec model.EquipmentRecord)
}

// Catalog holds the configured intake areas and specialists.
type Catalog struct {
	Areas       []string
	Specialists []string
}

// Service is the custody lifecycle engine.
type Service struct {
	store    store.Store
	catalog  Catalog
	notifier ExitNotifier
	log      *zap.Logger
	now      func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithNotifier registers the receiver of exit events.
func WithNotifier(n ExitNotifier) Option {
	return func(s *Service) { s.notifier = n }
}

// New creates a Service on top of st.
func New(st store.Store, catalog Catalog, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:   st,
		catalog: catalog,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates one record per code. All codes are inserted in one
// transaction: a code still in custody rejects the whole batch.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	codes, err := parse.SplitCodes(req.Codes)
	if err != nil {
		var tooLong *parse.CodeTooLongError
		if errors.As(err, &tooLong) {
			return nil, invalid("code %s exceeds %d characters", tooLong.Code, model.MaxCodeLength)
		}
		return nil, invalid("invalid codes: %v", err)
	}
	if len(codes) == 0 {
		return nil, invalid("at least one equipment code is required")
	}
	if err := s.validateMetadata(req.Reason, req.ReceivedBy, req.Specialist); err != nil {
		return nil, err
	}

	now := s.now()
	var (
		created  []model.EquipmentRecord
		warnings []string
	)
	err = s.store.InTx(ctx, func(tx store.Store) error {
		created, warnings = created[:0], nil
		for _, code := range codes {
			existing, err := tx.FindByCode(ctx, code)
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				if slices.ContainsFunc(existing, func(r model.EquipmentRecord) bool { return r.Active() }) {
					return codeInCustody(code)
				}
				warnings = append(warnings, fmt.Sprintf("code %s was registered before and has already exited", code))
			}

			rec := newRegisteredRecord(code, &req, now)
			if err := tx.Create(ctx, rec); err != nil {
				return err
			}
			created = append(created, *rec)
		}
		return nil
	})
	if err != nil {
		var (
			conflict *ConflictError
			dup      *store.DuplicateActiveCodeError
		)
		switch {
		case errors.As(err, &conflict):
		case errors.As(err, &dup):
			conflict = codeInCustody(dup.Code)
		default:
			return nil, s.persistence("register equipment", err)
		}
		metrics.Conflicts.Inc()
		s.log.Info("registration rejected", zap.String("code", conflict.Code))
		return nil, conflict
	}

	metrics.Registrations.Add(float64(len(created)))
	if req.MarkExit {
		metrics.Exits.Add(float64(len(created)))
	}
	s.log.Info("equipment registered", zap.Strings("codes", codes), zap.Int("warnings", len(warnings)))

	result := &RegisterResult{
		Records: s.deriveAll(created),
		Count:   len(created),
	}
	if len(warnings) > 0 {
		joined := strings.Join(warnings, ". ")
		result.Warnings = &joined
	}
	return result, nil
}

func newRegisteredRecord(code string, req *RegisterRequest, now time.Time) *model.EquipmentRecord {
	rec := &model.EquipmentRecord{
		Code:         code,
		BrandModel:   clean(req.BrandModel),
		Client:       clean(req.Client),
		Reason:       req.Reason,
		ReceivedBy:   strings.TrimSpace(req.ReceivedBy),
		Specialist:   clean(req.Specialist),
		HighPriority: req.HighPriority,
		ProcessState: model.ProcessPending,
		IntakeNotes:  clean(req.IntakeNotes),
		ExitNotes:    clean(req.ExitNotes),
	}
	if ps := strings.TrimSpace(req.ProcessState); ps != "" {
		rec.ProcessState = ps
	}
	if req.MarkIntake {
		rec.IntakeAt = &now
	}
	if req.MarkExit {
		rec.ExitAt = &now
		rec.DeliveredTo = clean(req.DeliveredTo)
		rec.ProcessState = model.ProcessDone
	}
	return rec
}

// Update overwrites every editable field of a record that has not exited.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*custody.Derived, error) {
	if err := s.validateMetadata(req.Reason, req.ReceivedBy, req.Specialist); err != nil {
		return nil, err
	}
	rec, err := s.loadEditable(ctx, id)
	if err != nil {
		return nil, err
	}

	fields := store.Fields{
		"brand_model":   clean(req.BrandModel),
		"client":        clean(req.Client),
		"reason":        req.Reason,
		"received_by":   strings.TrimSpace(req.ReceivedBy),
		"specialist":    clean(req.Specialist),
		"high_priority": req.HighPriority,
		"intake_notes":  clean(req.IntakeNotes),
		"exit_notes":    clean(req.ExitNotes),
	}
	if ps := strings.TrimSpace(req.ProcessState); ps != "" {
		fields["process_state"] = ps
	}

	now := s.now()
	if req.MarkIntake && req.ExistingIntakeAt == nil && rec.IntakeAt == nil {
		fields["intake_at"] = gorm.Expr("COALESCE(intake_at, ?)", now)
	}
	exiting := req.MarkExit && req.ExistingExitAt == nil
	if exiting {
		setExit(fields, clean(req.DeliveredTo), now)
	}

	return s.apply(ctx, rec, fields, exiting)
}

// Patch writes only the fields present in req.
func (s *Service) Patch(ctx context.Context, id string, req PatchRequest) (*custody.Derived, error) {
	if req.Reason != nil && !req.Reason.Valid() {
		return nil, invalidReason(*req.Reason)
	}
	if req.ReceivedBy != nil {
		if err := s.validateArea(*req.ReceivedBy); err != nil {
			return nil, err
		}
	}
	if req.Specialist != nil && clean(req.Specialist) == nil {
		return nil, invalid("specialist cannot be cleared")
	}
	if err := s.validateSpecialist(req.Specialist); err != nil {
		return nil, err
	}

	fields := store.Fields{}
	setIf := func(column string, v *string) {
		if v != nil {
			fields[column] = clean(v)
		}
	}
	setIf("brand_model", req.BrandModel)
	setIf("client", req.Client)
	setIf("specialist", req.Specialist)
	setIf("intake_notes", req.IntakeNotes)
	setIf("exit_notes", req.ExitNotes)
	if req.Reason != nil {
		fields["reason"] = *req.Reason
	}
	if req.ReceivedBy != nil {
		fields["received_by"] = strings.TrimSpace(*req.ReceivedBy)
	}
	if req.HighPriority != nil {
		fields["high_priority"] = *req.HighPriority
	}
	if req.ProcessState != nil {
		if ps := strings.TrimSpace(*req.ProcessState); ps != "" {
			fields["process_state"] = ps
		}
	}
	if len(fields) == 0 && !req.MarkIntake && !req.MarkExit {
		return nil, invalid("no fields to update")
	}

	rec, err := s.loadEditable(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if req.MarkIntake && rec.IntakeAt == nil {
		fields["intake_at"] = gorm.Expr("COALESCE(intake_at, ?)", now)
	}
	if req.MarkExit {
		setExit(fields, clean(req.DeliveredTo), now)
	}
	if len(fields) == 0 {
		return s.derive(*rec), nil
	}
	return s.apply(ctx, rec, fields, req.MarkExit)
}

// MarkIntake stamps the intake time of a record that has none.
func (s *Service) MarkIntake(ctx context.Context, id string) (*custody.Derived, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.IntakeAt != nil {
		return nil, &ConflictError{
			Code:    rec.Code,
			Message: fmt.Sprintf("record %s already has an intake timestamp", rec.Code),
		}
	}
	fields := store.Fields{"intake_at": gorm.Expr("COALESCE(intake_at, ?)", s.now())}
	if err := s.store.Update(ctx, rec.ID, fields); err != nil {
		return nil, s.storeErr("update record", rec.ID, err)
	}
	updated, err := s.load(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	return s.derive(*updated), nil
}

// MarkExit records the hand-off of a record still in custody.
func (s *Service) MarkExit(ctx context.Context, id string, req MarkExitRequest) (*custody.Derived, error) {
	if err := s.validateSpecialist(req.Specialist); err != nil {
		return nil, err
	}
	rec, err := s.loadEditable(ctx, id)
	if err != nil {
		return nil, err
	}

	fields := store.Fields{}
	setExit(fields, clean(req.DeliveredTo), s.now())
	if req.Specialist != nil {
		fields["specialist"] = clean(req.Specialist)
	}
	if req.ExitNotes != nil {
		fields["exit_notes"] = clean(req.ExitNotes)
	}
	return s.apply(ctx, rec, fields, true)
}

// BatchExit applies one exit to every live record in req.IDs with a single
// statement. Records that already exited keep their exit timestamp, their
// recipient and their process state.
func (s *Service) BatchExit(ctx context.Context, req BatchExitRequest) (*BatchExitResult, error) {
	ids := uniqueIDs(req.IDs)
	if len(ids) == 0 {
		return nil, invalid("at least one record id is required")
	}

	before, err := s.store.ListByIDs(ctx, ids)
	if err != nil {
		return nil, s.persistence("load batch", err)
	}

	fields := store.Fields{"exit_notes": clean(req.ExitNotes)}
	if req.MarkExit {
		fields["exit_at"] = gorm.Expr("COALESCE(exit_at, ?)", s.now())
		fields["delivered_to"] = gorm.Expr("CASE WHEN exit_at IS NULL THEN ? ELSE delivered_to END", clean(req.DeliveredTo))
		fields["process_state"] = gorm.Expr("CASE WHEN exit_at IS NULL THEN ? ELSE process_state END", model.ProcessDone)
	}

	n, err := s.store.UpdateMany(ctx, ids, fields)
	if err != nil {
		return nil, s.persistence("batch exit", err)
	}
	if n == 0 {
		return nil, &NotFoundError{}
	}

	after, err := s.store.ListByIDs(ctx, ids)
	if err != nil {
		return nil, s.persistence("reload batch", err)
	}

	wasOpen := make(map[string]bool, len(before))
	for _, r := range before {
		wasOpen[r.ID] = r.ExitAt == nil
	}
	exited := 0
	for _, r := range after {
		if wasOpen[r.ID] && r.ExitAt != nil {
			exited++
			s.notifyExit(r)
		}
	}
	metrics.Exits.Add(float64(exited))
	s.log.Info("batch exit applied", zap.Int("requested", len(ids)), zap.Int64("updated", n), zap.Int("exited", exited))

	return &BatchExitResult{Records: s.deriveAll(after), Count: int(n)}, nil
}

// SoftDelete hides a record from default reads.
func (s *Service) SoftDelete(ctx context.Context, id string) error {
	now := s.now()
	err := s.store.Update(ctx, id, store.Fields{"deleted": true, "deleted_at": now})
	if err != nil {
		return s.storeErr("delete record", id, err)
	}
	s.log.Info("record soft-deleted", zap.String("id", id))
	return nil
}

// Purge physically removes a record that was soft-deleted first.
func (s *Service) Purge(ctx context.Context, id string) error {
	rec, err := s.store.Get(ctx, id, true)
	if err != nil {
		return s.storeErr("load record", id, err)
	}
	if !rec.Deleted {
		return &ConflictError{
			Code:    rec.Code,
			Message: fmt.Sprintf("record %s must be deleted before it can be purged", rec.Code),
		}
	}
	if err := s.store.Purge(ctx, id); err != nil {
		return s.storeErr("purge record", id, err)
	}
	s.log.Info("record purged", zap.String("id", id), zap.String("code", rec.Code))
	return nil
}

// apply writes fields to a record still in custody, re-reads it and derives
// its display values. A record that exited after it was loaded is left
// untouched and reported as a conflict.
func (s *Service) apply(ctx context.Context, rec *model.EquipmentRecord, fields store.Fields, exiting bool) (*custody.Derived, error) {
	if err := s.store.UpdateOpen(ctx, rec.ID, fields); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if _, lerr := s.loadEditable(ctx, rec.ID); lerr != nil {
				return nil, lerr
			}
		}
		return nil, s.storeErr("update record", rec.ID, err)
	}
	updated, err := s.load(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	if exiting && updated.ExitAt != nil {
		metrics.Exits.Inc()
		s.notifyExit(*updated)
	}
	return s.derive(*updated), nil
}

// setExit stamps the exit unless the row already has one.
func setExit(fields store.Fields, deliveredTo *string, now time.Time) {
	fields["exit_at"] = gorm.Expr("COALESCE(exit_at, ?)", now)
	fields["delivered_to"] = deliveredTo
	fields["process_state"] = model.ProcessDone
}

func (s *Service) load(ctx context.Context, id string) (*model.EquipmentRecord, error) {
	rec, err := s.store.Get(ctx, id, false)
	if err != nil {
		return nil, s.storeErr("load record", id, err)
	}
	return rec, nil
}

// loadEditable loads a record that has not exited yet.
func (s *Service) loadEditable(ctx context.Context, id string) (*model.EquipmentRecord, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.ExitAt != nil {
		return nil, &ConflictError{
			Code:    rec.Code,
			Message: fmt.Sprintf("record %s has already exited and can no longer be edited", rec.Code),
		}
	}
	return rec, nil
}

func (s *Service) notifyExit(rec model.EquipmentRecord) {
	if s.notifier != nil {
		s.notifier.NotifyExit(rec)
	}
}

func (s *Service) storeErr(op, id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{ID: id}
	}
	return s.persistence(op, err)
}

func (s *Service) persistence(op string, err error) error {
	s.log.Error("storage failure", zap.String("op", op), zap.Error(err))
	return &PersistenceError{Op: op, Err: err}
}

func (s *Service) derive(rec model.EquipmentRecord) *custody.Derived {
	d := custody.Derive(rec, s.now())
	return &d
}

func (s *Service) deriveAll(records []model.EquipmentRecord) []custody.Derived {
	now := s.now()
	out := make([]custody.Derived, 0, len(records))
	for _, r := range records {
		out = append(out, custody.Derive(r, now))
	}
	return out
}

func (s *Service) validateMetadata(reason model.Reason, receivedBy string, specialist *string) error {
	if !reason.Valid() {
		return invalidReason(reason)
	}
	if err := s.validateArea(receivedBy); err != nil {
		return err
	}
	if clean(specialist) == nil {
		return invalid("specialist is required")
	}
	return s.validateSpecialist(specialist)
}

func invalidReason(reason model.Reason) error {
	if reason == "" {
		return invalid("reason is required")
	}
	return invalid("unknown reason %q", string(reason))
}

func (s *Service) validateArea(area string) error {
	area = strings.TrimSpace(area)
	if area == "" {
		return invalid("receivedBy is required")
	}
	if !slices.Contains(s.catalog.Areas, area) {
		return invalid("unknown area %q", area)
	}
	return nil
}

func (s *Service) validateSpecialist(specialist *string) error {
	name := clean(specialist)
	if name == nil || slices.Contains(s.catalog.Specialists, *name) {
		return nil
	}
	return invalid("unknown specialist %q", *name)
}

// clean trims an optional string and maps blank to nil.
func clean(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
