package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"equipment-custody-backend/internal/custody"
	"equipment-custody-backend/internal/db"
	"equipment-custody-backend/internal/model"
	"equipment-custody-backend/internal/store"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type recordingNotifier struct{ codes []string }

func (n *recordingNotifier) NotifyExit(rec model.EquipmentRecord) {
	n.codes = append(n.codes, rec.Code)
}

type fixture struct {
	svc      *Service
	store    store.Store
	db       *gorm.DB
	clock    *fakeClock
	notifier *recordingNotifier
}

var testCatalog = Catalog{
	Areas:       []string{"Inventory", "Repairs", "Logistics"},
	Specialists: []string{"Ivan Quiroz", "Bruno Quipe"},
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(gormDB))

	f := &fixture{
		store:    store.NewGormStore(gormDB),
		db:       gormDB,
		clock:    &fakeClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)},
		notifier: &recordingNotifier{},
	}
	f.svc = New(f.store, testCatalog, zap.NewNop(), WithClock(f.clock.Now), WithNotifier(f.notifier))
	return f
}

func ptr[T any](v T) *T { return &v }

func registerReq(codes string) RegisterRequest {
	return RegisterRequest{
		Codes:      codes,
		Reason:     model.ReasonMaintenance,
		ReceivedBy: "Repairs",
		Specialist: ptr("Ivan Quiroz"),
	}
}

func (f *fixture) register(t *testing.T, req RegisterRequest) []custody.Derived {
	t.Helper()
	res, err := f.svc.Register(context.Background(), req)
	require.NoError(t, err)
	return res.Records
}

func TestRegister_NormalizesAndCreates(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Register(context.Background(), RegisterRequest{
		Codes:      "abc-1\r\n  x'2 \n\nabc-1\n",
		Reason:     model.ReasonRental,
		ReceivedBy: " Inventory ",
		Specialist: ptr("Ivan Quiroz"),
		Client:     ptr("  "),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Count)
	assert.Nil(t, res.Warnings)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "ABC-1", res.Records[0].Code)
	assert.Equal(t, "X-2", res.Records[1].Code)
	for _, d := range res.Records {
		assert.Equal(t, model.ProcessPending, d.ProcessState)
		assert.Equal(t, "Inventory", d.ReceivedBy)
		assert.Nil(t, d.Client)
		assert.Nil(t, d.IntakeAt)
		assert.Equal(t, custody.StatusRegistered, d.Status)
		assert.Zero(t, d.CustodyDays)
	}
}

func TestRegister_ActiveDuplicateIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.register(t, registerReq("abc-1"))

	_, err := f.svc.Register(ctx, registerReq("ABC-1"))
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict), "expected conflict, got %v", err)
	assert.Equal(t, "ABC-1", conflict.Code)
	assert.Contains(t, conflict.Error(), "ABC-1")

	records, err := f.store.FindByCode(ctx, "ABC-1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRegister_BatchConflictRollsBackEarlierCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.register(t, registerReq("X1"))

	_, err := f.svc.Register(ctx, registerReq("X2\nX1\nX3"))
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "X1", conflict.Code)

	for _, code := range []string{"X2", "X3"} {
		records, err := f.store.FindByCode(ctx, code)
		require.NoError(t, err)
		assert.Empty(t, records, "code %s should not have been created", code)
	}
}

func TestRegister_ExitedCodeWarns(t *testing.T) {
	f := newFixture(t)

	req := registerReq("LAP-7")
	req.MarkExit = true
	f.register(t, req)

	res, err := f.svc.Register(context.Background(), registerReq("LAP-7\nLAP-8"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	require.NotNil(t, res.Warnings)
	assert.Contains(t, *res.Warnings, "LAP-7")
	assert.Contains(t, *res.Warnings, "already exited")
	assert.NotContains(t, *res.Warnings, "LAP-8")
}

func TestRegister_WarningsAreJoined(t *testing.T) {
	f := newFixture(t)

	req := registerReq("A1\nA2")
	req.MarkExit = true
	f.register(t, req)

	res, err := f.svc.Register(context.Background(), registerReq("A1\nA2"))
	require.NoError(t, err)
	require.NotNil(t, res.Warnings)
	assert.Equal(t, 1, strings.Count(*res.Warnings, ". "))
}

func TestRegister_MarkIntakeAndExit(t *testing.T) {
	f := newFixture(t)

	req := registerReq("K-1")
	req.MarkIntake = true
	req.MarkExit = true
	req.DeliveredTo = ptr("Client desk")
	req.ProcessState = model.ProcessInProgress
	recs := f.register(t, req)
	require.Len(t, recs, 1)

	d := recs[0]
	require.NotNil(t, d.IntakeAt)
	require.NotNil(t, d.ExitAt)
	assert.True(t, f.clock.Now().Equal(*d.IntakeAt))
	assert.True(t, f.clock.Now().Equal(*d.ExitAt))
	assert.Equal(t, model.ProcessDone, d.ProcessState)
	assert.Equal(t, "Client desk", *d.DeliveredTo)
	assert.Equal(t, custody.StatusReady, d.Status)
	assert.Zero(t, d.CustodyDays)
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)

	testCases := []struct {
		name   string
		mutate func(*RegisterRequest)
	}{
		{"blank codes", func(r *RegisterRequest) { r.Codes = " \n\n " }},
		{"code too long", func(r *RegisterRequest) { r.Codes = strings.Repeat("A", model.MaxCodeLength+1) }},
		{"missing reason", func(r *RegisterRequest) { r.Reason = "" }},
		{"unknown reason", func(r *RegisterRequest) { r.Reason = "Gift" }},
		{"missing area", func(r *RegisterRequest) { r.ReceivedBy = " " }},
		{"unknown area", func(r *RegisterRequest) { r.ReceivedBy = "Kitchen" }},
		{"missing specialist", func(r *RegisterRequest) { r.Specialist = nil }},
		{"blank specialist", func(r *RegisterRequest) { r.Specialist = ptr("  ") }},
		{"unknown specialist", func(r *RegisterRequest) { r.Specialist = ptr("Nobody") }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := registerReq("OK-1")
			tc.mutate(&req)
			_, err := f.svc.Register(context.Background(), req)
			var verr *ValidationError
			assert.True(t, errors.As(err, &verr), "expected validation error, got %v", err)
		})
	}

	records, err := f.store.FindByCode(context.Background(), "OK-1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestUpdate_ReplacesEditableFields(t *testing.T) {
	f := newFixture(t)
	req := registerReq("U-1")
	req.Client = ptr("ACME")
	req.BrandModel = ptr("ThinkPad")
	req.ProcessState = model.ProcessInProgress
	rec := f.register(t, req)[0]

	got, err := f.svc.Update(context.Background(), rec.ID, UpdateRequest{
		Reason:       model.ReasonExchange,
		ReceivedBy:   "Logistics",
		Specialist:   ptr("Ivan Quiroz"),
		HighPriority: true,
		IntakeNotes:  ptr("scratched lid"),
	})
	require.NoError(t, err)

	assert.Equal(t, model.ReasonExchange, got.Reason)
	assert.Equal(t, "Logistics", got.ReceivedBy)
	assert.True(t, got.HighPriority)
	assert.Nil(t, got.Client, "omitted optional fields are cleared")
	assert.Nil(t, got.BrandModel)
	assert.Equal(t, "scratched lid", *got.IntakeNotes)
	assert.Equal(t, model.ProcessInProgress, got.ProcessState, "empty processState keeps the stored one")
	assert.Nil(t, got.ExitAt)
	assert.Equal(t, custody.StatusUrgent, got.Status)
	assert.Empty(t, f.notifier.codes)
}

func TestUpdate_MarkIntakeHonoursEcho(t *testing.T) {
	f := newFixture(t)
	rec := f.register(t, registerReq("U-2"))[0]

	stale := f.clock.Now().Add(-time.Hour)
	got, err := f.svc.Update(context.Background(), rec.ID, UpdateRequest{
		Reason:           model.ReasonMaintenance,
		ReceivedBy:       "Repairs",
		Specialist:       ptr("Ivan Quiroz"),
		MarkIntake:       true,
		ExistingIntakeAt: &stale,
	})
	require.NoError(t, err)
	assert.Nil(t, got.IntakeAt)

	got, err = f.svc.Update(context.Background(), rec.ID, UpdateRequest{
		Reason:     model.ReasonMaintenance,
		ReceivedBy: "Repairs",
		Specialist: ptr("Ivan Quiroz"),
		MarkIntake: true,
	})
	require.NoError(t, err)
	require.NotNil(t, got.IntakeAt)
	assert.True(t, f.clock.Now().Equal(*got.IntakeAt))
	assert.Equal(t, custody.StatusInPreparation, got.Status)

	// A second mark does not move the intake.
	first := *got.IntakeAt
	f.clock.Advance(48 * time.Hour)
	got, err = f.svc.Update(context.Background(), rec.ID, UpdateRequest{
		Reason:     model.ReasonMaintenance,
		ReceivedBy: "Repairs",
		Specialist: ptr("Ivan Quiroz"),
		MarkIntake: true,
	})
	require.NoError(t, err)
	assert.True(t, first.Equal(*got.IntakeAt))
	assert.Equal(t, 2, got.CustodyDays)
}

func TestUpdate_MarkExit(t *testing.T) {
	f := newFixture(t)
	req := registerReq("U-3")
	req.MarkIntake = true
	rec := f.register(t, req)[0]

	f.clock.Advance(5 * 24 * time.Hour)
	got, err := f.svc.Update(context.Background(), rec.ID, UpdateRequest{
		Reason:       model.ReasonMaintenance,
		ReceivedBy:   "Repairs",
		Specialist:   ptr("Ivan Quiroz"),
		ProcessState: model.ProcessInProgress,
		MarkExit:     true,
		DeliveredTo:  ptr("Front desk"),
	})
	require.NoError(t, err)

	require.NotNil(t, got.ExitAt)
	assert.True(t, f.clock.Now().Equal(*got.ExitAt))
	assert.Equal(t, model.ProcessDone, got.ProcessState)
	assert.Equal(t, "Front desk", *got.DeliveredTo)
	assert.Equal(t, custody.StatusReady, got.Status)
	assert.Equal(t, 5, got.CustodyDays)
	assert.Equal(t, []string{"U-3"}, f.notifier.codes)
}

func TestUpdate_MarkExitHonoursEcho(t *testing.T) {
	f := newFixture(t)
	rec := f.register(t, registerReq("U-4"))[0]

	seen := f.clock.Now()
	got, err := f.svc.Update(context.Background(), rec.ID, UpdateRequest{
		Reason:         model.ReasonMaintenance,
		ReceivedBy:     "Repairs",
		Specialist:     ptr("Ivan Quiroz"),
		MarkExit:       true,
		ExistingExitAt: &seen,
	})
	require.NoError(t, err)
	assert.Nil(t, got.ExitAt)
	assert.Empty(t, f.notifier.codes)
}

func TestUpdate_RejectsExitedRecord(t *testing.T) {
	f := newFixture(t)
	req := registerReq("U-5")
	req.MarkExit = true
	rec := f.register(t, req)[0]

	_, err := f.svc.Update(context.Background(), rec.ID, UpdateRequest{
		Reason:     model.ReasonMaintenance,
		ReceivedBy: "Repairs",
		Specialist: ptr("Ivan Quiroz"),
	})
	var conflict *ConflictError
	assert.True(t, errors.As(err, &conflict), "expected conflict, got %v", err)
}

func TestUpdate_RequiresSpecialist(t *testing.T) {
	f := newFixture(t)
	rec := f.register(t, registerReq("U-6"))[0]

	_, err := f.svc.Update(context.Background(), rec.ID, UpdateRequest{
		Reason:     model.ReasonMaintenance,
		ReceivedBy: "Repairs",
	})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected validation error, got %v", err)
	assert.Equal(t, "specialist is required", verr.Message)

	got, err := f.svc.Get(context.Background(), rec.ID, false)
	require.NoError(t, err)
	require.NotNil(t, got.Specialist)
	assert.Equal(t, "Ivan Quiroz", *got.Specialist)
}

func TestUpdate_UnknownRecord(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Update(context.Background(), "missing", UpdateRequest{
		Reason:     model.ReasonMaintenance,
		ReceivedBy: "Repairs",
		Specialist: ptr("Ivan Quiroz"),
	})
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "missing", nf.ID)
}

func TestPatch_WritesOnlyPresentFields(t *testing.T) {
	f := newFixture(t)
	req := registerReq("P-1")
	req.Client = ptr("ACME")
	rec := f.register(t, req)[0]

	got, err := f.svc.Patch(context.Background(), rec.ID, PatchRequest{
		HighPriority: ptr(true),
		ProcessState: ptr(model.ProcessInProgress),
	})
	require.NoError(t, err)
	assert.True(t, got.HighPriority)
	assert.Equal(t, model.ProcessInProgress, got.ProcessState)
	assert.Equal(t, "ACME", *got.Client)
	assert.Equal(t, model.ReasonMaintenance, got.Reason)

	got, err = f.svc.Patch(context.Background(), rec.ID, PatchRequest{Client: ptr("")})
	require.NoError(t, err)
	assert.Nil(t, got.Client)

	_, err = f.svc.Patch(context.Background(), rec.ID, PatchRequest{})
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))

	_, err = f.svc.Patch(context.Background(), rec.ID, PatchRequest{ReceivedBy: ptr("Kitchen")})
	assert.True(t, errors.As(err, &verr))

	_, err = f.svc.Patch(context.Background(), rec.ID, PatchRequest{Specialist: ptr(" ")})
	assert.True(t, errors.As(err, &verr))

	got, err = f.svc.Patch(context.Background(), rec.ID, PatchRequest{Specialist: ptr("Bruno Quipe")})
	require.NoError(t, err)
	assert.Equal(t, "Bruno Quipe", *got.Specialist)
}

func TestPatch_MarkExit(t *testing.T) {
	f := newFixture(t)
	rec := f.register(t, registerReq("P-2"))[0]

	got, err := f.svc.Patch(context.Background(), rec.ID, PatchRequest{MarkExit: true, DeliveredTo: ptr("Owner")})
	require.NoError(t, err)
	require.NotNil(t, got.ExitAt)
	assert.Equal(t, model.ProcessDone, got.ProcessState)
	assert.Equal(t, []string{"P-2"}, f.notifier.codes)

	_, err = f.svc.Patch(context.Background(), rec.ID, PatchRequest{Client: ptr("x")})
	var conflict *ConflictError
	assert.True(t, errors.As(err, &conflict))
}

func TestMarkIntake(t *testing.T) {
	f := newFixture(t)
	rec := f.register(t, registerReq("M-1"))[0]

	got, err := f.svc.MarkIntake(context.Background(), rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.IntakeAt)
	assert.Equal(t, custody.StatusInPreparation, got.Status)

	_, err = f.svc.MarkIntake(context.Background(), rec.ID)
	var conflict *ConflictError
	assert.True(t, errors.As(err, &conflict))
}

func TestMarkExit(t *testing.T) {
	f := newFixture(t)
	rec := f.register(t, registerReq("M-2"))[0]

	got, err := f.svc.MarkExit(context.Background(), rec.ID, MarkExitRequest{
		DeliveredTo: ptr("Owner"),
		Specialist:  ptr("Bruno Quipe"),
		ExitNotes:   ptr("charger missing"),
	})
	require.NoError(t, err)
	require.NotNil(t, got.ExitAt)
	assert.Equal(t, "Owner", *got.DeliveredTo)
	assert.Equal(t, "Bruno Quipe", *got.Specialist)
	assert.Equal(t, "charger missing", *got.ExitNotes)
	assert.Equal(t, model.ProcessDone, got.ProcessState)
	assert.Equal(t, []string{"M-2"}, f.notifier.codes)

	_, err = f.svc.MarkExit(context.Background(), rec.ID, MarkExitRequest{})
	var conflict *ConflictError
	assert.True(t, errors.As(err, &conflict))

	_, err = f.svc.MarkExit(context.Background(), rec.ID, MarkExitRequest{Specialist: ptr("Nobody")})
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestMarkExit_LosingConcurrentExitKeepsFirstHandOff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.register(t, registerReq("M-3"))[0]

	// Both requests loaded the record before either exit was written.
	stale, err := f.store.Get(ctx, rec.ID, false)
	require.NoError(t, err)

	_, err = f.svc.MarkExit(ctx, rec.ID, MarkExitRequest{DeliveredTo: ptr("Owner")})
	require.NoError(t, err)
	firstExit := f.clock.Now()

	f.clock.Advance(time.Minute)
	fields := store.Fields{}
	setExit(fields, ptr("Someone else"), f.clock.Now())
	_, err = f.svc.apply(ctx, stale, fields, true)

	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict), "expected conflict, got %v", err)

	got, err := f.svc.Get(ctx, rec.ID, false)
	require.NoError(t, err)
	require.NotNil(t, got.ExitAt)
	assert.True(t, firstExit.Equal(*got.ExitAt))
	assert.Equal(t, "Owner", *got.DeliveredTo)
	assert.Equal(t, []string{"M-3"}, f.notifier.codes, "only the winning exit is announced")
}

func TestBatchExit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exitedReq := registerReq("B-1")
	exitedReq.MarkExit = true
	exitedReq.DeliveredTo = ptr("First owner")
	exited := f.register(t, exitedReq)[0]
	open := f.register(t, registerReq("B-2\nB-3"))

	f.clock.Advance(time.Hour)
	res, err := f.svc.BatchExit(ctx, BatchExitRequest{
		IDs:         []string{exited.ID, open[0].ID, open[1].ID, open[0].ID},
		MarkExit:    true,
		DeliveredTo: ptr("Warehouse"),
		ExitNotes:   ptr("pallet 4"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count)
	require.Len(t, res.Records, 3)

	for _, d := range res.Records {
		require.NotNil(t, d.ExitAt)
		assert.Equal(t, "pallet 4", *d.ExitNotes)
		assert.Equal(t, model.ProcessDone, d.ProcessState)
		assert.Equal(t, custody.StatusReady, d.Status)
		if d.ID == exited.ID {
			assert.True(t, exited.ExitAt.Equal(*d.ExitAt), "existing exit must not move")
			assert.Equal(t, "First owner", *d.DeliveredTo)
		} else {
			assert.True(t, f.clock.Now().Equal(*d.ExitAt))
			assert.Equal(t, "Warehouse", *d.DeliveredTo)
		}
	}
	assert.ElementsMatch(t, []string{"B-2", "B-3"}, f.notifier.codes)
}

func TestBatchExit_NotesOnly(t *testing.T) {
	f := newFixture(t)
	rec := f.register(t, registerReq("B-4"))[0]

	res, err := f.svc.BatchExit(context.Background(), BatchExitRequest{
		IDs:       []string{rec.ID},
		ExitNotes: ptr("waiting for courier"),
	})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Nil(t, res.Records[0].ExitAt)
	assert.Equal(t, "waiting for courier", *res.Records[0].ExitNotes)
	assert.Empty(t, f.notifier.codes)
}

func TestBatchExit_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.BatchExit(context.Background(), BatchExitRequest{IDs: []string{" ", ""}, MarkExit: true})
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))

	_, err = f.svc.BatchExit(context.Background(), BatchExitRequest{IDs: []string{"nope"}, MarkExit: true})
	var nf *NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestSoftDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.register(t, registerReq("D-1"))[0]

	require.NoError(t, f.svc.SoftDelete(ctx, rec.ID))

	list, err := f.svc.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = f.svc.List(ctx, ListOptions{IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, list, 1)

	got, err := f.svc.Get(ctx, rec.ID, true)
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	require.NotNil(t, got.DeletedAt)
	assert.True(t, f.clock.Now().Equal(*got.DeletedAt))

	var nf *NotFoundError
	_, err = f.svc.Get(ctx, rec.ID, false)
	assert.True(t, errors.As(err, &nf))
	assert.True(t, errors.As(f.svc.SoftDelete(ctx, rec.ID), &nf))

	// The code is free again.
	f.register(t, registerReq("D-1"))
}

func TestPurge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.register(t, registerReq("D-2"))[0]

	var conflict *ConflictError
	assert.True(t, errors.As(f.svc.Purge(ctx, rec.ID), &conflict))

	require.NoError(t, f.svc.SoftDelete(ctx, rec.ID))
	require.NoError(t, f.svc.Purge(ctx, rec.ID))

	var nf *NotFoundError
	_, err := f.svc.Get(ctx, rec.ID, true)
	assert.True(t, errors.As(err, &nf))
	assert.True(t, errors.As(f.svc.Purge(ctx, rec.ID), &nf))
}

func TestPersistenceErrorHidesCause(t *testing.T) {
	f := newFixture(t)
	sqlDB, err := f.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = f.svc.List(context.Background(), ListOptions{})
	var perr *PersistenceError
	require.True(t, errors.As(err, &perr), "expected persistence error, got %v", err)
	assert.Equal(t, "list records", perr.Op)
	assert.NotNil(t, errors.Unwrap(perr))
}
