package allocation

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/metrolog/metrolog-backend/internal/equipment"
	"github.com/metrolog/metrolog-backend/internal/quota"
	"github.com/metrolog/metrolog-backend/internal/testdb"
	"github.com/metrolog/metrolog-backend/internal/verifiers"
	"github.com/metrolog/metrolog-backend/pkg/db"
	"github.com/metrolog/metrolog-backend/pkg/db/models"
	"github.com/metrolog/metrolog-backend/pkg/enums"
	pkgerrors "github.com/metrolog/metrolog-backend/pkg/errors"
	"github.com/metrolog/metrolog-backend/pkg/logger"
	"github.com/metrolog/metrolog-backend/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const limit = 5

var (
	today = testdb.Day(2024, 5, 1)
	d1    = testdb.Day(2024, 5, 10)
	d2    = testdb.Day(2024, 5, 11)
	valid = testdb.Day(2025, 1, 1)
)

type recordingWriter struct {
	calls int
}

func (w *recordingWriter) ReassignEntries(ctx context.Context, tx *gorm.DB, entryIDs []uint, verifierID uint, equipments []models.Equipment) error {
	w.calls++
	if err := tx.WithContext(ctx).Model(&models.VerificationEntry{}).
		Where("id IN ?", entryIDs).
		Updates(map[string]any{"verifier_id": verifierID, "changed_by_admin": false}).Error; err != nil {
		return err
	}
	for _, id := range entryIDs {
		assoc := tx.WithContext(ctx).Model(&models.VerificationEntry{ID: id}).Association("Equipments")
		if err := assoc.Replace(equipments); err != nil {
			return err
		}
	}
	return nil
}

type fixture struct {
	conn    *gorm.DB
	client  *db.Client
	engine  *Engine
	writer  *recordingWriter
	company *models.Company
	emp     *models.Employee
	reg     *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := testdb.Open(t)
	reg := prometheus.NewRegistry()
	m := metrics.NewAllocationMetrics(reg)
	ledger, err := quota.NewLedger(quota.NewRepository(conn), m)
	require.NoError(t, err)
	writer := &recordingWriter{}
	engine, err := NewEngine(Deps{
		Verifiers: verifiers.NewRepository(conn),
		Ledger:    ledger,
		Gate:      equipment.NewGate(func() time.Time { return today.Add(9 * time.Hour) }),
		Entries:   writer,
		Metrics:   m,
	})
	require.NoError(t, err)
	company := testdb.Company(t, conn, true, limit)
	return &fixture{
		conn:    conn,
		client:  db.NewFromConn(conn),
		engine:  engine,
		writer:  writer,
		company: company,
		emp:     testdb.Employee(t, conn, company.ID, enums.EmployeeStatusDispatcher1, nil),
		reg:     reg,
	}
}

func (f *fixture) verifier(t *testing.T, name string, teamID *uint) *models.Verifier {
	t.Helper()
	v := testdb.Verifier(t, f.conn, f.company.ID, name, testdb.VerifierOpts{TeamID: teamID, ExpiresOn: valid})
	return f.load(t, v.ID)
}

func (f *fixture) load(t *testing.T, id uint) *models.Verifier {
	t.Helper()
	v, err := verifiers.NewRepository(f.conn).FindByID(context.Background(), f.company.ID, id)
	require.NoError(t, err)
	return v
}

// allocate runs the engine and commits whatever it left behind, even on error,
// so rejected work can be inspected.
func (f *fixture) allocate(t *testing.T, req Request) (*Result, error) {
	t.Helper()
	ctx := context.Background()
	req.CompanyID = f.company.ID
	if req.DailyLimit == 0 {
		req.DailyLimit = limit
	}
	var (
		res      *Result
		allocErr error
	)
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		res, allocErr = f.engine.Allocate(ctx, tx, req)
		return nil
	}))
	return res, allocErr
}

func (f *fixture) remaining(t *testing.T, verifierID uint, date time.Time) int {
	t.Helper()
	r, ok := testdb.Remaining(t, f.conn, verifierID, date)
	require.True(t, ok, "ledger row for verifier %d on %s missing", verifierID, date.Format("2006-01-02"))
	return r
}

func (f *fixture) siblings(t *testing.T, actID uint) []models.VerificationEntry {
	t.Helper()
	var out []models.VerificationEntry
	require.NoError(t, f.conn.Preload("Equipments").Where("act_number_id = ?", actID).Order("id").Find(&out).Error)
	return out
}

func TestAllocateAdmitsDefaultDownToMinusOne(t *testing.T) {
	f := newFixture(t)
	def := f.verifier(t, "default", nil)
	testdb.QuotaLog(t, f.conn, def.ID, d1, 0)

	res, err := f.allocate(t, Request{Date: d1, DefaultVerifier: def})
	require.NoError(t, err)

	assert.Equal(t, def.ID, res.VerifierID)
	assert.Equal(t, PoolDefault, res.Pool)
	assert.Len(t, res.Equipments, 1)
	assert.Equal(t, -1, f.remaining(t, def.ID, d1))
}

func TestAllocateFallsThroughWhenDefaultAtFloor(t *testing.T) {
	f := newFixture(t)
	team := testdb.Team(t, f.conn, f.company.ID, "north")
	def := f.verifier(t, "default", &team.ID)
	mate := f.verifier(t, "mate", &team.ID)
	testdb.QuotaLog(t, f.conn, def.ID, d1, quota.OverbookFloor)

	res, err := f.allocate(t, Request{Date: d1, DefaultVerifier: def})
	require.NoError(t, err)

	assert.Equal(t, mate.ID, res.VerifierID)
	assert.Equal(t, PoolSameTeam, res.Pool)
	assert.Equal(t, quota.OverbookFloor, f.remaining(t, def.ID, d1))
	assert.Equal(t, limit-1, f.remaining(t, mate.ID, d1))
}

func TestAllocateLogsRejectedCandidatesAtDebug(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	ledger, err := quota.NewLedger(quota.NewRepository(f.conn), nil)
	require.NoError(t, err)
	f.engine, err = NewEngine(Deps{
		Verifiers: verifiers.NewRepository(f.conn),
		Ledger:    ledger,
		Gate:      equipment.NewGate(func() time.Time { return today.Add(9 * time.Hour) }),
		Entries:   f.writer,
		Logger:    logger.New(logger.Options{ServiceName: "test", Level: zerolog.DebugLevel, Output: &buf}),
	})
	require.NoError(t, err)

	def := f.verifier(t, "default", nil)
	f.verifier(t, "loner", nil)
	testdb.QuotaLog(t, f.conn, def.ID, d1, quota.OverbookFloor)

	_, err = f.allocate(t, Request{Date: d1, DefaultVerifier: def})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"level":"debug"`)
	assert.Contains(t, out, "allocation candidate rejected")
	assert.Contains(t, out, `"reason":"quota"`)
	assert.Contains(t, out, `"pool":"default"`)
}

func TestAllocateReassignsSiblingsAndMovesQuota(t *testing.T) {
	f := newFixture(t)
	team := testdb.Team(t, f.conn, f.company.ID, "north")
	a := f.verifier(t, "a", &team.ID)
	b := f.verifier(t, "b", &team.ID)

	act := testdb.ActNumber(t, f.conn, f.company.ID, 100, 1, 2)
	e1 := testdb.Entry(t, f.conn, act, f.emp.ID, &a.ID, d1, "FN-1")
	e2 := testdb.Entry(t, f.conn, act, f.emp.ID, &a.ID, d2, "FN-2")
	testdb.QuotaLog(t, f.conn, a.ID, d1, -2)
	testdb.QuotaLog(t, f.conn, a.ID, d2, -3)

	res, err := f.allocate(t, Request{
		Date:            d2,
		DefaultVerifier: a,
		Siblings:        []models.VerificationEntry{*e1, *e2},
	})
	require.NoError(t, err)

	assert.Equal(t, b.ID, res.VerifierID)
	assert.True(t, res.Reassigned)
	assert.Equal(t, 1, f.writer.calls)

	// A gets its two entries back, B carries them plus the new one.
	assert.Equal(t, -1, f.remaining(t, a.ID, d1))
	assert.Equal(t, -2, f.remaining(t, a.ID, d2))
	assert.Equal(t, limit-1, f.remaining(t, b.ID, d1))
	assert.Equal(t, limit-2, f.remaining(t, b.ID, d2))

	for _, s := range f.siblings(t, act.ID) {
		require.NotNil(t, s.VerifierID)
		assert.Equal(t, b.ID, *s.VerifierID)
		assert.ElementsMatch(t, equipmentIDs(res.Equipments), s.EquipmentIDs())
	}
}

func TestAllocateConservesQuota(t *testing.T) {
	f := newFixture(t)
	team := testdb.Team(t, f.conn, f.company.ID, "north")
	a := f.verifier(t, "a", &team.ID)
	b := f.verifier(t, "b", &team.ID)
	act := testdb.ActNumber(t, f.conn, f.company.ID, 7, 1, 3)
	e1 := testdb.Entry(t, f.conn, act, f.emp.ID, &a.ID, d1, "FN-1")
	testdb.QuotaLog(t, f.conn, a.ID, d1, -3)
	testdb.QuotaLog(t, f.conn, a.ID, d2, 2)
	testdb.QuotaLog(t, f.conn, b.ID, d1, 3)
	testdb.QuotaLog(t, f.conn, b.ID, d2, 3)
	before := f.total(t)

	_, err := f.allocate(t, Request{Date: d2, DefaultVerifier: a, Siblings: []models.VerificationEntry{*e1}})
	require.NoError(t, err)

	assert.Equal(t, before-1, f.total(t))
}

func TestAllocateCreditsEachPreviousVerifierItsOwnShare(t *testing.T) {
	f := newFixture(t)
	a := f.verifier(t, "a", nil)
	b := f.verifier(t, "b", nil)
	c := f.verifier(t, "c", nil)

	act := testdb.ActNumber(t, f.conn, f.company.ID, 11, 1, 2)
	e1 := testdb.Entry(t, f.conn, act, f.emp.ID, &a.ID, d1, "FN-1")
	e2 := testdb.Entry(t, f.conn, act, f.emp.ID, &b.ID, d1, "FN-2")
	testdb.QuotaLog(t, f.conn, a.ID, d1, 4)
	testdb.QuotaLog(t, f.conn, b.ID, d1, 4)
	testdb.QuotaLog(t, f.conn, c.ID, d1, limit)
	before := f.total(t)

	res, err := f.allocate(t, Request{Date: d1, DefaultVerifier: c, Siblings: []models.VerificationEntry{*e1, *e2}})
	require.NoError(t, err)

	assert.Equal(t, c.ID, res.VerifierID)
	assert.True(t, res.Reassigned)
	assert.Equal(t, 5, f.remaining(t, a.ID, d1))
	assert.Equal(t, 5, f.remaining(t, b.ID, d1))
	assert.Equal(t, limit-3, f.remaining(t, c.ID, d1))
	assert.Equal(t, before-1, f.total(t))
}

func TestAllocateSkipsCreditForUnledgeredSiblings(t *testing.T) {
	f := newFixture(t)
	a := f.verifier(t, "a", nil)
	c := f.verifier(t, "c", nil)

	act := testdb.ActNumber(t, f.conn, f.company.ID, 12, 1, 1)
	held := testdb.Entry(t, f.conn, act, f.emp.ID, &a.ID, d1, "FN-1")
	pinned := testdb.Entry(t, f.conn, act, f.emp.ID, &a.ID, d2, "FN-2")
	require.NoError(t, f.conn.Model(pinned).Update("changed_by_admin", true).Error)
	pinned.ChangedByAdmin = true
	loose := testdb.Entry(t, f.conn, act, f.emp.ID, nil, d1, "FN-3")
	testdb.QuotaLog(t, f.conn, a.ID, d1, 0)
	testdb.QuotaLog(t, f.conn, a.ID, d2, 0)

	res, err := f.allocate(t, Request{
		Date:            d2,
		DefaultVerifier: c,
		Siblings:        []models.VerificationEntry{*held, *pinned, *loose},
	})
	require.NoError(t, err)

	assert.Equal(t, c.ID, res.VerifierID)
	assert.True(t, res.Reassigned)
	// only the entry A carried in its ledger comes back
	assert.Equal(t, 1, f.remaining(t, a.ID, d1))
	assert.Equal(t, 0, f.remaining(t, a.ID, d2))
	assert.Equal(t, limit-2, f.remaining(t, c.ID, d1))
	assert.Equal(t, limit-2, f.remaining(t, c.ID, d2))

	for _, s := range f.siblings(t, act.ID) {
		require.NotNil(t, s.VerifierID)
		assert.Equal(t, c.ID, *s.VerifierID)
		assert.False(t, s.ChangedByAdmin)
	}
}

type countingRepo struct {
	verifiers.Repository
	loads map[string]int
}

func (r *countingRepo) WithTx(tx *gorm.DB) verifiers.Repository {
	return &countingRepo{Repository: r.Repository.WithTx(tx), loads: r.loads}
}

func (r *countingRepo) ListByTeam(ctx context.Context, companyID, teamID, excludeVerifierID uint) ([]models.Verifier, error) {
	r.loads[PoolSameTeam]++
	return r.Repository.ListByTeam(ctx, companyID, teamID, excludeVerifierID)
}

func (r *countingRepo) ListWithoutTeam(ctx context.Context, companyID, excludeVerifierID uint) ([]models.Verifier, error) {
	r.loads[PoolTeamless]++
	return r.Repository.ListWithoutTeam(ctx, companyID, excludeVerifierID)
}

func (r *countingRepo) ListInOtherTeams(ctx context.Context, companyID uint, excludeTeamID *uint, excludeVerifierID uint) ([]models.Verifier, error) {
	r.loads[PoolOtherTeams]++
	return r.Repository.ListInOtherTeams(ctx, companyID, excludeTeamID, excludeVerifierID)
}

func TestAllocateLoadsPoolsOnlyWhenNeeded(t *testing.T) {
	f := newFixture(t)
	repo := &countingRepo{Repository: verifiers.NewRepository(f.conn), loads: map[string]int{}}
	ledger, err := quota.NewLedger(quota.NewRepository(f.conn), nil)
	require.NoError(t, err)
	f.engine, err = NewEngine(Deps{
		Verifiers: repo,
		Ledger:    ledger,
		Gate:      equipment.NewGate(func() time.Time { return today.Add(9 * time.Hour) }),
		Entries:   f.writer,
	})
	require.NoError(t, err)

	team := testdb.Team(t, f.conn, f.company.ID, "north")
	def := f.verifier(t, "default", &team.ID)
	mate := f.verifier(t, "mate", &team.ID)
	f.verifier(t, "loner", nil)

	res, err := f.allocate(t, Request{Date: d1, DefaultVerifier: def})
	require.NoError(t, err)
	assert.Equal(t, def.ID, res.VerifierID)
	assert.Empty(t, repo.loads, "no fallback pool is read when the default verifier is admitted")

	testdb.QuotaLog(t, f.conn, def.ID, d2, quota.OverbookFloor)
	res, err = f.allocate(t, Request{Date: d2, DefaultVerifier: def})
	require.NoError(t, err)
	assert.Equal(t, mate.ID, res.VerifierID)
	assert.Equal(t, map[string]int{PoolSameTeam: 1}, repo.loads)
}

func (f *fixture) total(t *testing.T) int {
	t.Helper()
	var sum int64
	require.NoError(t, f.conn.Model(&models.QuotaLog{}).Select("COALESCE(SUM(remaining_quota), 0)").Scan(&sum).Error)
	return int(sum)
}

func TestAllocateSameVerifierDebitsOnlyNewDate(t *testing.T) {
	f := newFixture(t)
	def := f.verifier(t, "default", nil)
	act := testdb.ActNumber(t, f.conn, f.company.ID, 5, 1, 3)
	e1 := testdb.Entry(t, f.conn, act, f.emp.ID, &def.ID, d1, "FN-1")
	testdb.QuotaLog(t, f.conn, def.ID, d1, 4)

	res, err := f.allocate(t, Request{Date: d1, DefaultVerifier: def, Siblings: []models.VerificationEntry{*e1}})
	require.NoError(t, err)

	assert.Equal(t, def.ID, res.VerifierID)
	assert.False(t, res.Reassigned)
	assert.Zero(t, f.writer.calls)
	assert.Equal(t, 3, f.remaining(t, def.ID, d1))
}

func TestAllocateRejectedCandidateLeavesNoRows(t *testing.T) {
	f := newFixture(t)
	prev := f.verifier(t, "prev", nil)
	def := f.verifier(t, "default", nil)

	act := testdb.ActNumber(t, f.conn, f.company.ID, 8, 1, 3)
	e1 := testdb.Entry(t, f.conn, act, f.emp.ID, &prev.ID, d1, "FN-1")
	testdb.QuotaLog(t, f.conn, prev.ID, d1, 0)
	// default has room on d1 but none on d2
	testdb.QuotaLog(t, f.conn, def.ID, d2, quota.OverbookFloor)

	res, err := f.allocate(t, Request{Date: d2, DefaultVerifier: def, Siblings: []models.VerificationEntry{*e1}})
	require.NoError(t, err)

	assert.Equal(t, prev.ID, res.VerifierID)
	assert.Equal(t, PoolTeamless, res.Pool)
	assert.False(t, res.Reassigned)

	_, ok := testdb.Remaining(t, f.conn, def.ID, d1)
	assert.False(t, ok, "row created for a rejected candidate must be rolled back")
	assert.Equal(t, quota.OverbookFloor, f.remaining(t, def.ID, d2))
	assert.Equal(t, 0, f.remaining(t, prev.ID, d1))
	assert.Equal(t, limit-1, f.remaining(t, prev.ID, d2))
}

func TestAllocateSkipsExpiredEquipment(t *testing.T) {
	f := newFixture(t)
	expired := testdb.Verifier(t, f.conn, f.company.ID, "expired", testdb.VerifierOpts{ExpiresOn: today.AddDate(0, 0, -1)})
	def := f.load(t, expired.ID)
	fallback := f.verifier(t, "fallback", nil)

	res, err := f.allocate(t, Request{Date: d1, DefaultVerifier: def})
	require.NoError(t, err)

	assert.Equal(t, fallback.ID, res.VerifierID)
	_, ok := testdb.Remaining(t, f.conn, def.ID, d1)
	assert.False(t, ok)
}

func TestAllocateExhaustedLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t)
	teamA := testdb.Team(t, f.conn, f.company.ID, "a")
	teamB := testdb.Team(t, f.conn, f.company.ID, "b")
	def := f.verifier(t, "default", &teamA.ID)
	mate := f.verifier(t, "mate", &teamA.ID)
	loner := f.verifier(t, "loner", nil)
	far := f.verifier(t, "far", &teamB.ID)
	for _, v := range []*models.Verifier{def, mate, loner, far} {
		testdb.QuotaLog(t, f.conn, v.ID, d1, quota.OverbookFloor)
	}
	before := f.total(t)

	res, err := f.allocate(t, Request{Date: d1, DefaultVerifier: def})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeCapacityExhausted))
	assert.Equal(t, before, f.total(t))

	mfs, err := f.reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestAllocateNeverLeavesRowBelowFloor(t *testing.T) {
	f := newFixture(t)
	def := f.verifier(t, "default", nil)
	ctx := context.Background()

	for i := 0; i < limit+10; i++ {
		_, err := f.allocate(t, Request{Date: d1, DefaultVerifier: def})
		if err != nil {
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeCapacityExhausted))
			break
		}
	}

	var rows []models.QuotaLog
	require.NoError(t, f.conn.WithContext(ctx).Find(&rows).Error)
	for _, r := range rows {
		assert.GreaterOrEqual(t, r.RemainingQuota, quota.OverbookFloor)
	}
	assert.Equal(t, quota.OverbookFloor, f.remaining(t, def.ID, d1))
}

func TestAllocateValidatesRequest(t *testing.T) {
	f := newFixture(t)
	def := f.verifier(t, "default", nil)

	_, err := f.allocate(t, Request{Date: d1})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.allocate(t, Request{Date: d1, DefaultVerifier: def, DailyLimit: -1})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestNewEngineRequiresDeps(t *testing.T) {
	_, err := NewEngine(Deps{})
	assert.Error(t, err)
}

func equipmentIDs(eqs []models.Equipment) []uint {
	out := make([]uint, 0, len(eqs))
	for _, e := range eqs {
		out = append(out, e.ID)
	}
	return out
}
