package verifications

import (
	"context"
	"testing"

	"github.com/metrolog/metrolog-backend/internal/testdb"
	"github.com/metrolog/metrolog-backend/pkg/db/models"
	"github.com/metrolog/metrolog-backend/pkg/enums"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepositoryReassignReplacesSnapshot(t *testing.T) {
	conn := testdb.Open(t)
	company := testdb.Company(t, conn, true, 5)
	a := testdb.Verifier(t, conn, company.ID, "a", testdb.VerifierOpts{})
	b := testdb.Verifier(t, conn, company.ID, "b", testdb.VerifierOpts{})
	emp := testdb.Employee(t, conn, company.ID, enums.EmployeeStatusDispatcher1, &a.ID)
	act := testdb.ActNumber(t, conn, company.ID, 1, 1, 2)
	ctx := context.Background()
	repo := NewRepository(conn)

	var aEquip, bEquip []models.Equipment
	require.NoError(t, conn.Model(a).Association("Equipments").Find(&aEquip))
	require.NoError(t, conn.Model(b).Association("Equipments").Find(&bEquip))

	e1 := &models.VerificationEntry{CompanyID: company.ID, ActNumberID: act.ID, VerifierID: &a.ID, EmployeeID: emp.ID, VerificationDate: d1, FactoryNumber: "FN-1", Equipments: aEquip}
	e2 := &models.VerificationEntry{CompanyID: company.ID, ActNumberID: act.ID, VerifierID: &a.ID, EmployeeID: emp.ID, VerificationDate: d1, FactoryNumber: "FN-2", Equipments: aEquip}
	require.NoError(t, repo.Create(ctx, e1))
	require.NoError(t, repo.Create(ctx, e2))
	require.NoError(t, conn.Model(e2).Update("changed_by_admin", true).Error)

	require.NoError(t, repo.Reassign(ctx, []uint{e1.ID, e2.ID}, b.ID, bEquip))

	listed, err := repo.ListByDate(ctx, company.ID, d1)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	for _, e := range listed {
		require.NotNil(t, e.VerifierID)
		assert.Equal(t, b.ID, *e.VerifierID)
		assert.False(t, e.ChangedByAdmin, "reassigned entries count against the ledger again")
		assert.Equal(t, []uint{bEquip[0].ID}, e.EquipmentIDs())
	}

	siblings, err := repo.Siblings(ctx, act.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{e1.ID, e2.ID}, []uint{siblings[0].ID, siblings[1].ID})
}

func TestRepositoryFactoryNumberTakenExcludesSelf(t *testing.T) {
	conn := testdb.Open(t)
	company := testdb.Company(t, conn, false, 0)
	emp := testdb.Employee(t, conn, company.ID, enums.EmployeeStatusDispatcher1, nil)
	act := testdb.ActNumber(t, conn, company.ID, 1, 1, 3)
	e := testdb.Entry(t, conn, act, emp.ID, nil, d1, "FN-1")
	ctx := context.Background()
	repo := NewRepository(conn)

	taken, err := repo.FactoryNumberTaken(ctx, company.ID, "FN-1", d1, 0)
	require.NoError(t, err)
	assert.True(t, taken)

	taken, err = repo.FactoryNumberTaken(ctx, company.ID, "FN-1", d1, e.ID)
	require.NoError(t, err)
	assert.False(t, taken)

	taken, err = repo.FactoryNumberTaken(ctx, company.ID, "FN-1", d2, 0)
	require.NoError(t, err)
	assert.False(t, taken)
}
