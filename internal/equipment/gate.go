package equipment

import (
	"fmt"
	"time"

	"github.com/metrolog/metrolog-backend/pkg/dates"
	"github.com/metrolog/metrolog-backend/pkg/db/models"
	"github.com/metrolog/metrolog-backend/pkg/enums"
	pkgerrors "github.com/metrolog/metrolog-backend/pkg/errors"
)

// Gate decides whether a verifier's instruments are within calibration.
// It only inspects preloaded data and never touches storage.
type Gate struct {
	now func() time.Time
}

// NewGate returns a Gate evaluating expiry against now (time.Now when nil).
func NewGate(now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{now: now}
}

// IsVerifierUsable reports whether every in-use instrument of v is calibrated.
// A verifier without in-use equipment is never usable.
func (g *Gate) IsVerifierUsable(v *models.Verifier) bool {
	if v == nil {
		return false
	}
	inUse := InUse(v.Equipments)
	if len(inUse) == 0 {
		return false
	}
	today := dates.Today(g.now)
	for i := range inUse {
		if expired(&inUse[i], today) {
			return false
		}
	}
	return true
}

// ExpiredEquipment lists in-use instruments whose latest verification window
// ended before today.
func (g *Gate) ExpiredEquipment(equipments []models.Equipment) []models.Equipment {
	today := dates.Today(g.now)
	var out []models.Equipment
	for _, eq := range InUse(equipments) {
		if expired(&eq, today) {
			out = append(out, eq)
		}
	}
	return out
}

// CheckConditions fails with a validation error when the verifier holds no
// equipment or any of it is out of calibration.
func (g *Gate) CheckConditions(equipments []models.Equipment) error {
	if len(InUse(equipments)) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "verifier has no equipment assigned")
	}
	bad := g.ExpiredEquipment(equipments)
	if len(bad) == 0 {
		return nil
	}
	labels := make([]string, 0, len(bad))
	for _, eq := range bad {
		labels = append(labels, fmt.Sprintf("%s (factory no. %s)", eq.Name, eq.FactoryNumber))
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "verifier equipment calibration has expired").
		WithDetails(map[string]any{"expired_equipment": labels})
}

// InUse drops soft-deleted equipment.
func InUse(equipments []models.Equipment) []models.Equipment {
	out := make([]models.Equipment, 0, len(equipments))
	for _, eq := range equipments {
		if !eq.IsDeleted {
			out = append(out, eq)
		}
	}
	return out
}

// latestVerification returns the live verification window with the latest end date.
func latestVerification(eq *models.Equipment) *models.EquipmentInfo {
	var latest *models.EquipmentInfo
	for i := range eq.Infos {
		info := &eq.Infos[i]
		if info.IsDeleted || info.Type != enums.EquipmentInfoTypeVerification {
			continue
		}
		if latest == nil || info.DateTo.After(latest.DateTo) {
			latest = info
		}
	}
	return latest
}

// expired treats never-verified instruments as valid.
func expired(eq *models.Equipment, today time.Time) bool {
	latest := latestVerification(eq)
	if latest == nil {
		return false
	}
	return dates.Day(latest.DateTo).Before(today)
}
