package controllers

import (
	"net/http"
	"time"

	"github.com/metrolog/metrolog-backend/api/middleware"
	"github.com/metrolog/metrolog-backend/api/responses"
	"github.com/metrolog/metrolog-backend/api/validators"
	"github.com/metrolog/metrolog-backend/internal/actnumbers"
	"github.com/metrolog/metrolog-backend/internal/verifications"
	"github.com/metrolog/metrolog-backend/pkg/dates"
	"github.com/metrolog/metrolog-backend/pkg/enums"
	pkgerrors "github.com/metrolog/metrolog-backend/pkg/errors"
	"github.com/metrolog/metrolog-backend/pkg/logger"
)

const factoryNumberMaxLen = 64

type actFieldsRequest struct {
	ClientFullName *string `json:"client_full_name,omitempty" validate:"omitempty,max=255"`
	ClientPhone    *string `json:"client_phone,omitempty" validate:"omitempty,max=32"`
	Address        *string `json:"address,omitempty" validate:"omitempty,max=255"`
	CityID         *uint   `json:"city_id,omitempty" validate:"omitempty,gt=0"`
	LegalEntity    *string `json:"legal_entity,omitempty" validate:"omitempty,legal_entity"`
}

func (r actFieldsRequest) toFields(date time.Time) actnumbers.Fields {
	fields := actnumbers.Fields{
		ClientFullName:   r.ClientFullName,
		ClientPhone:      r.ClientPhone,
		Address:          r.Address,
		CityID:           r.CityID,
		VerificationDate: &date,
	}
	if r.LegalEntity != nil {
		le := enums.LegalEntity(*r.LegalEntity)
		fields.LegalEntity = &le
	}
	return fields
}

type createVerificationRequest struct {
	ActNumber        int    `json:"act_number" validate:"required,gt=0"`
	SeriesID         uint   `json:"series_id" validate:"required,gt=0"`
	VerificationDate string `json:"verification_date" validate:"required,isodate"`
	FactoryNumber    string `json:"factory_number" validate:"required,max=64"`
	actFieldsRequest
}

type updateVerificationRequest struct {
	ActNumber        int    `json:"act_number" validate:"required,gt=0"`
	SeriesID         uint   `json:"series_id" validate:"required,gt=0"`
	VerificationDate string `json:"verification_date" validate:"required,isodate"`
	FactoryNumber    string `json:"factory_number" validate:"required,max=64"`
	VerifierID       *uint  `json:"verifier_id,omitempty" validate:"omitempty,gt=0"`
	actFieldsRequest
}

func actorFromRequest(r *http.Request) (verifications.Actor, error) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return verifications.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	return verifications.Actor{
		EmployeeID: actor.EmployeeID,
		CompanyID:  actor.CompanyID,
		Status:     actor.Status,
	}, nil
}

// CreateVerification records a verification entry and allocates its verifier.
func CreateVerification(svc verifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "verification service unavailable"))
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createVerificationRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		date, _ := dates.Parse(req.VerificationDate)

		result, err := svc.Create(r.Context(), actor, verifications.CreateInput{
			ActNumber:     req.ActNumber,
			SeriesID:      req.SeriesID,
			Date:          date,
			FactoryNumber: validators.SanitizeString(req.FactoryNumber, factoryNumberMaxLen),
			ActFields:     req.toFields(date),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// UpdateVerification edits an entry and moves ledger quota accordingly.
func UpdateVerification(svc verifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "verification service unavailable"))
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entryID, err := validators.ParseURLID(r, "entryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req updateVerificationRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		date, _ := dates.Parse(req.VerificationDate)

		result, err := svc.Update(r.Context(), actor, entryID, verifications.UpdateInput{
			ActNumber:     req.ActNumber,
			SeriesID:      req.SeriesID,
			Date:          date,
			FactoryNumber: validators.SanitizeString(req.FactoryNumber, factoryNumberMaxLen),
			VerifierID:    req.VerifierID,
			ActFields:     req.toFields(date),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// DeleteVerification removes an entry and restores act and ledger capacity.
func DeleteVerification(svc verifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "verification service unavailable"))
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entryID, err := validators.ParseURLID(r, "entryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Delete(r.Context(), actor, entryID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteNoContent(w)
	}
}

func ListVerifications(svc verifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "verification service unavailable"))
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		date, err := validators.ParseQueryDate(r, "date")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entries, err := svc.ListByDate(r.Context(), actor, date)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, entries)
	}
}

func VerifierQuota(svc verifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "verification service unavailable"))
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		verifierID, err := validators.ParseURLID(r, "verifierId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		date, err := validators.ParseQueryDate(r, "date")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		quota, err := svc.VerifierQuota(r.Context(), actor, verifierID, date)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, quota)
	}
}
