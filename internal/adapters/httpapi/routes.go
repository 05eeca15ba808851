package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"vivarium/internal/core"
	"vivarium/pkg/domain"
)

type cageRequest struct {
	CageID string `json:"cage_id"`
}

type countRequest struct {
	Count int `json:"count"`
}

type companyRequest struct {
	CompanyID *string `json:"company_id"`
}

// archivePaths maps URL segments to entity types.
var archivePaths = map[string]domain.EntityType{
	"animals":   domain.EntityAnimal,
	"cages":     domain.EntityCage,
	"strains":   domain.EntityStrain,
	"genotypes": domain.EntityGenotype,
	"qr-codes":  domain.EntityQRCode,
	"users":     domain.EntityUser,
}

func (s *Server) routes(r chi.Router) {
	svc := s.svc

	r.Get("/me", s.handle(func(w http.ResponseWriter, _ *http.Request, actor core.User) error {
		writeJSON(w, http.StatusOK, actor)
		return nil
	}))

	resource[core.AnimalView, core.Animal, domain.AnimalPatch, domain.AnimalPatch]{
		entity: domain.EntityAnimal,
		list:   svc.ListAnimals, get: svc.GetAnimal,
		create: svc.CreateAnimal, update: svc.UpdateAnimal,
		remove: svc.DeleteAnimal, restore: svc.RestoreAnimal,
		purge: svc.PurgeAnimal, purgeMany: svc.PurgeAnimals, trash: svc.AnimalTrash,
	}.mount(s, r, "/animals", nil, func(r chi.Router) {
		r.Put("/cage", s.handle(s.assignCage))
	})

	resource[core.CageView, core.Cage, domain.CagePatch, domain.CagePatch]{
		entity: domain.EntityCage,
		list:   svc.ListCages, get: svc.GetCage,
		create: svc.CreateCage, update: svc.UpdateCage,
		remove: svc.DeleteCage, restore: svc.RestoreCage,
		purge: svc.PurgeCage, purgeMany: svc.PurgeCages, trash: svc.CageTrash,
	}.mount(s, r, "/cages", nil, nil)

	resource[core.Strain, core.Strain, domain.LabelPatch, domain.LabelPatch]{
		entity: domain.EntityStrain,
		list:   svc.ListStrains, get: svc.GetStrain,
		create: svc.CreateStrain, update: svc.UpdateStrain,
		remove: svc.DeleteStrain, restore: svc.RestoreStrain,
		purge: svc.PurgeStrain, purgeMany: svc.PurgeStrains, trash: svc.StrainTrash,
	}.mount(s, r, "/strains", nil, nil)

	resource[core.Genotype, core.Genotype, domain.LabelPatch, domain.LabelPatch]{
		entity: domain.EntityGenotype,
		list:   svc.ListGenotypes, get: svc.GetGenotype,
		create: svc.CreateGenotype, update: svc.UpdateGenotype,
		remove: svc.DeleteGenotype, restore: svc.RestoreGenotype,
		purge: svc.PurgeGenotype, purgeMany: svc.PurgeGenotypes, trash: svc.GenotypeTrash,
	}.mount(s, r, "/genotypes", nil, nil)

	resource[core.QRCode, core.QRCode, core.QRCodeInput, domain.QRCodePatch]{
		entity: domain.EntityQRCode,
		list:   svc.ListQRCodes, get: svc.GetQRCode,
		create: svc.CreateQRCode, update: svc.UpdateQRCode,
		remove: svc.DeleteQRCode, restore: svc.RestoreQRCode,
		purge: svc.PurgeQRCode, purgeMany: svc.PurgeQRCodes, trash: svc.QRCodeTrash,
	}.mount(s, r, "/qr-codes", func(r chi.Router) {
		r.Post("/generate-blank", s.handle(s.generateBlank))
	}, func(r chi.Router) {
		r.Post("/claim", s.handle(s.claimQRCode))
		r.Get("/resolve", s.handle(s.resolveQRCode))
	})

	resource[core.User, core.User, domain.UserPatch, domain.UserPatch]{
		entity: domain.EntityUser,
		list:   svc.ListUsers, get: svc.GetUser,
		create: svc.CreateUser, update: svc.UpdateUser,
		remove: svc.DeleteUser, restore: svc.RestoreUser,
		purge: svc.PurgeUser, purgeMany: svc.PurgeUsers, trash: svc.UserTrash,
		changed: s.auth.Forget,
	}.mount(s, r, "/users", nil, func(r chi.Router) {
		r.Post("/block", s.handle(s.setBlocked(true)))
		r.Post("/unblock", s.handle(s.setBlocked(false)))
		r.Put("/company", s.handle(s.reassignCompany))
	})

	r.Route("/companies", func(r chi.Router) {
		r.Get("/", s.handle(s.listCompanies))
		r.Post("/", s.handle(s.createCompany))
		r.Get("/{companyID}", s.handle(s.getCompany))
		r.Post("/{companyID}/users", s.handle(s.createCompanyUser))
	})

	r.Post("/trash/cleanup", s.handle(s.cleanup))
	r.Get("/trash/archive", s.handle(s.listArchive))
	r.Get("/trash/archive/{entity}/{id}", s.handle(s.readTombstone))
	r.Get("/audit-logs", s.handle(s.listAuditLogs))
}

func (s *Server) assignCage(w http.ResponseWriter, r *http.Request, actor core.User) error {
	var in cageRequest
	if err := decodeJSON(w, r, &in); err != nil {
		return err
	}
	out, err := s.svc.AssignAnimalCage(r.Context(), actor, chi.URLParam(r, "id"), in.CageID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, out)
	return nil
}

func (s *Server) generateBlank(w http.ResponseWriter, r *http.Request, actor core.User) error {
	var in countRequest
	if err := decodeJSON(w, r, &in); err != nil {
		return err
	}
	actor, err := actingIn(r, actor)
	if err != nil {
		return err
	}
	codes, err := s.svc.GenerateBlankQRCodes(r.Context(), actor, in.Count)
	if err != nil {
		if len(codes) == 0 {
			return err
		}
		ids := make([]string, len(codes))
		for i, c := range codes {
			ids[i] = c.ID
		}
		s.logger.Error("blank qr generation stopped early", "created", ids, "requested", in.Count, "error", err)
		status, body := serviceErrorBody(err)
		writeJSON(w, status, partialBody[core.QRCode]{errorBody: body, Items: codes})
		return nil
	}
	writeJSON(w, http.StatusCreated, newList(codes))
	return nil
}

func (s *Server) claimQRCode(w http.ResponseWriter, r *http.Request, actor core.User) error {
	var in cageRequest
	if err := decodeJSON(w, r, &in); err != nil {
		return err
	}
	if in.CageID == "" {
		return domain.ValidationError{Fields: []domain.FieldError{{Field: "cage_id", Message: "required"}}}
	}
	out, err := s.svc.ClaimQRCode(r.Context(), actor, chi.URLParam(r, "id"), in.CageID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, out)
	return nil
}

func (s *Server) resolveQRCode(w http.ResponseWriter, r *http.Request, actor core.User) error {
	out, err := s.svc.ResolveQRCode(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, out)
	return nil
}

func (s *Server) setBlocked(blocked bool) actorHandler {
	return func(w http.ResponseWriter, r *http.Request, actor core.User) error {
		id := chi.URLParam(r, "id")
		out, err := s.svc.SetUserBlocked(r.Context(), actor, id, blocked)
		if err != nil {
			return err
		}
		s.auth.Forget(id)
		writeJSON(w, http.StatusOK, out)
		return nil
	}
}

func (s *Server) reassignCompany(w http.ResponseWriter, r *http.Request, actor core.User) error {
	var in companyRequest
	if err := decodeJSON(w, r, &in); err != nil {
		return err
	}
	id := chi.URLParam(r, "id")
	out, err := s.svc.ReassignUserCompany(r.Context(), actor, id, in.CompanyID)
	if err != nil {
		return err
	}
	s.auth.Forget(id)
	writeJSON(w, http.StatusOK, out)
	return nil
}

func (s *Server) listCompanies(w http.ResponseWriter, r *http.Request, actor core.User) error {
	out, err := s.svc.ListCompanies(r.Context(), actor)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, newList(out))
	return nil
}

func (s *Server) createCompany(w http.ResponseWriter, r *http.Request, actor core.User) error {
	var in core.CompanyInput
	if err := decodeJSON(w, r, &in); err != nil {
		return err
	}
	out, err := s.svc.CreateCompany(r.Context(), actor, in)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, out)
	return nil
}

func (s *Server) getCompany(w http.ResponseWriter, r *http.Request, actor core.User) error {
	out, err := s.svc.GetCompany(r.Context(), actor, chi.URLParam(r, "companyID"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, out)
	return nil
}

func (s *Server) createCompanyUser(w http.ResponseWriter, r *http.Request, actor core.User) error {
	var in domain.UserPatch
	if err := decodeJSON(w, r, &in); err != nil {
		return err
	}
	out, err := s.svc.CreateUserInCompany(r.Context(), actor, chi.URLParam(r, "companyID"), in)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, out)
	return nil
}

func (s *Server) cleanup(w http.ResponseWriter, r *http.Request, actor core.User) error {
	report, err := s.svc.Cleanup(r.Context(), actor)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, report)
	return nil
}

func (s *Server) listArchive(w http.ResponseWriter, r *http.Request, actor core.User) error {
	var entity domain.EntityType
	if seg := r.URL.Query().Get("entity"); seg != "" {
		var ok bool
		if entity, ok = archivePaths[seg]; !ok {
			return domain.ValidationError{Fields: []domain.FieldError{{Field: "entity", Message: "unknown value"}}}
		}
	}
	items, err := s.svc.ListArchive(r.Context(), actor, entity)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, newList(items))
	return nil
}

func (s *Server) readTombstone(w http.ResponseWriter, r *http.Request, actor core.User) error {
	entity, ok := archivePaths[chi.URLParam(r, "entity")]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityType(chi.URLParam(r, "entity")), ID: chi.URLParam(r, "id")}
	}
	out, err := s.svc.ReadTombstone(r.Context(), actor, entity, chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, out)
	return nil
}

func (s *Server) listAuditLogs(w http.ResponseWriter, r *http.Request, actor core.User) error {
	q := r.URL.Query()
	filter := core.AuditFilter{
		Table:    domain.EntityType(q.Get("table")),
		RecordID: q.Get("record_id"),
		Action:   domain.AuditAction(q.Get("action")),
	}
	var v domain.Validator
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		v.Check(err == nil, "since", "must be an RFC 3339 timestamp")
		filter.Since = since
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		v.Check(err == nil && n > 0, "limit", "must be a positive integer")
		filter.Limit = n
	}
	if err := v.Err(); err != nil {
		return err
	}
	rows, err := s.svc.ListAuditLogs(r.Context(), actor, filter)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, newList(rows))
	return nil
}

// partialBody reports a failed batch together with the records it created
// before failing.
type partialBody[T any] struct {
	errorBody
	Items []T `json:"items"`
}

// actingIn applies the company_id query parameter, which lets an Admin create
// inventory inside a chosen company.
func actingIn(r *http.Request, actor core.User) (core.User, error) {
	id := r.URL.Query().Get("company_id")
	if id == "" {
		return actor, nil
	}
	return core.ActingIn(actor, id)
}
