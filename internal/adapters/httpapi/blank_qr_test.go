package httpapi_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"vivarium/internal/adapters/httpapi"
	"vivarium/internal/core"
	"vivarium/internal/infra/persistence/memory"
	"vivarium/pkg/domain"
)

// qrQuotaStore lets a fixed number of QR code inserts through and fails the
// rest.
type qrQuotaStore struct {
	domain.PersistentStore
	left *int
}

func (s qrQuotaStore) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	return s.PersistentStore.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return fn(qrQuotaTx{Transaction: tx, left: s.left})
	})
}

type qrQuotaTx struct {
	domain.Transaction
	left *int
}

func (t qrQuotaTx) CreateQRCode(q domain.QRCode) (domain.QRCode, error) {
	if *t.left == 0 {
		return domain.QRCode{}, errors.New("qr_codes: no space left")
	}
	*t.left--
	return t.Transaction.CreateQRCode(q)
}

type captureLogger struct {
	mu     sync.Mutex
	errors map[string][]any
}

func (l *captureLogger) Debug(string, ...any) {}
func (l *captureLogger) Info(string, ...any)  {}
func (l *captureLogger) Warn(string, ...any)  {}
func (l *captureLogger) Error(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.errors == nil {
		l.errors = make(map[string][]any)
	}
	l.errors[msg] = args
}

func TestGenerateBlankReportsCodesCreatedBeforeFailure(t *testing.T) {
	ctx := context.Background()
	left := 2
	store := qrQuotaStore{PersistentStore: memory.NewStore(core.NewDefaultRulesEngine()), left: &left}
	svc := core.NewService(store, core.WithPublicBaseURL("https://lab.example"))
	admin, _, err := svc.EnsureAdmin(ctx, "admin@lab.example", "Admin")
	if err != nil {
		t.Fatalf("bootstrap admin: %v", err)
	}
	company, err := svc.CreateCompany(ctx, admin, core.CompanyInput{Name: "Acme Labs"})
	if err != nil {
		t.Fatalf("company: %v", err)
	}
	email, name, role := "director@lab.example", "director", domain.RoleDirector
	director, err := svc.CreateUserInCompany(ctx, admin, company.ID, domain.UserPatch{Email: &email, Name: &name, Role: &role})
	if err != nil {
		t.Fatalf("director: %v", err)
	}
	logger := &captureLogger{}
	server, err := httpapi.NewServer(svc, httpapi.Config{
		JWTSecret:          secret,
		PrincipalCacheSize: 16,
		PrincipalCacheTTL:  time.Minute,
		Registry:           prometheus.NewRegistry(),
		Logger:             logger,
	})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	f := &fixture{t: t, svc: svc, server: server, admin: admin, company: company, director: director}

	rec := f.do(&f.director, http.MethodPost, "/api/qr-codes/generate-blank", `{"count":5}`)
	expectStatus(t, rec, http.StatusInternalServerError)
	body := decode[struct {
		Error string          `json:"error"`
		Items []domain.QRCode `json:"items"`
	}](t, rec)
	if body.Error == "" || len(body.Items) != 2 {
		t.Fatalf("expected error with the 2 created codes, got %+v", body)
	}

	args, ok := logger.errors["blank qr generation stopped early"]
	if !ok {
		t.Fatalf("expected the partial batch to be logged")
	}
	var logged []string
	for i := 0; i+1 < len(args); i += 2 {
		if args[i] == "created" {
			logged, _ = args[i+1].([]string)
		}
	}
	if len(logged) != 2 || logged[0] != body.Items[0].ID || logged[1] != body.Items[1].ID {
		t.Fatalf("expected created ids in log, got %v", args)
	}

	list := decode[items[domain.QRCode]](t, f.do(&f.director, http.MethodGet, "/api/qr-codes", ""))
	if len(list.Items) != 2 {
		t.Fatalf("expected the 2 created codes to persist, got %d", len(list.Items))
	}
}

func TestAdminCreatesInventoryInAChosenCompany(t *testing.T) {
	f := setup(t)
	rec := f.do(&f.admin, http.MethodPost, "/api/cages", `{"cage_number":"C1"}`)
	expectStatus(t, rec, http.StatusBadRequest)
	if body := decode[errorResponse](t, rec); len(body.Fields) != 1 || body.Fields[0].Field != "company_id" {
		t.Fatalf("expected company_id error, got %+v", body)
	}
	expectStatus(t, f.do(&f.admin, http.MethodPost, "/api/cages?company_id=missing", `{"cage_number":"C1"}`), http.StatusBadRequest)

	rec = f.do(&f.admin, http.MethodPost, "/api/cages?company_id="+f.company.ID, `{"cage_number":"C1"}`)
	expectStatus(t, rec, http.StatusCreated)
	cage := decode[domain.Cage](t, rec)
	if cage.CompanyID == nil || *cage.CompanyID != f.company.ID {
		t.Fatalf("expected cage in %s, got %v", f.company.ID, cage.CompanyID)
	}
	expectStatus(t, f.do(&f.employee, http.MethodGet, "/api/cages/"+cage.ID, ""), http.StatusOK)

	rec = f.do(&f.admin, http.MethodPost, "/api/qr-codes/generate-blank?company_id="+f.company.ID, `{"count":1}`)
	expectStatus(t, rec, http.StatusCreated)

	expectStatus(t, f.do(&f.employee, http.MethodPost, "/api/cages?company_id=other", `{"cage_number":"C2"}`), http.StatusForbidden)
}
