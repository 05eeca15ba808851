// Package memory provides an in-memory implementation of the persistence
// store used for tests, ephemeral environments and as the transactional core
// of the snapshotting sqlite/postgres stores.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"vivarium/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Company aliases domain.Company.
	Company = domain.Company
	// Animal aliases domain.Animal.
	Animal = domain.Animal
	// Cage aliases domain.Cage.
	Cage = domain.Cage
	// Strain aliases domain.Strain.
	Strain = domain.Strain
	// Genotype aliases domain.Genotype.
	Genotype = domain.Genotype
	// QRCode aliases domain.QRCode.
	QRCode = domain.QRCode
	// User aliases domain.User.
	User = domain.User
	// AuditLog aliases domain.AuditLog.
	AuditLog = domain.AuditLog
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	companies map[string]Company
	animals   map[string]Animal
	cages     map[string]Cage
	strains   map[string]Strain
	genotypes map[string]Genotype
	qrCodes   map[string]QRCode
	users     map[string]User
	auditLogs []AuditLog
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Companies map[string]Company  `json:"companies"`
	Animals   map[string]Animal   `json:"animals"`
	Cages     map[string]Cage     `json:"cages"`
	Strains   map[string]Strain   `json:"strains"`
	Genotypes map[string]Genotype `json:"genotypes"`
	QRCodes   map[string]QRCode   `json:"qr_codes"`
	Users     map[string]User     `json:"users"`
	AuditLogs []AuditLog          `json:"audit_logs"`
}

func newMemoryState() memoryState {
	return memoryState{
		companies: make(map[string]Company),
		animals:   make(map[string]Animal),
		cages:     make(map[string]Cage),
		strains:   make(map[string]Strain),
		genotypes: make(map[string]Genotype),
		qrCodes:   make(map[string]QRCode),
		users:     make(map[string]User),
	}
}

func (s memoryState) clone() memoryState {
	return memoryState{
		companies: cloneMap(s.companies, cloneCompany),
		animals:   cloneMap(s.animals, cloneAnimal),
		cages:     cloneMap(s.cages, cloneCage),
		strains:   cloneMap(s.strains, cloneStrain),
		genotypes: cloneMap(s.genotypes, cloneGenotype),
		qrCodes:   cloneMap(s.qrCodes, cloneQRCode),
		users:     cloneMap(s.users, cloneUser),
		auditLogs: shareAuditLogs(s.auditLogs),
	}
}

// shareAuditLogs reuses the committed rows, which are never mutated. The
// capacity cap makes appends in a transaction copy instead of writing into
// the shared array.
func shareAuditLogs(in []AuditLog) []AuditLog {
	return in[:len(in):len(in)]
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	cp := state.clone()
	return Snapshot{
		Companies: cp.companies,
		Animals:   cp.animals,
		Cages:     cp.cages,
		Strains:   cp.strains,
		Genotypes: cp.genotypes,
		QRCodes:   cp.qrCodes,
		Users:     cp.users,
		AuditLogs: cloneAuditLogs(state.auditLogs),
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := memoryState{
		companies: s.Companies,
		animals:   s.Animals,
		cages:     s.Cages,
		strains:   s.Strains,
		genotypes: s.Genotypes,
		qrCodes:   s.QRCodes,
		users:     s.Users,
		auditLogs: s.AuditLogs,
	}
	state = normalizeState(state).clone()
	state.auditLogs = cloneAuditLogs(s.AuditLogs)
	return state
}

// normalizeState fills nil buckets so snapshots written by older builds load cleanly.
func normalizeState(state memoryState) memoryState {
	if state.companies == nil {
		state.companies = map[string]Company{}
	}
	if state.animals == nil {
		state.animals = map[string]Animal{}
	}
	if state.cages == nil {
		state.cages = map[string]Cage{}
	}
	if state.strains == nil {
		state.strains = map[string]Strain{}
	}
	if state.genotypes == nil {
		state.genotypes = map[string]Genotype{}
	}
	if state.qrCodes == nil {
		state.qrCodes = map[string]QRCode{}
	}
	if state.users == nil {
		state.users = map[string]User{}
	}
	return state
}

func cloneMap[T any](in map[string]T, clone func(T) T) map[string]T {
	out := make(map[string]T, len(in))
	for k, v := range in {
		out[k] = clone(v)
	}
	return out
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTrash(s domain.SoftDelete) domain.SoftDelete {
	return domain.SoftDelete{DeletedAt: cloneTime(s.DeletedAt), DeletedBy: cloneString(s.DeletedBy)}
}

func cloneTenancy(t domain.Tenancy) domain.Tenancy {
	return domain.Tenancy{CompanyID: cloneString(t.CompanyID)}
}

func cloneCompany(c Company) Company { return c }

func cloneAnimal(a Animal) Animal {
	cp := a
	cp.Tenancy = cloneTenancy(a.Tenancy)
	cp.SoftDelete = cloneTrash(a.SoftDelete)
	cp.CageID = cloneString(a.CageID)
	cp.StrainID = cloneString(a.StrainID)
	cp.GenotypeID = cloneString(a.GenotypeID)
	cp.BirthDate = cloneTime(a.BirthDate)
	return cp
}

func cloneCage(c Cage) Cage {
	cp := c
	cp.Tenancy = cloneTenancy(c.Tenancy)
	cp.SoftDelete = cloneTrash(c.SoftDelete)
	cp.StrainID = cloneString(c.StrainID)
	return cp
}

func cloneStrain(s Strain) Strain {
	cp := s
	cp.Tenancy = cloneTenancy(s.Tenancy)
	cp.SoftDelete = cloneTrash(s.SoftDelete)
	return cp
}

func cloneGenotype(g Genotype) Genotype {
	cp := g
	cp.Tenancy = cloneTenancy(g.Tenancy)
	cp.SoftDelete = cloneTrash(g.SoftDelete)
	return cp
}

func cloneQRCode(q QRCode) QRCode {
	cp := q
	cp.Tenancy = cloneTenancy(q.Tenancy)
	cp.SoftDelete = cloneTrash(q.SoftDelete)
	cp.CageID = cloneString(q.CageID)
	cp.ClaimedAt = cloneTime(q.ClaimedAt)
	cp.ClaimedBy = cloneString(q.ClaimedBy)
	return cp
}

func cloneUser(u User) User {
	cp := u
	cp.Tenancy = cloneTenancy(u.Tenancy)
	cp.SoftDelete = cloneTrash(u.SoftDelete)
	return cp
}

func cloneAuditLog(l AuditLog) AuditLog {
	cp := l
	cp.CompanyID = cloneString(l.CompanyID)
	if l.Changes != nil {
		cp.Changes = append([]byte(nil), l.Changes...)
	}
	return cp
}

func cloneAuditLogs(in []AuditLog) []AuditLog {
	out := make([]AuditLog, len(in))
	for i, l := range in {
		out[i] = cloneAuditLog(l)
	}
	return out
}

// Store provides an in-memory transactional store for the domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithNow overrides the store clock used for created/updated timestamps.
func WithNow(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.nowFn = fn
		}
	}
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ExportEntities is ExportState without the audit log.
func (s *Store) ExportEntities() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entities := s.state
	entities.auditLogs = nil
	return snapshotFromMemoryState(entities)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// AuditLogCount returns the number of committed audit rows.
func (s *Store) AuditLogCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.auditLogs)
}

// AuditLogsFrom returns copies of the committed audit rows from offset n on.
func (s *Store) AuditLogsFrom(n int) []AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n < 0 {
		n = 0
	}
	if n >= len(s.state.auditLogs) {
		return nil
	}
	return cloneAuditLogs(s.state.auditLogs[n:])
}

// Refresh replaces every entity bucket with the snapshot's and appends the
// given audit rows to the committed log. Snapshot.AuditLogs is ignored.
func (s *Store) Refresh(entities Snapshot, appended []AuditLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := memoryStateFromSnapshot(entities)
	next.auditLogs = append(shareAuditLogs(s.state.auditLogs), cloneAuditLogs(appended)...)
	s.state = next
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// RunInTransaction executes fn within a transactional copy of the store state.
// Writers are serialized, so conditional updates inside fn are atomic.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil && len(tx.changes) > 0 {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()

	return fn(newTransactionView(&snapshot))
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// Now returns the transaction timestamp.
func (tx *transaction) Now() time.Time { return tx.now }

type entityPtr[T any] interface {
	*T
	RecordID() string
	StampCreated(id string, now time.Time)
	StampUpdated(now time.Time)
}

func insertRecord[T any, P entityPtr[T]](tx *transaction, bucket map[string]T, entity domain.EntityType, rec T, clone func(T) T) (T, error) {
	var zero T
	id := P(&rec).RecordID()
	if id == "" {
		id = tx.store.newID()
	}
	if _, exists := bucket[id]; exists {
		return zero, fmt.Errorf("%s %q already exists", entity, id)
	}
	P(&rec).StampCreated(id, tx.now)
	bucket[id] = clone(rec)
	tx.recordChange(Change{Entity: entity, Action: domain.ActionCreate, After: clone(rec)})
	return clone(rec), nil
}

func updateRecord[T any, P entityPtr[T]](tx *transaction, bucket map[string]T, entity domain.EntityType, id string, mutator func(*T) error, clone func(T) T) (T, error) {
	var zero T
	current, ok := bucket[id]
	if !ok {
		return zero, domain.ErrNotFound{Entity: entity, ID: id}
	}
	before := clone(current)
	working := clone(current)
	if err := mutator(&working); err != nil {
		return zero, err
	}
	if P(&working).RecordID() != id {
		return zero, fmt.Errorf("%s %q: id is immutable", entity, id)
	}
	P(&working).StampUpdated(tx.now)
	bucket[id] = clone(working)
	tx.recordChange(Change{Entity: entity, Action: domain.ActionUpdate, Before: before, After: clone(working)})
	return clone(working), nil
}

func deleteRecord[T any](tx *transaction, bucket map[string]T, entity domain.EntityType, id string, clone func(T) T) error {
	current, ok := bucket[id]
	if !ok {
		return domain.ErrNotFound{Entity: entity, ID: id}
	}
	delete(bucket, id)
	tx.recordChange(Change{Entity: entity, Action: domain.ActionDelete, Before: clone(current)})
	return nil
}

// CreateCompany stores a new tenant.
func (tx *transaction) CreateCompany(c Company) (Company, error) {
	return insertRecord(tx, tx.state.companies, domain.EntityCompany, c, cloneCompany)
}

// CreateAnimal stores a new animal within the transaction.
func (tx *transaction) CreateAnimal(a Animal) (Animal, error) {
	return insertRecord(tx, tx.state.animals, domain.EntityAnimal, a, cloneAnimal)
}

// UpdateAnimal mutates an animal using the provided mutator function.
func (tx *transaction) UpdateAnimal(id string, mutator func(*Animal) error) (Animal, error) {
	return updateRecord(tx, tx.state.animals, domain.EntityAnimal, id, mutator, cloneAnimal)
}

// DeleteAnimal physically removes an animal.
func (tx *transaction) DeleteAnimal(id string) error {
	return deleteRecord(tx, tx.state.animals, domain.EntityAnimal, id, cloneAnimal)
}

// CreateCage stores a new cage.
func (tx *transaction) CreateCage(c Cage) (Cage, error) {
	return insertRecord(tx, tx.state.cages, domain.EntityCage, c, cloneCage)
}

// UpdateCage mutates an existing cage.
func (tx *transaction) UpdateCage(id string, mutator func(*Cage) error) (Cage, error) {
	return updateRecord(tx, tx.state.cages, domain.EntityCage, id, mutator, cloneCage)
}

// DeleteCage physically removes a cage. Animals referencing it keep a dangling reference.
func (tx *transaction) DeleteCage(id string) error {
	return deleteRecord(tx, tx.state.cages, domain.EntityCage, id, cloneCage)
}

// CreateStrain stores a new strain.
func (tx *transaction) CreateStrain(s Strain) (Strain, error) {
	return insertRecord(tx, tx.state.strains, domain.EntityStrain, s, cloneStrain)
}

// UpdateStrain mutates an existing strain.
func (tx *transaction) UpdateStrain(id string, mutator func(*Strain) error) (Strain, error) {
	return updateRecord(tx, tx.state.strains, domain.EntityStrain, id, mutator, cloneStrain)
}

// DeleteStrain physically removes a strain.
func (tx *transaction) DeleteStrain(id string) error {
	return deleteRecord(tx, tx.state.strains, domain.EntityStrain, id, cloneStrain)
}

// CreateGenotype stores a new genotype.
func (tx *transaction) CreateGenotype(g Genotype) (Genotype, error) {
	return insertRecord(tx, tx.state.genotypes, domain.EntityGenotype, g, cloneGenotype)
}

// UpdateGenotype mutates an existing genotype.
func (tx *transaction) UpdateGenotype(id string, mutator func(*Genotype) error) (Genotype, error) {
	return updateRecord(tx, tx.state.genotypes, domain.EntityGenotype, id, mutator, cloneGenotype)
}

// DeleteGenotype physically removes a genotype.
func (tx *transaction) DeleteGenotype(id string) error {
	return deleteRecord(tx, tx.state.genotypes, domain.EntityGenotype, id, cloneGenotype)
}

// CreateQRCode stores a new QR code.
func (tx *transaction) CreateQRCode(q QRCode) (QRCode, error) {
	return insertRecord(tx, tx.state.qrCodes, domain.EntityQRCode, q, cloneQRCode)
}

// UpdateQRCode mutates an existing QR code.
func (tx *transaction) UpdateQRCode(id string, mutator func(*QRCode) error) (QRCode, error) {
	return updateRecord(tx, tx.state.qrCodes, domain.EntityQRCode, id, mutator, cloneQRCode)
}

// DeleteQRCode physically removes a QR code.
func (tx *transaction) DeleteQRCode(id string) error {
	return deleteRecord(tx, tx.state.qrCodes, domain.EntityQRCode, id, cloneQRCode)
}

// CreateUser stores a new user.
func (tx *transaction) CreateUser(u User) (User, error) {
	return insertRecord(tx, tx.state.users, domain.EntityUser, u, cloneUser)
}

// UpdateUser mutates an existing user.
func (tx *transaction) UpdateUser(id string, mutator func(*User) error) (User, error) {
	return updateRecord(tx, tx.state.users, domain.EntityUser, id, mutator, cloneUser)
}

// DeleteUser physically removes a user.
func (tx *transaction) DeleteUser(id string) error {
	return deleteRecord(tx, tx.state.users, domain.EntityUser, id, cloneUser)
}

// AppendAuditLog appends an immutable audit row.
func (tx *transaction) AppendAuditLog(l AuditLog) (AuditLog, error) {
	if l.ID == "" {
		l.ID = tx.store.newID()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = tx.now
	}
	tx.state.auditLogs = append(tx.state.auditLogs, cloneAuditLog(l))
	return cloneAuditLog(l), nil
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func listSorted[T any](bucket map[string]T, clone func(T) T) []T {
	ids := make([]string, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, clone(bucket[id]))
	}
	return out
}

func find[T any](bucket map[string]T, id string, clone func(T) T) (T, bool) {
	v, ok := bucket[id]
	if !ok {
		var zero T
		return zero, false
	}
	return clone(v), true
}

// ListCompanies returns all tenants ordered by id.
func (v transactionView) ListCompanies() []Company {
	return listSorted(v.state.companies, cloneCompany)
}

// FindCompany retrieves a tenant by id.
func (v transactionView) FindCompany(id string) (Company, bool) {
	return find(v.state.companies, id, cloneCompany)
}

// ListAnimals returns all animals, trashed ones included.
func (v transactionView) ListAnimals() []Animal {
	return listSorted(v.state.animals, cloneAnimal)
}

// FindAnimal retrieves an animal by id.
func (v transactionView) FindAnimal(id string) (Animal, bool) {
	return find(v.state.animals, id, cloneAnimal)
}

// ListCages returns all cages.
func (v transactionView) ListCages() []Cage {
	return listSorted(v.state.cages, cloneCage)
}

// FindCage retrieves a cage by id.
func (v transactionView) FindCage(id string) (Cage, bool) {
	return find(v.state.cages, id, cloneCage)
}

// ListStrains returns all strains.
func (v transactionView) ListStrains() []Strain {
	return listSorted(v.state.strains, cloneStrain)
}

// FindStrain retrieves a strain by id.
func (v transactionView) FindStrain(id string) (Strain, bool) {
	return find(v.state.strains, id, cloneStrain)
}

// ListGenotypes returns all genotypes.
func (v transactionView) ListGenotypes() []Genotype {
	return listSorted(v.state.genotypes, cloneGenotype)
}

// FindGenotype retrieves a genotype by id.
func (v transactionView) FindGenotype(id string) (Genotype, bool) {
	return find(v.state.genotypes, id, cloneGenotype)
}

// ListQRCodes returns all QR codes.
func (v transactionView) ListQRCodes() []QRCode {
	return listSorted(v.state.qrCodes, cloneQRCode)
}

// FindQRCode retrieves a QR code by id.
func (v transactionView) FindQRCode(id string) (QRCode, bool) {
	return find(v.state.qrCodes, id, cloneQRCode)
}

// ListUsers returns all users.
func (v transactionView) ListUsers() []User {
	return listSorted(v.state.users, cloneUser)
}

// FindUser retrieves a user by id.
func (v transactionView) FindUser(id string) (User, bool) {
	return find(v.state.users, id, cloneUser)
}

// ListAuditLogs returns audit rows in append order.
func (v transactionView) ListAuditLogs() []AuditLog {
	return cloneAuditLogs(v.state.auditLogs)
}

// BucketNames lists the snapshot buckets in persistence order.
var BucketNames = []string{
	"companies",
	"animals",
	"cages",
	"strains",
	"genotypes",
	"qr_codes",
	"users",
	"audit_logs",
}

// EntityBucketNames lists the mutable buckets. Audit rows are append-only and
// persisted row by row instead.
var EntityBucketNames = []string{
	"companies",
	"animals",
	"cages",
	"strains",
	"genotypes",
	"qr_codes",
	"users",
}

// Bucket returns a pointer to the snapshot field backing the named bucket,
// suitable for json.Marshal and json.Unmarshal. Unknown names return nil.
func (s *Snapshot) Bucket(name string) any {
	switch name {
	case "companies":
		return &s.Companies
	case "animals":
		return &s.Animals
	case "cages":
		return &s.Cages
	case "strains":
		return &s.Strains
	case "genotypes":
		return &s.Genotypes
	case "qr_codes":
		return &s.QRCodes
	case "users":
		return &s.Users
	case "audit_logs":
		return &s.AuditLogs
	}
	return nil
}
