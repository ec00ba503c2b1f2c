// Package storage implements the Storage Manager (SM): the authoritative,
// serializable mutator of Books and Loans for one site (spec §4.1).
//
// It is grounded on the teacher's internal/store.Store: a single
// in-process lock guarding the authoritative state, atomic tmp+rename
// persistence, and empty-on-corrupt-or-missing startup recovery. The
// teacher's WAL is split out into the separate oplog package here
// (spec §4.2 treats the Operation Log as its own component with its own
// lock), so Books/Loans persistence and the append-only journal are two
// independent transactional units, per spec §5's "shared-resource
// policy".
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/biblored/internal/metrics"
	"github.com/cuemby/biblored/internal/oplog"
	"github.com/cuemby/biblored/internal/wire"
)

const dateLayout = "2006-01-02"

// Book is one catalog entry.
type Book struct {
	Code      string `json:"code"`
	Title     string `json:"title"`
	Available bool   `json:"available"`
}

// Loan is one active checkout, identified by the (Code, UserID) pair.
type Loan struct {
	Code      string `json:"code"`
	UserID    string `json:"userId"`
	DueDate   string `json:"dueDate"`
	Renewals  int    `json:"renewals"`
}

type loanKey struct {
	code   string
	userID string
}

// Result is the outcome of a single SM operation: business-rule failures
// are values, never exceptions, per spec §9's redesign flag.
type Result struct {
	OK       bool
	Reason   string
	DueDate  string
	Renewals int
	// Applied is the OpLogEntry written for this mutation, populated only
	// when OK is true. The caller (the process hosting both SM and RP,
	// per spec §4.3's "SM applies mutation, appends to OL, then RP
	// publishes") uses this to drive replication without SM importing
	// the Replicator package itself.
	Applied wire.OpLogEntry
}

// Manager is the Storage Manager for one site. All three public
// operations execute under a single exclusive lock guarding Books and
// Loans as one unit (spec §4.1, §5).
type Manager struct {
	mu     sync.Mutex
	books  map[string]Book
	loans  map[loanKey]Loan
	dataDir string
	nodeID  string
	ol      *oplog.Log
	maxRenewals int
	loanDuration  time.Duration
	now func() time.Time
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithClock overrides the wall-clock source; used by tests to pin
// "today" to a fixed date.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New opens (or creates) a Storage Manager rooted at dataDir. On corrupt
// or missing books/loans files it treats the store as empty and
// proceeds, per spec §4.1's persistence contract.
func New(dataDir, nodeID string, ol *oplog.Log, maxRenewals int, loanDurationDays int, opts ...Option) (*Manager, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	m := &Manager{
		books:        make(map[string]Book),
		loans:        make(map[loanKey]Loan),
		dataDir:      dataDir,
		nodeID:       nodeID,
		ol:           ol,
		maxRenewals:  maxRenewals,
		loanDuration: time.Duration(loanDurationDays) * 24 * time.Hour,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.loadBooks(); err != nil {
		// Corrupt file: treat as empty, per spec.
		m.books = make(map[string]Book)
	}
	if err := m.loadLoans(); err != nil {
		m.loans = make(map[loanKey]Loan)
	}
	return m, nil
}

// Seed inserts or replaces book catalog entries. Used at startup by
// seed-data tooling (out of scope per spec §1) and by tests.
func (m *Manager) Seed(books []Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range books {
		m.books[b.Code] = b
	}
	return m.persistBooks()
}

func (m *Manager) today() string {
	return m.now().Format(dateLayout)
}

// CheckAndLoan implements spec §4.1's checkAndLoan operation.
func (m *Manager) CheckAndLoan(id, code, userID string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	book, ok := m.books[code]
	if !ok {
		res := Result{OK: false, Reason: "book not found"}
		m.recordOutcome(wire.OpPrestar, res)
		return res, nil
	}
	if !book.Available {
		res := Result{OK: false, Reason: "not available"}
		m.recordOutcome(wire.OpPrestar, res)
		return res, nil
	}
	key := loanKey{code: code, userID: userID}
	if _, exists := m.loans[key]; exists {
		res := Result{OK: false, Reason: "already loaned to user"}
		m.recordOutcome(wire.OpPrestar, res)
		return res, nil
	}

	dueDate := m.now().Add(m.loanDuration).Format(dateLayout)

	book.Available = false
	m.books[code] = book
	m.loans[key] = Loan{Code: code, UserID: userID, DueDate: dueDate, Renewals: 0}

	if err := m.persistAll(); err != nil {
		// Roll back the in-memory mutation: persistence failed, so the
		// mutation must not be visible (spec §7 StorageIOError).
		delete(m.loans, key)
		book.Available = true
		m.books[code] = book
		return Result{}, fmt.Errorf("persist: %w", err)
	}

	entry, err := m.appendOp(id, wire.OpPrestar, code, userID, "")
	if err != nil {
		return Result{}, fmt.Errorf("append oplog: %w", err)
	}

	res := Result{OK: true, DueDate: dueDate, Applied: entry}
	m.recordOutcome(wire.OpPrestar, res)
	return res, nil
}

// Renovar implements spec §4.1's renovar operation. dueDateNew is
// computed by CC (today + RENEW_DURATION_DAYS), not recomputed here —
// spec §4.1 and §9 are explicit that SM does not recompute it.
func (m *Manager) Renovar(id, code, userID, dueDateNew string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := loanKey{code: code, userID: userID}
	loan, ok := m.loans[key]
	if !ok {
		res := Result{OK: false, Reason: "no active loan"}
		m.recordOutcome(wire.OpRenovar, res)
		return res, nil
	}
	if loan.Renewals >= m.maxRenewals {
		res := Result{OK: false, Reason: "max renewals reached"}
		m.recordOutcome(wire.OpRenovar, res)
		return res, nil
	}

	prevDue, prevRenewals := loan.DueDate, loan.Renewals
	loan.DueDate = dueDateNew
	loan.Renewals++
	m.loans[key] = loan

	if err := m.persistLoans(); err != nil {
		loan.DueDate, loan.Renewals = prevDue, prevRenewals
		m.loans[key] = loan
		return Result{}, fmt.Errorf("persist: %w", err)
	}

	entry, err := m.appendOp(id, wire.OpRenovar, code, userID, dueDateNew)
	if err != nil {
		return Result{}, fmt.Errorf("append oplog: %w", err)
	}

	res := Result{OK: true, DueDate: loan.DueDate, Renewals: loan.Renewals, Applied: entry}
	m.recordOutcome(wire.OpRenovar, res)
	return res, nil
}

// Devolver implements spec §4.1's devolver operation.
func (m *Manager) Devolver(id, code, userID string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := loanKey{code: code, userID: userID}
	prevLoan, ok := m.loans[key]
	if !ok {
		res := Result{OK: false, Reason: "no active loan"}
		m.recordOutcome(wire.OpDevolver, res)
		return res, nil
	}

	book, hasBook := m.books[code]
	wasAvailable := hasBook && book.Available

	delete(m.loans, key)
	if hasBook {
		book.Available = true
		m.books[code] = book
	}

	if err := m.persistAll(); err != nil {
		m.loans[key] = prevLoan
		if hasBook {
			book.Available = wasAvailable
			m.books[code] = book
		}
		return Result{}, fmt.Errorf("persist: %w", err)
	}

	entry, err := m.appendOp(id, wire.OpDevolver, code, userID, "")
	if err != nil {
		return Result{}, fmt.Errorf("append oplog: %w", err)
	}

	res := Result{OK: true, Applied: entry}
	m.recordOutcome(wire.OpDevolver, res)
	return res, nil
}

// recordOutcome increments the applied/rejected counters for one local
// operation (spec SPEC_FULL.md §2's additive Prometheus surface).
// Infrastructure errors (persist/oplog failures) are not business
// outcomes and are never passed here.
func (m *Manager) recordOutcome(op wire.OpKind, res Result) {
	if res.OK {
		metrics.OperationsAppliedTotal.WithLabelValues(m.nodeID, string(op)).Inc()
		return
	}
	if res.Reason != "" {
		metrics.OperationsRejectedTotal.WithLabelValues(m.nodeID, string(op), res.Reason).Inc()
	}
}

// appendOp builds and appends the OpLogEntry for a just-applied local
// mutation, returning the entry so the caller can hand it to the
// Replicator (Manager itself never imports internal/replicator, per
// spec §5's dependency order). Idempotency duplicate checks belong to
// oplog.Log itself; here we only construct the entry.
func (m *Manager) appendOp(id string, op wire.OpKind, code, userID, dueDateNew string) (wire.OpLogEntry, error) {
	entry := wire.OpLogEntry{
		ID:         id,
		Op:         op,
		Code:       code,
		UserID:     userID,
		DueDateNew: dueDateNew,
		TsMs:       m.now().UnixMilli(),
		SourceNode: m.nodeID,
	}
	if _, err := m.ol.AppendOperation(entry); err != nil {
		return wire.OpLogEntry{}, err
	}
	return entry, nil
}

// ApplyRemote re-applies a replicated operation through the same
// business-rule path, with a remote=true marker on the OL entry and
// without re-publishing (loop prevention, spec §3/§4.3). It is called
// by the Replicator's inbound consumer, never by a client-facing actor.
func (m *Manager) ApplyRemote(entry wire.OpLogEntry) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res Result
	var err error

	switch entry.Op {
	case wire.OpPrestar:
		res, err = m.checkAndLoanLocked(entry.Code, entry.UserID)
	case wire.OpRenovar:
		res, err = m.renovarLocked(entry.Code, entry.UserID, entry.DueDateNew)
	case wire.OpDevolver:
		res, err = m.devolverLocked(entry.Code, entry.UserID)
	default:
		return Result{OK: false, Reason: "unknown op"}, nil
	}
	if err != nil || !res.OK {
		return res, err
	}

	remoteEntry := entry
	remoteEntry.Remote = true
	if remoteEntry.TsMs == 0 {
		remoteEntry.TsMs = m.now().UnixMilli()
	}
	if _, err := m.ol.AppendOperation(remoteEntry); err != nil {
		return Result{}, fmt.Errorf("append remote oplog: %w", err)
	}
	return res, nil
}

// the *Locked variants duplicate the business rules of the exported
// methods without re-acquiring m.mu (already held by ApplyRemote) and
// without themselves appending to the oplog (ApplyRemote appends once,
// with the remote marker, after confirming success).
func (m *Manager) checkAndLoanLocked(code, userID string) (Result, error) {
	book, ok := m.books[code]
	if !ok {
		return Result{OK: false, Reason: "book not found"}, nil
	}
	if !book.Available {
		return Result{OK: false, Reason: "not available"}, nil
	}
	key := loanKey{code: code, userID: userID}
	if _, exists := m.loans[key]; exists {
		return Result{OK: false, Reason: "already loaned to user"}, nil
	}

	dueDate := m.now().Add(m.loanDuration).Format(dateLayout)
	book.Available = false
	m.books[code] = book
	m.loans[key] = Loan{Code: code, UserID: userID, DueDate: dueDate, Renewals: 0}

	if err := m.persistAll(); err != nil {
		delete(m.loans, key)
		book.Available = true
		m.books[code] = book
		return Result{}, fmt.Errorf("persist: %w", err)
	}
	return Result{OK: true, DueDate: dueDate}, nil
}

func (m *Manager) renovarLocked(code, userID, dueDateNew string) (Result, error) {
	key := loanKey{code: code, userID: userID}
	loan, ok := m.loans[key]
	if !ok {
		return Result{OK: false, Reason: "no active loan"}, nil
	}
	if loan.Renewals >= m.maxRenewals {
		return Result{OK: false, Reason: "max renewals reached"}, nil
	}
	prevDue, prevRenewals := loan.DueDate, loan.Renewals
	loan.DueDate = dueDateNew
	loan.Renewals++
	m.loans[key] = loan

	if err := m.persistLoans(); err != nil {
		loan.DueDate, loan.Renewals = prevDue, prevRenewals
		m.loans[key] = loan
		return Result{}, fmt.Errorf("persist: %w", err)
	}
	return Result{OK: true, DueDate: loan.DueDate, Renewals: loan.Renewals}, nil
}

func (m *Manager) devolverLocked(code, userID string) (Result, error) {
	key := loanKey{code: code, userID: userID}
	prevLoan, ok := m.loans[key]
	if !ok {
		return Result{OK: false, Reason: "no active loan"}, nil
	}
	book, hasBook := m.books[code]
	wasAvailable := hasBook && book.Available

	delete(m.loans, key)
	if hasBook {
		book.Available = true
		m.books[code] = book
	}

	if err := m.persistAll(); err != nil {
		m.loans[key] = prevLoan
		if hasBook {
			book.Available = wasAvailable
			m.books[code] = book
		}
		return Result{}, fmt.Errorf("persist: %w", err)
	}
	return Result{OK: true}, nil
}

// Stats reports point-in-time counters for the §4.2-referenced
// observability endpoint (see SPEC_FULL.md §3).
type Stats struct {
	BookCount        int `json:"bookCount"`
	LoanCount        int `json:"loanCount"`
	OplogSize        int `json:"oplogSize"`
	LastAppliedIndex int `json:"lastAppliedIndex"`
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	ol := m.ol.StatsSnapshot()
	return Stats{BookCount: len(m.books), LoanCount: len(m.loans), OplogSize: ol.Size, LastAppliedIndex: ol.LastAppliedIndex}
}

// BookView returns a snapshot copy of one book, for tests and the
// observability endpoint.
func (m *Manager) BookView(code string) (Book, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[code]
	return b, ok
}

// LoanView returns a snapshot copy of one loan.
func (m *Manager) LoanView(code, userID string) (Loan, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loans[loanKey{code: code, userID: userID}]
	return l, ok
}

// ─── Persistence ──────────────────────────────────────────────────────────

func (m *Manager) booksPath() string { return filepath.Join(m.dataDir, "books.json") }
func (m *Manager) loansPath() string { return filepath.Join(m.dataDir, "loans.json") }

func (m *Manager) persistAll() error {
	if err := m.persistBooks(); err != nil {
		return err
	}
	return m.persistLoans()
}

func (m *Manager) persistBooks() error {
	out := make([]Book, 0, len(m.books))
	for _, b := range m.books {
		out = append(out, b)
	}
	return atomicWriteJSON(m.booksPath(), out)
}

func (m *Manager) persistLoans() error {
	out := make([]Loan, 0, len(m.loans))
	for _, l := range m.loans {
		out = append(out, l)
	}
	return atomicWriteJSON(m.loansPath(), out)
}

func (m *Manager) loadBooks() error {
	var list []Book
	if err := readJSON(m.booksPath(), &list); err != nil {
		return err
	}
	for _, b := range list {
		m.books[b.Code] = b
	}
	return nil
}

func (m *Manager) loadLoans() error {
	var list []Loan
	if err := readJSON(m.loansPath(), &list); err != nil {
		return err
	}
	for _, l := range list {
		m.loans[loanKey{code: l.Code, userID: l.UserID}] = l
	}
	return nil
}

// atomicWriteJSON writes data to <path>.tmp then renames it over path,
// per spec §4.1's persistence contract: "write <file>.tmp, rename over
// <file>".
func atomicWriteJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, v)
}
