package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quickscripts/clinic/internal/domain"
	"github.com/quickscripts/clinic/pkg/auth"
	"github.com/quickscripts/clinic/pkg/metrics"
)

// FileService is the flat-file implementation of MedicineService. The
// whole patient collection (requests nested inline) and the whole user
// collection live in memory and are checkpointed to two JSON snapshot
// files after every mutation — a full rewrite, not a log. A missing or
// corrupt snapshot at construction time degrades to an empty store so
// first runs need no setup.
//
// Every read and mutation returns detached copies of the stored
// records; mutating a returned entity never touches store state until
// it is handed back through an update operation. A failed snapshot
// write rolls the in-memory change back, so an errored mutation leaves
// no partial effect.
//
// Identity values come from in-memory max-seen+1 counters re-derived at
// load, so an id is never reused within the process lifetime even after
// deletions.
type FileService struct {
	mu sync.RWMutex

	patients []*domain.Patient
	users    []*domain.User

	patientPath string
	userPath    string

	nextPatientID int
	nextRequestID int
	nextUserID    int

	log     *zap.Logger
	tokens  *auth.TokenManager
	metrics *metrics.Collector
}

var _ MedicineService = (*FileService)(nil)

func NewFileService(patientPath, userPath string, log *zap.Logger) *FileService {
	s := &FileService{
		patientPath: patientPath,
		userPath:    userPath,
		log:         log,
	}
	s.load()
	return s
}

// SetTokenManager enables session-token issuance on Authenticate.
func (s *FileService) SetTokenManager(tm *auth.TokenManager) {
	s.tokens = tm
}

// SetMetrics attaches an optional operation counter collector.
func (s *FileService) SetMetrics(c *metrics.Collector) {
	s.metrics = c
}

// load reads both snapshots. Any fault leaves the store empty rather
// than failing construction; a first run has no snapshot to read.
func (s *FileService) load() {
	s.patients = []*domain.Patient{}
	s.users = []*domain.User{}

	patientData, perr := os.ReadFile(s.patientPath)
	userData, uerr := os.ReadFile(s.userPath)
	if perr != nil || uerr != nil {
		s.log.Info("snapshot missing, starting with empty store",
			zap.String("patient_store", s.patientPath),
			zap.String("user_store", s.userPath),
		)
		s.resetCounters()
		return
	}

	var patients []*domain.Patient
	var users []*domain.User
	if err := json.Unmarshal(patientData, &patients); err != nil {
		s.log.Warn("corrupt patient snapshot, starting with empty store", zap.Error(err))
		s.resetCounters()
		return
	}
	if err := json.Unmarshal(userData, &users); err != nil {
		s.log.Warn("corrupt user snapshot, starting with empty store", zap.Error(err))
		s.resetCounters()
		return
	}

	// The owning-patient back-reference does not survive
	// serialization; relink every nested request to its parent.
	for _, p := range patients {
		for _, m := range p.Medicines {
			m.Patient = p
			m.PatientID = p.ID
		}
	}

	s.patients = patients
	s.users = users
	s.resetCounters()
}

func (s *FileService) resetCounters() {
	s.nextPatientID, s.nextRequestID, s.nextUserID = 1, 1, 1
	for _, p := range s.patients {
		if p.ID >= s.nextPatientID {
			s.nextPatientID = p.ID + 1
		}
		for _, m := range p.Medicines {
			if m.ID >= s.nextRequestID {
				s.nextRequestID = m.ID + 1
			}
		}
	}
	for _, u := range s.users {
		if u.ID >= s.nextUserID {
			s.nextUserID = u.ID + 1
		}
	}
}

// store rewrites both snapshot files in full. Callers that mutated
// in-memory state must undo the mutation when store fails.
func (s *FileService) store() error {
	start := time.Now()

	patients, err := json.MarshalIndent(s.patients, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing patients: %w", err)
	}
	users, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing users: %w", err)
	}

	if err := os.WriteFile(s.patientPath, patients, 0o644); err != nil {
		return fmt.Errorf("writing patient snapshot: %w", err)
	}
	if err := os.WriteFile(s.userPath, users, 0o644); err != nil {
		return fmt.Errorf("writing user snapshot: %w", err)
	}

	if s.metrics != nil {
		s.metrics.SnapshotWriteDuration.Observe(time.Since(start).Seconds())
	}
	return nil
}

func (s *FileService) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldPatients, oldUsers := s.patients, s.users
	s.patients = []*domain.Patient{}
	s.users = []*domain.User{}
	if err := s.store(); err != nil {
		s.patients, s.users = oldPatients, oldUsers
		return err
	}
	return nil
}

// ----------------------- Patient operations -----------------------

func (s *FileService) ListPatients(_ context.Context) ([]*domain.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clonedPatients(), nil
}

func (s *FileService) GetPatient(_ context.Context, id int) (*domain.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := s.findPatient(id)
	if err != nil {
		return nil, err
	}
	return clonePatient(p), nil
}

func (s *FileService) GetPatientByEmail(_ context.Context, email string) (*domain.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := s.findPatientByEmail(email)
	if err != nil {
		return nil, err
	}
	return clonePatient(p), nil
}

func (s *FileService) IsDuplicateEmail(_ context.Context, email string, excludeID int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.patientEmailTaken(email, excludeID), nil
}

func (s *FileService) AddPatient(_ context.Context, name string, age int, email, photoURL string) (*domain.Patient, error) {
	if err := validatePatient(name, age, email, photoURL); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.patientEmailTaken(email, 0) {
		return nil, domain.ErrDuplicateEmail
	}

	p := &domain.Patient{
		ID:        s.nextPatientID,
		Name:      name,
		Age:       age,
		Email:     normalizeEmail(email),
		PhotoURL:  photoURL,
		Medicines: []*domain.Medicine{},
	}
	s.patients = append(s.patients, p)

	if err := s.store(); err != nil {
		s.patients = s.patients[:len(s.patients)-1]
		return nil, err
	}
	s.nextPatientID++

	if s.metrics != nil {
		s.metrics.PatientsCreatedTotal.Inc()
	}
	s.log.Info("patient created", zap.Int("patient_id", p.ID), zap.String("email", p.Email))

	return clonePatient(p), nil
}

func (s *FileService) UpdatePatient(_ context.Context, updated *domain.Patient) (*domain.Patient, error) {
	if err := validatePatient(updated.Name, updated.Age, updated.Email, ""); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.findPatient(updated.ID)
	if err != nil {
		return nil, err
	}

	if s.patientEmailTaken(updated.Email, updated.ID) {
		return nil, domain.ErrDuplicateEmail
	}

	// Only name, age and email are caller-mutable.
	prev := *p
	p.Name = updated.Name
	p.Age = updated.Age
	p.Email = normalizeEmail(updated.Email)

	if err := s.store(); err != nil {
		*p = prev
		return nil, err
	}
	return clonePatient(p), nil
}

func (s *FileService) DeletePatient(_ context.Context, id int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.patients {
		if p.ID == id {
			// Requests are nested under the patient, so removing the
			// patient cascades to its whole collection.
			old := s.patients
			next := make([]*domain.Patient, 0, len(old)-1)
			next = append(next, old[:i]...)
			next = append(next, old[i+1:]...)
			s.patients = next

			if err := s.store(); err != nil {
				s.patients = old
				return false, err
			}
			s.log.Info("patient deleted", zap.Int("patient_id", id))
			return true, nil
		}
	}
	return false, nil
}

func (s *FileService) FilterPatients(_ context.Context, pred func(*domain.Patient) bool) ([]*domain.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterPatients(s.clonedPatients(), pred), nil
}

// ------------------- Medicine request operations -------------------

func (s *FileService) CreateRequest(_ context.Context, patientID int, request string) (*domain.Medicine, error) {
	if err := validateRequestText(request); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	patient, err := s.findPatient(patientID)
	if err != nil {
		return nil, err
	}

	m := &domain.Medicine{
		ID:        s.nextRequestID,
		PatientID: patientID,
		Patient:   patient,
		Request:   request,
		CreatedOn: time.Now(),
		Active:    true,
	}
	patient.Medicines = append(patient.Medicines, m)

	if err := s.store(); err != nil {
		patient.Medicines = patient.Medicines[:len(patient.Medicines)-1]
		return nil, err
	}
	s.nextRequestID++

	if s.metrics != nil {
		s.metrics.RequestsOpenedTotal.Inc()
	}
	s.log.Info("medicine request opened",
		zap.Int("request_id", m.ID),
		zap.Int("patient_id", patientID),
	)

	return cloneMedicine(m), nil
}

func (s *FileService) GetRequest(_ context.Context, id int) (*domain.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, err := s.findRequest(id)
	if err != nil {
		return nil, err
	}
	return cloneMedicine(m), nil
}

func (s *FileService) CloseRequest(_ context.Context, id int, resolution string) (*domain.Medicine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.findRequest(id)
	if err != nil {
		return nil, err
	}

	prev := *m
	if err := m.Close(resolution, time.Now()); err != nil {
		return nil, err
	}

	if err := s.store(); err != nil {
		*m = prev
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RequestsClosedTotal.Inc()
	}
	s.log.Info("medicine request closed", zap.Int("request_id", id))

	return cloneMedicine(m), nil
}

func (s *FileService) DeleteRequest(_ context.Context, id int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.patients {
		for i, m := range p.Medicines {
			if m.ID == id {
				old := p.Medicines
				next := make([]*domain.Medicine, 0, len(old)-1)
				next = append(next, old[:i]...)
				next = append(next, old[i+1:]...)
				p.Medicines = next

				if err := s.store(); err != nil {
					p.Medicines = old
					return false, err
				}
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *FileService) ListRequests(_ context.Context) ([]*domain.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clonedRequests(), nil
}

func (s *FileService) ListOpenRequests(_ context.Context) ([]*domain.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterMedicines(s.clonedRequests(), func(m *domain.Medicine) bool { return m.Active }), nil
}

func (s *FileService) FilterRequests(_ context.Context, pred func(*domain.Medicine) bool) ([]*domain.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterMedicines(s.clonedRequests(), pred), nil
}

func (s *FileService) SearchRequests(_ context.Context, rng domain.MedicineRange, query string) ([]*domain.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return searchMedicines(s.clonedRequests(), rng, query), nil
}

// ------------------------ User operations -------------------------

func (s *FileService) ListUsers(_ context.Context) ([]*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.User, len(s.users))
	for i, u := range s.users {
		out[i] = cloneUser(u)
	}
	return out, nil
}

func (s *FileService) GetUser(_ context.Context, id int) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, err := s.findUser(id)
	if err != nil {
		return nil, err
	}
	return cloneUser(u), nil
}

func (s *FileService) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, err := s.findUserByEmail(email)
	if err != nil {
		return nil, err
	}
	return cloneUser(u), nil
}

func (s *FileService) UpdateUser(_ context.Context, updated *domain.User) (*domain.User, error) {
	if err := validateUser(updated.Name, updated.Email, updated.Password, updated.Role); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.findUser(updated.ID)
	if err != nil {
		return nil, err
	}

	if s.userEmailTaken(updated.Email, updated.ID) {
		return nil, domain.ErrDuplicateUser
	}

	hash, err := auth.HashPassword(updated.Password)
	if err != nil {
		return nil, err
	}

	prev := *u
	u.Name = updated.Name
	u.Email = normalizeEmail(updated.Email)
	u.Password = hash
	u.Role = updated.Role

	if err := s.store(); err != nil {
		*u = prev
		return nil, err
	}
	return cloneUser(u), nil
}

func (s *FileService) DeleteUser(_ context.Context, id int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, u := range s.users {
		if u.ID == id {
			old := s.users
			next := make([]*domain.User, 0, len(old)-1)
			next = append(next, old[:i]...)
			next = append(next, old[i+1:]...)
			s.users = next

			if err := s.store(); err != nil {
				s.users = old
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

func (s *FileService) Authenticate(_ context.Context, email, password string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, err := s.findUserByEmail(email)
	if errors.Is(err, domain.ErrUserNotFound) {
		// Burn a hash so response time does not reveal whether the
		// email exists.
		auth.BurnHash(password)
		s.countLogin("failure")
		return nil, domain.ErrInvalidCredentials
	}

	if !auth.CheckPassword(u.Password, password) {
		s.countLogin("failure")
		s.log.Warn("failed login attempt", zap.String("email", normalizeEmail(email)))
		return nil, domain.ErrInvalidCredentials
	}

	// The token is caller-state only; it goes on the returned copy,
	// never on the stored record.
	out := cloneUser(u)
	if s.tokens != nil {
		token, err := s.tokens.Issue(out)
		if err != nil {
			return nil, fmt.Errorf("issuing session token: %w", err)
		}
		out.Token = token
	}

	s.countLogin("success")
	s.log.Info("user authenticated", zap.Int("user_id", out.ID))
	return out, nil
}

func (s *FileService) Register(_ context.Context, name, email, password string, role domain.Role) (*domain.User, error) {
	if err := validateUser(name, email, password, role); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.userEmailTaken(email, 0) {
		return nil, domain.ErrDuplicateUser
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &domain.User{
		ID:       s.nextUserID,
		Name:     name,
		Email:    normalizeEmail(email),
		Password: hash,
		Role:     role,
	}
	s.users = append(s.users, u)

	if err := s.store(); err != nil {
		s.users = s.users[:len(s.users)-1]
		return nil, err
	}
	s.nextUserID++

	if s.metrics != nil {
		s.metrics.UsersRegisteredTotal.Inc()
	}
	s.log.Info("user registered", zap.Int("user_id", u.ID), zap.String("role", string(role)))

	return cloneUser(u), nil
}

// ------------------------- lookup helpers -------------------------

func (s *FileService) findPatient(id int) (*domain.Patient, error) {
	for _, p := range s.patients {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, domain.ErrPatientNotFound
}

func (s *FileService) findPatientByEmail(email string) (*domain.Patient, error) {
	email = normalizeEmail(email)
	for _, p := range s.patients {
		if p.Email == email {
			return p, nil
		}
	}
	return nil, domain.ErrPatientNotFound
}

// patientEmailTaken scans every patient except excludeID. Checking the
// whole collection, not just the first match, keeps the uniqueness
// invariant exact regardless of insertion order.
func (s *FileService) patientEmailTaken(email string, excludeID int) bool {
	email = normalizeEmail(email)
	for _, p := range s.patients {
		if p.ID != excludeID && p.Email == email {
			return true
		}
	}
	return false
}

func (s *FileService) userEmailTaken(email string, excludeID int) bool {
	email = normalizeEmail(email)
	for _, u := range s.users {
		if u.ID != excludeID && u.Email == email {
			return true
		}
	}
	return false
}

func (s *FileService) findRequest(id int) (*domain.Medicine, error) {
	for _, p := range s.patients {
		for _, m := range p.Medicines {
			if m.ID == id {
				return m, nil
			}
		}
	}
	return nil, domain.ErrRequestNotFound
}

func (s *FileService) findUser(id int) (*domain.User, error) {
	for _, u := range s.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (s *FileService) findUserByEmail(email string) (*domain.User, error) {
	email = normalizeEmail(email)
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (s *FileService) clonedPatients() []*domain.Patient {
	out := make([]*domain.Patient, len(s.patients))
	for i, p := range s.patients {
		out[i] = clonePatient(p)
	}
	return out
}

func (s *FileService) clonedRequests() []*domain.Medicine {
	var meds []*domain.Medicine
	for _, p := range s.patients {
		for _, m := range p.Medicines {
			meds = append(meds, cloneMedicine(m))
		}
	}
	return meds
}

func (s *FileService) countLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.LoginsTotal.WithLabelValues(outcome).Inc()
	}
}

// ------------------------- entity copies --------------------------

// clonePatient detaches a patient from store state: the copy's nested
// requests are copied too, back-references pointing at the copy.
func clonePatient(p *domain.Patient) *domain.Patient {
	cp := *p
	cp.Medicines = make([]*domain.Medicine, len(p.Medicines))
	for i, m := range p.Medicines {
		cm := *m
		cm.Patient = &cp
		cp.Medicines[i] = &cm
	}
	return &cp
}

// cloneMedicine detaches a request. The owning patient comes along as a
// shallow copy without its request collection, mirroring what the
// relational backend materializes for a single request.
func cloneMedicine(m *domain.Medicine) *domain.Medicine {
	cm := *m
	if m.Patient != nil {
		owner := *m.Patient
		owner.Medicines = nil
		cm.Patient = &owner
	}
	return &cm
}

func cloneUser(u *domain.User) *domain.User {
	cu := *u
	return &cu
}
