package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quickscripts/clinic/internal/domain"
	"github.com/quickscripts/clinic/pkg/auth"
	"github.com/quickscripts/clinic/pkg/metrics"
)

// DBService is the relational implementation of MedicineService.
// Patients, medicines and users are independently addressable rows with
// a foreign key from medicine to patient; reads that need related data
// request it eagerly with Preload so no operation depends on lazy
// traversal. Every mutation commits inside a transaction before
// returning.
type DBService struct {
	db      *gorm.DB
	log     *zap.Logger
	tokens  *auth.TokenManager
	metrics *metrics.Collector
}

var _ MedicineService = (*DBService)(nil)

func NewDBService(db *gorm.DB, log *zap.Logger) *DBService {
	return &DBService{db: db, log: log}
}

// SetTokenManager enables session-token issuance on Authenticate.
func (s *DBService) SetTokenManager(tm *auth.TokenManager) {
	s.tokens = tm
}

// SetMetrics attaches an optional operation counter collector.
func (s *DBService) SetMetrics(c *metrics.Collector) {
	s.metrics = c
}

func (s *DBService) Reset(ctx context.Context) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range []string{"clinic.medicines", "clinic.patients", "clinic.users"} {
			if err := tx.Exec("DELETE FROM " + table).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("resetting store: %w", err)
	}
	return nil
}

// ----------------------- Patient operations -----------------------

func (s *DBService) ListPatients(ctx context.Context) ([]*domain.Patient, error) {
	var patients []*domain.Patient
	err := s.db.WithContext(ctx).
		Preload("Medicines", orderByID).
		Order("id").
		Find(&patients).Error
	if err != nil {
		return nil, fmt.Errorf("listing patients: %w", err)
	}
	return patients, nil
}

func (s *DBService) GetPatient(ctx context.Context, id int) (*domain.Patient, error) {
	var p domain.Patient
	err := s.db.WithContext(ctx).
		Preload("Medicines", orderByID).
		First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching patient %d: %w", id, err)
	}
	return &p, nil
}

func (s *DBService) GetPatientByEmail(ctx context.Context, email string) (*domain.Patient, error) {
	var p domain.Patient
	err := s.db.WithContext(ctx).
		Preload("Medicines", orderByID).
		Where("email = ?", normalizeEmail(email)).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching patient by email: %w", err)
	}
	return &p, nil
}

func (s *DBService) IsDuplicateEmail(ctx context.Context, email string, excludeID int) (bool, error) {
	existing, err := s.GetPatientByEmail(ctx, email)
	if errors.Is(err, domain.ErrPatientNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return existing.ID != excludeID, nil
}

func (s *DBService) AddPatient(ctx context.Context, name string, age int, email, photoURL string) (*domain.Patient, error) {
	if err := validatePatient(name, age, email, photoURL); err != nil {
		return nil, err
	}

	dup, err := s.IsDuplicateEmail(ctx, email, 0)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, domain.ErrDuplicateEmail
	}

	p := &domain.Patient{
		Name:     name,
		Age:      age,
		Email:    normalizeEmail(email),
		PhotoURL: photoURL,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(p).Error
	})
	if err != nil {
		return nil, fmt.Errorf("creating patient: %w", err)
	}

	if s.metrics != nil {
		s.metrics.PatientsCreatedTotal.Inc()
	}
	s.log.Info("patient created", zap.Int("patient_id", p.ID), zap.String("email", p.Email))

	return p, nil
}

func (s *DBService) UpdatePatient(ctx context.Context, updated *domain.Patient) (*domain.Patient, error) {
	if err := validatePatient(updated.Name, updated.Age, updated.Email, ""); err != nil {
		return nil, err
	}

	p, err := s.GetPatient(ctx, updated.ID)
	if err != nil {
		return nil, err
	}

	dup, err := s.IsDuplicateEmail(ctx, updated.Email, updated.ID)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, domain.ErrDuplicateEmail
	}

	// Only name, age and email are caller-mutable.
	p.Name = updated.Name
	p.Age = updated.Age
	p.Email = normalizeEmail(updated.Email)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Omit("Medicines").Save(p).Error
	})
	if err != nil {
		return nil, fmt.Errorf("updating patient %d: %w", p.ID, err)
	}

	return p, nil
}

func (s *DBService) DeletePatient(ctx context.Context, id int) (bool, error) {
	_, err := s.GetPatient(ctx, id)
	if errors.Is(err, domain.ErrPatientNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("patient_id = ?", id).Delete(&domain.Medicine{}).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.Patient{}, id).Error
	})
	if err != nil {
		return false, fmt.Errorf("deleting patient %d: %w", id, err)
	}

	s.log.Info("patient deleted", zap.Int("patient_id", id))
	return true, nil
}

func (s *DBService) FilterPatients(ctx context.Context, pred func(*domain.Patient) bool) ([]*domain.Patient, error) {
	patients, err := s.ListPatients(ctx)
	if err != nil {
		return nil, err
	}
	return filterPatients(patients, pred), nil
}

// ------------------- Medicine request operations -------------------

func (s *DBService) CreateRequest(ctx context.Context, patientID int, request string) (*domain.Medicine, error) {
	if err := validateRequestText(request); err != nil {
		return nil, err
	}

	patient, err := s.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	m := &domain.Medicine{
		PatientID: patientID,
		Request:   request,
		CreatedOn: time.Now(),
		Active:    true,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(m).Error
	})
	if err != nil {
		return nil, fmt.Errorf("creating medicine request: %w", err)
	}
	m.Patient = patient

	if s.metrics != nil {
		s.metrics.RequestsOpenedTotal.Inc()
	}
	s.log.Info("medicine request opened",
		zap.Int("request_id", m.ID),
		zap.Int("patient_id", patientID),
	)

	return m, nil
}

func (s *DBService) GetRequest(ctx context.Context, id int) (*domain.Medicine, error) {
	var m domain.Medicine
	err := s.db.WithContext(ctx).
		Preload("Patient").
		First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching medicine request %d: %w", id, err)
	}
	return &m, nil
}

func (s *DBService) CloseRequest(ctx context.Context, id int, resolution string) (*domain.Medicine, error) {
	m, err := s.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := m.Close(resolution, time.Now()); err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Omit("Patient").Save(m).Error
	})
	if err != nil {
		return nil, fmt.Errorf("closing medicine request %d: %w", id, err)
	}

	if s.metrics != nil {
		s.metrics.RequestsClosedTotal.Inc()
	}
	s.log.Info("medicine request closed", zap.Int("request_id", id))

	return m, nil
}

func (s *DBService) DeleteRequest(ctx context.Context, id int) (bool, error) {
	_, err := s.GetRequest(ctx, id)
	if errors.Is(err, domain.ErrRequestNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Delete(&domain.Medicine{}, id).Error
	})
	if err != nil {
		return false, fmt.Errorf("deleting medicine request %d: %w", id, err)
	}
	return true, nil
}

func (s *DBService) ListRequests(ctx context.Context) ([]*domain.Medicine, error) {
	var meds []*domain.Medicine
	err := s.db.WithContext(ctx).
		Preload("Patient").
		Order("id").
		Find(&meds).Error
	if err != nil {
		return nil, fmt.Errorf("listing medicine requests: %w", err)
	}
	return meds, nil
}

func (s *DBService) ListOpenRequests(ctx context.Context) ([]*domain.Medicine, error) {
	var meds []*domain.Medicine
	err := s.db.WithContext(ctx).
		Preload("Patient").
		Where("active").
		Order("id").
		Find(&meds).Error
	if err != nil {
		return nil, fmt.Errorf("listing open medicine requests: %w", err)
	}
	return meds, nil
}

func (s *DBService) FilterRequests(ctx context.Context, pred func(*domain.Medicine) bool) ([]*domain.Medicine, error) {
	meds, err := s.ListRequests(ctx)
	if err != nil {
		return nil, err
	}
	return filterMedicines(meds, pred), nil
}

func (s *DBService) SearchRequests(ctx context.Context, rng domain.MedicineRange, query string) ([]*domain.Medicine, error) {
	meds, err := s.ListRequests(ctx)
	if err != nil {
		return nil, err
	}
	return searchMedicines(meds, rng, query), nil
}

// ------------------------ User operations -------------------------

func (s *DBService) ListUsers(ctx context.Context) ([]*domain.User, error) {
	var users []*domain.User
	if err := s.db.WithContext(ctx).Order("id").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

func (s *DBService) GetUser(ctx context.Context, id int) (*domain.User, error) {
	var u domain.User
	err := s.db.WithContext(ctx).First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching user %d: %w", id, err)
	}
	return &u, nil
}

func (s *DBService) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := s.db.WithContext(ctx).
		Where("email = ?", normalizeEmail(email)).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching user by email: %w", err)
	}
	return &u, nil
}

func (s *DBService) UpdateUser(ctx context.Context, updated *domain.User) (*domain.User, error) {
	if err := validateUser(updated.Name, updated.Email, updated.Password, updated.Role); err != nil {
		return nil, err
	}

	u, err := s.GetUser(ctx, updated.ID)
	if err != nil {
		return nil, err
	}

	other, err := s.GetUserByEmail(ctx, updated.Email)
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}
	if other != nil && other.ID != updated.ID {
		return nil, domain.ErrDuplicateUser
	}

	hash, err := auth.HashPassword(updated.Password)
	if err != nil {
		return nil, err
	}

	u.Name = updated.Name
	u.Email = normalizeEmail(updated.Email)
	u.Password = hash
	u.Role = updated.Role

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Save(u).Error
	})
	if err != nil {
		return nil, fmt.Errorf("updating user %d: %w", u.ID, err)
	}

	return u, nil
}

func (s *DBService) DeleteUser(ctx context.Context, id int) (bool, error) {
	_, err := s.GetUser(ctx, id)
	if errors.Is(err, domain.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Delete(&domain.User{}, id).Error
	})
	if err != nil {
		return false, fmt.Errorf("deleting user %d: %w", id, err)
	}
	return true, nil
}

func (s *DBService) Authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	u, err := s.GetUserByEmail(ctx, email)
	if errors.Is(err, domain.ErrUserNotFound) {
		// Burn a hash so response time does not reveal whether the
		// email exists.
		auth.BurnHash(password)
		s.countLogin("failure")
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if !auth.CheckPassword(u.Password, password) {
		s.countLogin("failure")
		s.log.Warn("failed login attempt", zap.String("email", normalizeEmail(email)))
		return nil, domain.ErrInvalidCredentials
	}

	if s.tokens != nil {
		token, err := s.tokens.Issue(u)
		if err != nil {
			return nil, fmt.Errorf("issuing session token: %w", err)
		}
		u.Token = token
	}

	s.countLogin("success")
	s.log.Info("user authenticated", zap.Int("user_id", u.ID))
	return u, nil
}

func (s *DBService) Register(ctx context.Context, name, email, password string, role domain.Role) (*domain.User, error) {
	if err := validateUser(name, email, password, role); err != nil {
		return nil, err
	}

	_, err := s.GetUserByEmail(ctx, email)
	if err == nil {
		return nil, domain.ErrDuplicateUser
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &domain.User{
		Name:     name,
		Email:    normalizeEmail(email),
		Password: hash,
		Role:     role,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(u).Error
	})
	if err != nil {
		return nil, fmt.Errorf("registering user: %w", err)
	}

	if s.metrics != nil {
		s.metrics.UsersRegisteredTotal.Inc()
	}
	s.log.Info("user registered", zap.Int("user_id", u.ID), zap.String("role", string(role)))

	return u, nil
}

func (s *DBService) countLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.LoginsTotal.WithLabelValues(outcome).Inc()
	}
}

// orderByID keeps preloaded child collections in a deterministic order.
func orderByID(db *gorm.DB) *gorm.DB {
	return db.Order("id")
}
