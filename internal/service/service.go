// Package service defines the MedicineService contract and its two
// storage backends. Both implementations enforce the same business
// rules — unique emails, the open/closed request lifecycle, hashed
// credentials — so a caller cannot tell them apart except by how data
// survives a restart.
package service

import (
	"context"

	"github.com/quickscripts/clinic/internal/domain"
)

// MedicineService is the single business contract consumed by the
// transport layer and the seeder. Operations that fail on business
// grounds return one of the domain sentinel errors; any other non-nil
// error is a storage fault.
type MedicineService interface {
	// Reset wipes all stored state. Used by the seeder.
	Reset(ctx context.Context) error

	// Patients
	ListPatients(ctx context.Context) ([]*domain.Patient, error)
	GetPatient(ctx context.Context, id int) (*domain.Patient, error)
	GetPatientByEmail(ctx context.Context, email string) (*domain.Patient, error)
	// IsDuplicateEmail reports whether a patient other than excludeID
	// already owns the email.
	IsDuplicateEmail(ctx context.Context, email string, excludeID int) (bool, error)
	AddPatient(ctx context.Context, name string, age int, email, photoURL string) (*domain.Patient, error)
	// UpdatePatient copies name, age and email onto the stored patient;
	// email uniqueness is re-checked.
	UpdatePatient(ctx context.Context, updated *domain.Patient) (*domain.Patient, error)
	// DeletePatient removes the patient and all of its requests,
	// returning false when the id is unknown.
	DeletePatient(ctx context.Context, id int) (bool, error)
	FilterPatients(ctx context.Context, pred func(*domain.Patient) bool) ([]*domain.Patient, error)

	// Medicine requests
	CreateRequest(ctx context.Context, patientID int, request string) (*domain.Medicine, error)
	GetRequest(ctx context.Context, id int) (*domain.Medicine, error)
	// CloseRequest resolves an open request exactly once. A blank
	// resolution records domain.DefaultResolution.
	CloseRequest(ctx context.Context, id int, resolution string) (*domain.Medicine, error)
	DeleteRequest(ctx context.Context, id int) (bool, error)
	ListRequests(ctx context.Context) ([]*domain.Medicine, error)
	ListOpenRequests(ctx context.Context) ([]*domain.Medicine, error)
	FilterRequests(ctx context.Context, pred func(*domain.Medicine) bool) ([]*domain.Medicine, error)
	// SearchRequests unions case-insensitive substring matches on the
	// owning patient's name and on the request text, then filters by
	// range. An empty query matches everything.
	SearchRequests(ctx context.Context, rng domain.MedicineRange, query string) ([]*domain.Medicine, error)

	// Users
	ListUsers(ctx context.Context) ([]*domain.User, error)
	GetUser(ctx context.Context, id int) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	// UpdateUser copies name, email, role and credential onto the stored
	// user; the incoming password is treated as plaintext and re-hashed.
	UpdateUser(ctx context.Context, updated *domain.User) (*domain.User, error)
	DeleteUser(ctx context.Context, id int) (bool, error)
	Authenticate(ctx context.Context, email, password string) (*domain.User, error)
	Register(ctx context.Context, name, email, password string, role domain.Role) (*domain.User, error)
}
