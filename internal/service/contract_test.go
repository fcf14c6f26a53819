package service_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/quickscripts/clinic/internal/domain"
	"github.com/quickscripts/clinic/internal/seed"
	"github.com/quickscripts/clinic/internal/service"
	"github.com/quickscripts/clinic/pkg/database"
)

// The contract suite runs every behavioral test against both backends.
// The file backend always runs; the relational backend runs when
// CLINIC_TEST_DATABASE_DSN points at a disposable Postgres database.

type backend struct {
	name string
	make func(t *testing.T) service.MedicineService
}

func newFileBackend(t *testing.T) service.MedicineService {
	t.Helper()
	dir := t.TempDir()
	return service.NewFileService(
		filepath.Join(dir, "patients.json"),
		filepath.Join(dir, "users.json"),
		zap.NewNop(),
	)
}

func newDBBackend(t *testing.T, dsn string) service.MedicineService {
	t.Helper()

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("connecting to test database: %v", err)
	}
	if err := database.Migrate(db, zap.NewNop()); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}

	svc := service.NewDBService(db, zap.NewNop())
	if err := svc.Reset(context.Background()); err != nil {
		t.Fatalf("resetting test database: %v", err)
	}
	return svc
}

func backends(t *testing.T) []backend {
	t.Helper()

	bs := []backend{
		{name: "file", make: newFileBackend},
	}
	if dsn := os.Getenv("CLINIC_TEST_DATABASE_DSN"); dsn != "" {
		bs = append(bs, backend{
			name: "postgres",
			make: func(t *testing.T) service.MedicineService { return newDBBackend(t, dsn) },
		})
	}
	return bs
}

func forEachBackend(t *testing.T, fn func(t *testing.T, svc service.MedicineService)) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.make(t))
		})
	}
}

func mustAddPatient(t *testing.T, svc service.MedicineService, name string, age int, email string) *domain.Patient {
	t.Helper()
	p, err := svc.AddPatient(context.Background(), name, age, email, "")
	if err != nil {
		t.Fatalf("AddPatient(%q): %v", name, err)
	}
	return p
}

func mustCreateRequest(t *testing.T, svc service.MedicineService, patientID int, text string) *domain.Medicine {
	t.Helper()
	m, err := svc.CreateRequest(context.Background(), patientID, text)
	if err != nil {
		t.Fatalf("CreateRequest(%d, %q): %v", patientID, text, err)
	}
	return m
}

func requestTexts(meds []*domain.Medicine) []string {
	texts := make([]string, 0, len(meds))
	for _, m := range meds {
		texts = append(texts, m.Request)
	}
	sort.Strings(texts)
	return texts
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestAddPatientRejectsDuplicateEmail(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc service.MedicineService) {
		ctx := context.Background()

		first := mustAddPatient(t, svc, "Arthur Morgan", 38, "arthurmorgan@ulster.com")

		if _, err := svc.AddPatient(ctx, "Impostor", 40, "arthurmorgan@ulster.com", ""); !errors.Is(err, domain.ErrDuplicateEmail) {
			t.Fatalf("duplicate AddPatient error = %v, want ErrDuplicateEmail", err)
		}

		patients, err := svc.ListPatients(ctx)
		if err != nil {
			t.Fatalf("ListPatients: %v", err)
		}
		if len(patients) != 1 {
			t.Fatalf("patient count after rejected add = %d, want 1", len(patients))
		}

		// A rejected add consumes no identity value.
		next := mustAddPatient(t, svc, "Julian Simmons", 55, "juliansimmons@utv.ie")
		if next.ID != first.ID+1 {
			t.Fatalf("next patient id = %d after %d, rejected add consumed an id", next.ID, first.ID)
		}
	})
}

func TestUpdatePatientRejectsTakenEmail(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc service.MedicineService) {
		ctx := context.Background()

		p1 := mustAddPatient(t, svc, "Arthur Morgan", 38, "arthurmorgan@ulster.com")
		p2 := mustAddPatient(t, svc, "Julian Simmons", 55, "juliansimmons@utv.ie")

		p2.Email = p1.Email
		if _, err := svc.UpdatePatient(ctx, p2); !errors.Is(err, domain.ErrDuplicateEmail) {
			t.Fatalf("UpdatePatient with taken email error = %v, want ErrDuplicateEmail", err)
		}

		// Updating a patient to their own email is not a conflict.
		p1.Name = "Arthur M."
		got, err := svc.UpdatePatient(ctx, p1)
		if err != nil {
			t.Fatalf("UpdatePatient self-email: %v", err)
		}
		if got.Name != "Arthur M." {
			t.Fatalf("updated name = %q, want %q", got.Name, "Arthur M.")
		}

		if _, err := svc.UpdatePatient(ctx, &domain.Patient{ID: 9999, Name: "Ghost", Age: 30, Email: "ghost@nowhere.org"}); !errors.Is(err, domain.ErrPatientNotFound) {
			t.Fatalf("UpdatePatient unknown id error = %v, want ErrPatientNotFound", err)
		}
	})
}

func TestUpdatePatientRejectsMutatedFetchedRecord(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc service.MedicineService) {
		ctx := context.Background()

		// The natural edit sequence: mutate the record a read or create
		// handed back, then save it. The first-inserted record must be
		// rejected against the second's email like any other duplicate.
		p1 := mustAddPatient(t, svc, "Arthur Morgan", 38, "arthurmorgan@ulster.com")
		mustAddPatient(t, svc, "Julian Simmons", 55, "juliansimmons@utv.ie")

		p1.Email = "juliansimmons@utv.ie"
		if _, err := svc.UpdatePatient(ctx, p1); !errors.Is(err, domain.ErrDuplicateEmail) {
			t.Fatalf("UpdatePatient on mutated record error = %v, want ErrDuplicateEmail", err)
		}

		stored, err := svc.GetPatient(ctx, p1.ID)
		if err != nil {
			t.Fatalf("GetPatient: %v", err)
		}
		if stored.Email != "arthurmorgan@ulster.com" {
			t.Fatalf("stored email = %q after rejected update, want unchanged", stored.Email)
		}
	})
}

func TestUpdateUserRejectsTakenEmail(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc service.MedicineService) {
		ctx := context.Background()

		u1, err := svc.Register(ctx, "Staff", "staff@quickscripts.com", "staff", domain.RoleStaff)
		if err != nil {
			t.Fatalf("Register: %v", err)
		}
		if _, err := svc.Register(ctx, "Patient", "patient@quickscripts.com", "patient", domain.RolePatient); err != nil {
			t.Fatalf("Register: %v", err)
		}

		u1.Email = "patient@quickscripts.com"
		u1.Password = "staff"
		if _, err := svc.UpdateUser(ctx, u1); !errors.Is(err, domain.ErrDuplicateUser) {
			t.Fatalf("UpdateUser on mutated record error = %v, want ErrDuplicateUser", err)
		}

		stored, err := svc.GetUser(ctx, u1.ID)
		if err != nil {
			t.Fatalf("GetUser: %v", err)
		}
		if stored.Email != "staff@quickscripts.com" {
			t.Fatalf("stored email = %q after rejected update, want unchanged", stored.Email)
		}
	})
}

func TestRequestLifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc service.MedicineService) {
		ctx := context.Background()

		p := mustAddPatient(t, svc, "Layne Staley", 24, "layne@aliceinchains.tv")
		m := mustCreateRequest(t, svc, p.ID, "Vitamin B12 Tablets")

		if !m.Active {
			t.Fatal("new request is not active")
		}
		if m.CreatedOn.IsZero() {
			t.Fatal("new request has no creation timestamp")
		}
		if !m.ResolvedOn.IsZero() {
			t.Fatal("new request already carries a resolution timestamp")
		}

		closed, err := svc.CloseRequest(ctx, m.ID, "Dispensed")
		if err != nil {
			t.Fatalf("CloseRequest: %v", err)
		}
		if closed.Active {
			t.Fatal("closed request still active")
		}
		if closed.Resolution != "Dispensed" {
			t.Fatalf("resolution = %q, want %q", closed.Resolution, "Dispensed")
		}
		if closed.ResolvedOn.IsZero() {
			t.Fatal("closed request has no resolution timestamp")
		}

		if _, err := svc.CloseRequest(ctx, m.ID, "again"); !errors.Is(err, domain.ErrRequestAlreadyClosed) {
			t.Fatalf("second close error = %v, want ErrRequestAlreadyClosed", err)
		}

		if _, err := svc.CloseRequest(ctx, 9999, "whatever"); !errors.Is(err, domain.ErrRequestNotFound) {
			t.Fatalf("closing unknown request error = %v, want ErrRequestNotFound", err)
		}
	})
}

func TestCloseRequestDefaultResolution(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc service.MedicineService) {
		ctx := context.Background()

		p := mustAddPatient(t, svc, "Peter Steele", 44, "bigpete@typeonegative.ie")
		m := mustCreateRequest(t, svc, p.ID, "Diazapam")

		closed, err := svc.CloseRequest(ctx, m.ID, "")
		if err != nil {
			t.Fatalf("CloseRequest: %v", err)
		}
		if closed.Resolution != domain.DefaultResolution {
			t.Fatalf("resolution = %q, want default %q", closed.Resolution, domain.DefaultResolution)
		}
	})
}

func TestCreateRequestUnknownPatient(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc service.MedicineService) {
		if _, err := svc.CreateRequest(context.Background(), 42, "Cough medicine"); !errors.Is(err, domain.ErrPatientNotFound) {
			t.Fatalf("CreateRequest for unknown patient error = %v, want ErrPatientNotFound", err)
		}
	})
}

func TestDeletePatientCascades(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc service.MedicineService) {
		ctx := context.Background()

		p1 := mustAddPatient(t, svc, "Arthur Morgan", 38, "arthurmorgan@ulster.com")
		p2 := mustAddPatient(t, svc, "Julian Simmons", 55, "juliansimmons@utv.ie")
		m1 := mustCreateRequest(t, svc, p1.ID, "Cough medicine")
		m2 := mustCreateRequest(t, svc, p2.ID, "Amoxicilin")

		ok, err := svc.DeletePatient(ctx, p1.ID)
		if err != nil || !ok {
			t.Fatalf("DeletePatient = (%v, %v), want (true, nil)", ok, err)
		}

		if _, err := svc.GetRequest(ctx, m1.ID); !errors.Is(err, domain.ErrRequestNotFound) {
			t.Fatalf("request of deleted patient still retrievable, err = %v", err)
		}

		all, err := svc.ListRequests(ctx)
		if err != nil {
			t.Fatalf("ListRequests: %v", err)
		}
		if len(all) != 1 || all[0].ID != m2.ID {
			t.Fatalf("requests after cascade = %v, want only request %d", requestTexts(all), m2.ID)
		}

		ok, err = svc.DeletePatient(ctx, p1.ID)
		if err != nil || ok {
			t.Fatalf("second DeletePatient = (%v, %v), want (false, nil)", ok, err)
		}
	})
}

func TestDeleteRequestDetachesFromPatient(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc service.MedicineService) {
		ctx := context.Background()

		p := mustAddPatient(t, svc, "Arthur Morgan", 38, "arthurmorgan@ulster.com")
		m := mustCreateRequest(t, svc, p.ID, "Cough medicine")

		ok, err := svc.DeleteRequest(ctx, m.ID)
		if err != nil || !ok {
			t.Fatalf("DeleteRequest = (%v, %v), want (true, nil)", ok, err)
		}

		got, err := svc.GetPatient(ctx, p.ID)
		if err != nil {
			t.Fatalf("GetPatient: %v", err)
		}
		if len(got.Medicines) != 0 {
			t.Fatalf("patient still owns %d requests after delete", len(got.Medicines))
		}

		ok, err = svc.DeleteRequest(ctx, m.ID)
		if err != nil || ok {
			t.Fatalf("second DeleteRequest = (%v, %v), want (false, nil)", ok, err)
		}
	})
}

// seedSearchFixture loads the two-patient scenario the search semantics
// are specified against: Arthur Morgan with an open "Cough medicine"
// request and Julian Simmons with a closed "Amoxicilin" request.
func seedSearchFixture(t *testing.T, svc service.MedicineService) {
	t.Helper()
	ctx := context.Background()

	arthur := mustAddPatient(t, svc, "Arthur Morgan", 38, "arthurmorgan@ulster.com")
	julian := mustAddPatient(t, svc, "Julian Simmons", 55, "juliansimmons@utv.ie")
	mustCreateRequest(t, svc, arthur.ID, "Cough medicine")
	amox := mustCreateRequest(t, svc, julian.ID, "Amoxicilin")

	if _, err := svc.CloseRequest(ctx, amox.ID, "Done"); err != nil {
		t.Fatalf("closing fixture request: %v", err)
	}
}

func TestSearchRequests(t *testing.T) {
	cases := []struct {
		name  string
		rng   domain.MedicineRange
		query string
		want  []string
	}{
		{"patient name match", domain.RangeAll, "arthur", []string{"Cough medicine"}},
		{"empty query open range", domain.RangeOpen, "", []string{"Cough medicine"}},
		{"request text match closed", domain.RangeClosed, "amox", []string{"Amoxicilin"}},
		{"range excludes text match", domain.RangeOpen, "amox", []string{}},
		{"case insensitive", domain.RangeAll, "MORGAN", []string{"Cough medicine"}},
		{"empty query all", domain.RangeAll, "", []string{"Amoxicilin", "Cough medicine"}},
		{"no match", domain.RangeAll, "ibuprofen", []string{}},
	}

	forEachBackend(t, func(t *testing.T, svc service.MedicineService) {
		seedSearchFixture(t, svc)

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				got, err := svc.SearchRequests(context.Background(), tc.rng, tc.query)
				if err != nil {
					t.Fatalf("SearchRequests(%v, %q): %v", tc.rng, tc.query, err)
				}
				if !equalStrings(requestTexts(got), tc.want) {
					t.Fatalf("SearchRequests(%v, %q) = %v, want %v", tc.rng, tc.query, requestTexts(got), tc.want)
				}
			})
		}
	})
}

func TestFilterPredicates(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc service.MedicineService) {
		ctx := context.Background()
		seedSearchFixture(t, svc)

		withOpen, err := svc.FilterPatients(ctx, func(p *domain.Patient) bool {
			return len(p.OpenRequests()) > 0
		})
		if err != nil {
			t.Fatalf("FilterPatients: %v", err)
		}
		if len(withOpen) != 1 || withOpen[0].Name != "Arthur Morgan" {
			t.Fatalf("patients with open requests = %d, want only Arthur Morgan", len(withOpen))
		}

		closed, err := svc.FilterRequests(ctx, func(m *domain.Medicine) bool { return !m.Active })
		if err != nil {
			t.Fatalf("FilterRequests: %v", err)
		}
		if !equalStrings(requestTexts(closed), []string{"Amoxicilin"}) {
			t.Fatalf("closed requests = %v, want [Amoxicilin]", requestTexts(closed))
		}
	})
}

func TestListOpenRequests(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc service.MedicineService) {
		seedSearchFixture(t, svc)

		open, err := svc.ListOpenRequests(context.Background())
		if err != nil {
			t.Fatalf("ListOpenRequests: %v", err)
		}
		if !equalStrings(requestTexts(open), []string{"Cough medicine"}) {
			t.Fatalf("open requests = %v, want [Cough medicine]", requestTexts(open))
		}
	})
}

func TestRegisterAndAuthenticate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc service.MedicineService) {
		ctx := context.Background()

		u, err := svc.Register(ctx, "Staff", "staff@quickscripts.com", "secret", domain.RoleStaff)
		if err != nil {
			t.Fatalf("Register: %v", err)
		}
		if u.Password == "secret" {
			t.Fatal("stored credential equals the plaintext password")
		}

		got, err := svc.Authenticate(ctx, "staff@quickscripts.com", "secret")
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if got.ID != u.ID {
			t.Fatalf("authenticated user id = %d, want %d", got.ID, u.ID)
		}

		if _, err := svc.Authenticate(ctx, "staff@quickscripts.com", "wrong"); !errors.Is(err, domain.ErrInvalidCredentials) {
			t.Fatalf("wrong password error = %v, want ErrInvalidCredentials", err)
		}
		if _, err := svc.Authenticate(ctx, "nobody@quickscripts.com", "secret"); !errors.Is(err, domain.ErrInvalidCredentials) {
			t.Fatalf("unknown email error = %v, want ErrInvalidCredentials", err)
		}

		if _, err := svc.Register(ctx, "Other", "staff@quickscripts.com", "secret2", domain.RolePatient); !errors.Is(err, domain.ErrDuplicateUser) {
			t.Fatalf("duplicate Register error = %v, want ErrDuplicateUser", err)
		}
	})
}

func TestUpdateUserRehashesPassword(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc service.MedicineService) {
		ctx := context.Background()

		u, err := svc.Register(ctx, "Patient", "patient@quickscripts.com", "oldpass", domain.RolePatient)
		if err != nil {
			t.Fatalf("Register: %v", err)
		}

		u.Password = "newpass" // plaintext in, re-hashed by the service
		updated, err := svc.UpdateUser(ctx, u)
		if err != nil {
			t.Fatalf("UpdateUser: %v", err)
		}
		if updated.Password == "newpass" {
			t.Fatal("stored credential equals the plaintext password after update")
		}

		if _, err := svc.Authenticate(ctx, "patient@quickscripts.com", "newpass"); err != nil {
			t.Fatalf("Authenticate with new password: %v", err)
		}
		if _, err := svc.Authenticate(ctx, "patient@quickscripts.com", "oldpass"); !errors.Is(err, domain.ErrInvalidCredentials) {
			t.Fatalf("old password still accepted, err = %v", err)
		}
	})
}

func TestValidationRejectedBeforeStorage(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc service.MedicineService) {
		ctx := context.Background()
		p := mustAddPatient(t, svc, "Arthur Morgan", 38, "arthurmorgan@ulster.com")

		cases := []struct {
			name string
			call func() error
		}{
			{"underage patient", func() error {
				_, err := svc.AddPatient(ctx, "Kid", 12, "kid@example.com", "")
				return err
			}},
			{"malformed email", func() error {
				_, err := svc.AddPatient(ctx, "Bad Email", 30, "not-an-email", "")
				return err
			}},
			{"blank request text", func() error {
				_, err := svc.CreateRequest(ctx, p.ID, "   ")
				return err
			}},
			{"invalid role", func() error {
				_, err := svc.Register(ctx, "X", "x@example.com", "pw", domain.Role("admin"))
				return err
			}},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				err := tc.call()
				var ve *service.ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("error = %v, want *ValidationError", err)
				}
			})
		}

		patients, err := svc.ListPatients(ctx)
		if err != nil {
			t.Fatalf("ListPatients: %v", err)
		}
		if len(patients) != 1 {
			t.Fatalf("rejected input reached storage, patient count = %d", len(patients))
		}
	})
}

func TestIsDuplicateEmail(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc service.MedicineService) {
		ctx := context.Background()
		p := mustAddPatient(t, svc, "Arthur Morgan", 38, "arthurmorgan@ulster.com")

		dup, err := svc.IsDuplicateEmail(ctx, "arthurmorgan@ulster.com", 0)
		if err != nil || !dup {
			t.Fatalf("IsDuplicateEmail(taken, 0) = (%v, %v), want (true, nil)", dup, err)
		}
		dup, err = svc.IsDuplicateEmail(ctx, "arthurmorgan@ulster.com", p.ID)
		if err != nil || dup {
			t.Fatalf("IsDuplicateEmail(own email, self) = (%v, %v), want (false, nil)", dup, err)
		}
		dup, err = svc.IsDuplicateEmail(ctx, "free@example.com", 0)
		if err != nil || dup {
			t.Fatalf("IsDuplicateEmail(free, 0) = (%v, %v), want (false, nil)", dup, err)
		}
	})
}

// TestSeededScenarioParity drives the full canned scenario against each
// backend and asserts the same logical end-state, id assignment aside.
func TestSeededScenarioParity(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc service.MedicineService) {
		ctx := context.Background()

		if err := seed.Run(ctx, svc, zap.NewNop()); err != nil {
			t.Fatalf("seed.Run: %v", err)
		}

		patients, err := svc.ListPatients(ctx)
		if err != nil {
			t.Fatalf("ListPatients: %v", err)
		}
		if len(patients) != 4 {
			t.Fatalf("patients = %d, want 4", len(patients))
		}

		all, err := svc.ListRequests(ctx)
		if err != nil {
			t.Fatalf("ListRequests: %v", err)
		}
		open, err := svc.ListOpenRequests(ctx)
		if err != nil {
			t.Fatalf("ListOpenRequests: %v", err)
		}
		if len(all) != 4 || len(open) != 2 {
			t.Fatalf("requests = %d open = %d, want 4 and 2", len(all), len(open))
		}
		if !equalStrings(requestTexts(open), []string{"Diazapam", "Vitamin B12 Tablets"}) {
			t.Fatalf("open requests = %v", requestTexts(open))
		}

		users, err := svc.ListUsers(ctx)
		if err != nil {
			t.Fatalf("ListUsers: %v", err)
		}
		if len(users) != 2 {
			t.Fatalf("users = %d, want 2", len(users))
		}

		got, err := svc.SearchRequests(ctx, domain.RangeClosed, "amox")
		if err != nil {
			t.Fatalf("SearchRequests: %v", err)
		}
		if !equalStrings(requestTexts(got), []string{"Amoxicilin"}) {
			t.Fatalf("closed amox search = %v", requestTexts(got))
		}

		if _, err := svc.Authenticate(ctx, "staff@quickscripts.com", "staff"); err != nil {
			t.Fatalf("authenticating seeded staff account: %v", err)
		}
	})
}
