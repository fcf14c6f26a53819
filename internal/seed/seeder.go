// Package seed loads the canned development dataset through the
// MedicineService contract, so it exercises exactly the surface a real
// caller has.
package seed

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/quickscripts/clinic/internal/domain"
	"github.com/quickscripts/clinic/internal/service"
)

// Run wipes the store and loads four patients, four medicine requests
// (two of them resolved) and the two default accounts.
func Run(ctx context.Context, svc service.MedicineService, log *zap.Logger) error {
	if err := svc.Reset(ctx); err != nil {
		return fmt.Errorf("resetting store: %w", err)
	}

	patients := []struct {
		name  string
		age   int
		email string
		photo string
	}{
		{"Arthur Morgan", 38, "arthurmorgan@ulster.com", "https://upload.wikimedia.org/wikipedia/en/a/ac/Arthur_Morgan_-_Red_Dead_Redemption_2.png"},
		{"Julian Simmons", 55, "juliansimmons@utv.ie", "https://upload.wikimedia.org/wikipedia/commons/a/ac/Juliansimmonscastlecourt.jpg"},
		{"Layne Staley", 24, "layne@aliceinchains.tv", "https://upload.wikimedia.org/wikipedia/commons/8/8c/Staley05_%28cropped%29.jpg"},
		{"Peter Steele", 44, "bigpete@typeonegative.ie", "https://upload.wikimedia.org/wikipedia/commons/6/6d/Type_O_Negative_-_Coliseu_dos_Recreios.jpg"},
	}

	requests := []string{
		"Cough medicine",
		"Amoxicilin",
		"Vitamin B12 Tablets",
		"Diazapam",
	}

	var created []*domain.Medicine
	for i, pd := range patients {
		p, err := svc.AddPatient(ctx, pd.name, pd.age, pd.email, pd.photo)
		if err != nil {
			return fmt.Errorf("seeding patient %q: %w", pd.name, err)
		}

		m, err := svc.CreateRequest(ctx, p.ID, requests[i])
		if err != nil {
			return fmt.Errorf("seeding request %q: %w", requests[i], err)
		}
		created = append(created, m)
	}

	// Resolve the first two requests.
	for _, m := range created[:2] {
		if _, err := svc.CloseRequest(ctx, m.ID, "Done"); err != nil {
			return fmt.Errorf("closing seeded request %d: %w", m.ID, err)
		}
	}

	accounts := []struct {
		name     string
		email    string
		password string
		role     domain.Role
	}{
		{"Patient", "patient@quickscripts.com", "patient", domain.RolePatient},
		{"Staff", "staff@quickscripts.com", "staff", domain.RoleStaff},
	}
	for _, a := range accounts {
		if _, err := svc.Register(ctx, a.name, a.email, a.password, a.role); err != nil {
			return fmt.Errorf("seeding user %q: %w", a.email, err)
		}
	}

	log.Info("store seeded",
		zap.Int("patients", len(patients)),
		zap.Int("requests", len(created)),
		zap.Int("users", len(accounts)),
	)
	return nil
}
