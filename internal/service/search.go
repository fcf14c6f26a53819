package service

import (
	"strings"

	"github.com/quickscripts/clinic/internal/domain"
)

// searchMedicines applies the shared search semantics to a fully
// materialized request list (owning patient populated on every entry).
// A request matches when the query is a case-insensitive substring of
// either the owning patient's name or the request text — the union of
// the two predicates, deduplicated by construction since each request
// is visited once. The range filter is applied after the union.
//
// Both backends call this on their own materialized view, which is what
// keeps their search behavior identical.
func searchMedicines(meds []*domain.Medicine, rng domain.MedicineRange, query string) []*domain.Medicine {
	q := strings.ToLower(query)

	matched := make([]*domain.Medicine, 0, len(meds))
	for _, m := range meds {
		byPatient := strings.Contains(strings.ToLower(m.PatientName()), q)
		byRequest := strings.Contains(strings.ToLower(m.Request), q)
		if !byPatient && !byRequest {
			continue
		}
		if !inRange(m, rng) {
			continue
		}
		matched = append(matched, m)
	}
	return matched
}

func inRange(m *domain.Medicine, rng domain.MedicineRange) bool {
	switch rng {
	case domain.RangeOpen:
		return m.Active
	case domain.RangeClosed:
		return !m.Active
	}
	return true
}

func filterMedicines(meds []*domain.Medicine, pred func(*domain.Medicine) bool) []*domain.Medicine {
	out := make([]*domain.Medicine, 0, len(meds))
	for _, m := range meds {
		if pred(m) {
			out = append(out, m)
		}
	}
	return out
}

func filterPatients(patients []*domain.Patient, pred func(*domain.Patient) bool) []*domain.Patient {
	out := make([]*domain.Patient, 0, len(patients))
	for _, p := range patients {
		if pred(p) {
			out = append(out, p)
		}
	}
	return out
}
