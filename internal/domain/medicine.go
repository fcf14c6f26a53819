package domain

import "time"

// MedicineRange selects which lifecycle states a request search returns.
type MedicineRange int

const (
	RangeAll MedicineRange = iota
	RangeOpen
	RangeClosed
)

func (r MedicineRange) String() string {
	switch r {
	case RangeOpen:
		return "open"
	case RangeClosed:
		return "closed"
	}
	return "all"
}

// Medicine is a single medicine request raised by a patient. It is
// created open and transitions to closed exactly once; it is never
// reopened. ResolvedOn stays at its zero value while the request is
// open.
type Medicine struct {
	ID        int `gorm:"primaryKey" json:"id"`
	PatientID int `gorm:"column:patient_id;not null;index" json:"patient_id"`

	// Back-reference to the owning patient. Excluded from JSON to stop
	// a cyclical marshal; the file store relinks it after load.
	Patient *Patient `gorm:"foreignKey:PatientID" json:"-"`

	Request    string    `gorm:"column:request;type:varchar(100);not null" json:"request"`
	Resolution string    `gorm:"column:resolution;type:varchar(100)" json:"resolution"`
	CreatedOn  time.Time `gorm:"column:created_on;not null" json:"created_on"`
	ResolvedOn time.Time `gorm:"column:resolved_on" json:"resolved_on"`
	Active     bool      `gorm:"column:active;index" json:"active"`
}

func (Medicine) TableName() string {
	return "clinic.medicines"
}

// DefaultResolution is recorded when a request is closed without an
// explicit resolution note.
const DefaultResolution = "Prescription resolved."

// Close resolves the request. Closing an already-closed request fails
// with ErrRequestAlreadyClosed; the transition is never reversed.
func (m *Medicine) Close(resolution string, at time.Time) error {
	if !m.Active {
		return ErrRequestAlreadyClosed
	}
	if resolution == "" {
		resolution = DefaultResolution
	}
	m.Active = false
	m.Resolution = resolution
	m.ResolvedOn = at
	return nil
}

// PatientName returns the owning patient's name, or "" when the
// back-reference is not populated.
func (m *Medicine) PatientName() string {
	if m.Patient == nil {
		return ""
	}
	return m.Patient.Name
}
