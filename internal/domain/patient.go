package domain

// Patient is the subject raising medicine requests. A patient owns an
// ordered collection of requests; deleting the patient removes them too.
type Patient struct {
	ID       int    `gorm:"primaryKey" json:"id"`
	Name     string `gorm:"column:name;type:varchar(100);not null" json:"name"`
	Age      int    `gorm:"column:age;not null" json:"age"`
	Email    string `gorm:"column:email;type:varchar(255);uniqueIndex;not null" json:"email"`
	PhotoURL string `gorm:"column:photo_url;type:text" json:"photo_url"`

	Medicines []*Medicine `gorm:"foreignKey:PatientID;constraint:OnDelete:CASCADE" json:"medicines"`
}

func (Patient) TableName() string {
	return "clinic.patients"
}

// OpenRequests returns the patient's requests that are still active.
func (p *Patient) OpenRequests() []*Medicine {
	var open []*Medicine
	for _, m := range p.Medicines {
		if m.Active {
			open = append(open, m)
		}
	}
	return open
}
