package domain

type Role string

const (
	RolePatient Role = "patient"
	RoleStaff   Role = "staff"
)

func (r Role) IsValid() bool {
	switch r {
	case RolePatient, RoleStaff:
		return true
	}
	return false
}

// User is a staff or patient account. Password always holds the bcrypt
// hash of the credential, never the plaintext; Register and UpdateUser
// hash before storing. Token is an opaque session token filled in on a
// successful Authenticate when token issuance is configured — it is
// caller-managed and never persisted.
type User struct {
	ID       int    `gorm:"primaryKey" json:"id"`
	Name     string `gorm:"column:name;type:varchar(100);not null" json:"name"`
	Email    string `gorm:"column:email;type:varchar(255);uniqueIndex;not null" json:"email"`
	Password string `gorm:"column:password;type:varchar(255);not null" json:"password"`
	Role     Role   `gorm:"column:role;type:varchar(20);not null" json:"role"`

	Token string `gorm:"-" json:"-"`
}

func (User) TableName() string {
	return "clinic.users"
}
