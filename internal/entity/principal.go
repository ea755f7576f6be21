package domain

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Principal is the resolved identity an operation runs on behalf of.
type Principal struct {
	ID       string
	Username string
	Role     Role
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// Access describes what an operation needs from the calling principal.
type Access int

const (
	// AccessAuthenticated only needs a resolved identity.
	AccessAuthenticated Access = iota
	// AccessOwner needs the principal to own the resource, or be an admin.
	AccessOwner
	// AccessAdmin needs the admin role.
	AccessAdmin
)

// Authorize is the single role/ownership check used by every core operation.
// ownerID is ignored unless access is AccessOwner.
func Authorize(p Principal, access Access, ownerID string) error {
	if p.ID == "" {
		return ErrUnauthorized
	}
	switch access {
	case AccessAuthenticated:
		return nil
	case AccessOwner:
		if p.IsAdmin() || p.ID == ownerID {
			return nil
		}
		return Forbiddenf("not the owner of this resource")
	case AccessAdmin:
		if p.IsAdmin() {
			return nil
		}
		return Forbiddenf("admin access required")
	}
	return Forbiddenf("unknown access level")
}

type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         Role
	Active       bool
}

func (u *User) Principal() Principal {
	return Principal{ID: u.ID, Username: u.Username, Role: u.Role}
}
