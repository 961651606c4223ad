package acl

// Scheme of an ACL entry's identifier.
type Scheme string

const (
	// SchemeWorld matches any session.
	SchemeWorld Scheme = "world"
	// SchemeAuthenticated matches any session that has a client
	// identity or a digest.
	SchemeAuthenticated Scheme = "auth"
	// SchemeHost matches sessions whose client identity is equal to
	// the identifier.
	SchemeHost Scheme = "host"
	// SchemeIP matches sessions whose client IP address is equal to
	// the identifier.
	SchemeIP Scheme = "ip"
	// SchemeDigest matches sessions whose digest is equal to the
	// identifier.
	SchemeDigest Scheme = "digest"
)

// ID identifies the principals to which an ACL entry applies.
type ID struct {
	Scheme     Scheme `cbor:"1,keyasint" json:"scheme"`
	Identifier string `cbor:"2,keyasint" json:"identifier"`
}

// Entry of an access control list.
type Entry struct {
	Perms Perm `cbor:"1,keyasint" json:"perms"`
	ID    ID   `cbor:"2,keyasint" json:"id"`
}

var (
	// OpenACLUnsafe grants all permissions to everyone.
	OpenACLUnsafe = []Entry{{Perms: PermAll, ID: ID{Scheme: SchemeWorld, Identifier: "anyone"}}}
	// ReadACLUnsafe grants read access to everyone.
	ReadACLUnsafe = []Entry{{Perms: PermRead, ID: ID{Scheme: SchemeWorld, Identifier: "anyone"}}}
)

// Authentication of the session on behalf of which an operation is
// performed.
type Authentication struct {
	// Super sessions bypass all ACL checks.
	IsSuperSession bool
	// Lock-free sessions don't acquire any locks while accessing
	// the tree. They accept observing the effects of concurrent
	// transactions.
	IsLockFreeSession bool

	ClientIdentity string
	ClientDigest   string
	ClientIP       string
}

func (e *Entry) matches(auth *Authentication) bool {
	switch e.ID.Scheme {
	case SchemeWorld:
		return true
	case SchemeAuthenticated:
		return auth.ClientIdentity != "" || auth.ClientDigest != ""
	case SchemeHost:
		return auth.ClientIdentity == e.ID.Identifier
	case SchemeIP:
		return auth.ClientIP == e.ID.Identifier
	case SchemeDigest:
		return auth.ClientDigest == "digest:"+e.ID.Identifier
	default:
		return false
	}
}

// IsAllowed returns whether an access control list grants a
// permission to a session. An empty list permits all access. Otherwise
// at least one entry must grant any of the requested permission bits to
// the session.
func IsAllowed(entries []Entry, auth *Authentication, perm Perm) bool {
	if len(entries) == 0 || auth.IsSuperSession {
		return true
	}
	for i := range entries {
		e := &entries[i]
		if e.Perms&perm != 0 && e.matches(auth) {
			return true
		}
	}
	return false
}
