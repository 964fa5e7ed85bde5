package auth

// Credential is a registered project credential.
type Credential struct {
	ProjectID int64
	PublicKey string
}

// Registry maps project IDs to their registered public keys. It is built
// once at startup and never mutated afterwards, so concurrent reads need no
// locking. Reload is an external concern: build a new Registry and swap the
// pointer.
type Registry struct {
	keys map[int64]string
}

// NewRegistry builds a registry from the configured credentials. Later
// entries for the same project win.
func NewRegistry(creds []Credential) *Registry {
	keys := make(map[int64]string, len(creds))
	for _, c := range creds {
		keys[c.ProjectID] = c.PublicKey
	}
	return &Registry{keys: keys}
}

// Validate reports whether publicKey is the registered key for projectID.
func (r *Registry) Validate(projectID int64, publicKey string) bool {
	if publicKey == "" {
		return false
	}
	registered, ok := r.keys[projectID]
	return ok && registered == publicKey
}

// Knows reports whether projectID is registered at all.
func (r *Registry) Knows(projectID int64) bool {
	_, ok := r.keys[projectID]
	return ok
}

// Len returns the number of registered projects.
func (r *Registry) Len() int {
	return len(r.keys)
}
