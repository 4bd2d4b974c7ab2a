package domain

import "time"

// Project is the synthetic record returned by GET /api/public/projects
// (spec.md §6). The core always exposes exactly the configured default
// project; the multi-project supplement (SPEC_FULL.md §3) stores
// additional rows with bcrypt-hashed key pairs in the same shape.
type Project struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Metadata  map[string]any `json:"metadata"`

	// PublicKeyHash/SecretKeyHash are bcrypt hashes of a project-scoped
	// key pair, present only for non-default projects created through
	// the multi-project supplement. Never serialized.
	PublicKeyHash string `json:"-"`
	SecretKeyHash string `json:"-"`
}
