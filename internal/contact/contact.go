// Package contact defines the trusted emergency contact domain and its
// persistence interface. The store, not the database schema alone, is
// responsible for the two contact invariants: phone numbers are unique per
// user and at most one contact per user is marked primary.
package contact

import "time"

// Relation describes how a contact relates to the user.
type Relation string

const (
	RelationFamily    Relation = "family"
	RelationFriend    Relation = "friend"
	RelationPartner   Relation = "partner"
	RelationColleague Relation = "colleague"
	RelationGuardian  Relation = "guardian"
	RelationOther     Relation = "other"
)

// Valid reports whether r is a known relation.
func (r Relation) Valid() bool {
	switch r {
	case RelationFamily, RelationFriend, RelationPartner,
		RelationColleague, RelationGuardian, RelationOther:
		return true
	}
	return false
}

// Prefs selects which channels a contact is notified on.
type Prefs struct {
	SMS   bool `json:"sms"`
	Email bool `json:"email"`
	Push  bool `json:"push"`
}

// Contact is one trusted emergency contact, owned by exactly one user.
type Contact struct {
	ID       string   `json:"id"`
	UserID   string   `json:"user_id"`
	Name     string   `json:"name"`
	Phone    string   `json:"phone"`
	Email    string   `json:"email,omitempty"`
	Relation Relation `json:"relation"`
	Primary  bool     `json:"is_primary"`
	Active   bool     `json:"is_active"`
	Prefs    Prefs    `json:"notify"`

	AlertCount  int       `json:"alert_count"`
	LastAlertAt time.Time `json:"last_alert_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Params holds the fields for creating a contact.
type Params struct {
	Name     string
	Phone    string
	Email    string
	Relation Relation
	Primary  bool
	Prefs    Prefs
}

// Patch holds optional updates; nil fields are left unchanged.
type Patch struct {
	Name     *string
	Phone    *string
	Email    *string
	Relation *Relation
	Primary  *bool
	Active   *bool
	Prefs    *Prefs
}
