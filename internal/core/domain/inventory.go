package domain

import (
	"strings"
	"time"
)

type Category string

const (
	CategoryEntry      Category = "entry"
	CategoryAssignment Category = "assignment"
	CategoryWastage    Category = "wastage"
	CategoryEvent      Category = "event"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryEntry, CategoryAssignment, CategoryWastage, CategoryEvent:
		return true
	}
	return false
}

// InventoryRecord is the value stored under a record key. ID, the two
// business identifiers, CreatedAt and both codes never change after creation.
type InventoryRecord struct {
	ID                  string    `json:"id"`
	Category            Category  `json:"category,omitempty"`
	ProductIdentifier   string    `json:"product_id"`
	InventoryIdentifier string    `json:"inventory_id"`
	Name                string    `json:"name"`
	Quantity            int       `json:"quantity"`
	Notes               string    `json:"notes,omitempty"`
	ScanCode            string    `json:"scan_code"`
	VerificationCode    string    `json:"verification_code"`
	Version             int       `json:"version"` // optimistic locking
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// LinkedCodes is a scan code together with the verification code bound to it.
type LinkedCodes struct {
	ScanCode         string
	VerificationCode string
}

// Identifiers returns the non-empty business identifiers, inventory first.
func (r InventoryRecord) Identifiers() []string {
	ids := make([]string, 0, 2)
	if r.InventoryIdentifier != "" {
		ids = append(ids, r.InventoryIdentifier)
	}
	if r.ProductIdentifier != "" {
		ids = append(ids, r.ProductIdentifier)
	}
	return ids
}

// HasIdentifier reports whether id occurs in either business identifier.
func (r InventoryRecord) HasIdentifier(id string) bool {
	if id == "" {
		return false
	}
	id = strings.ToUpper(id)
	return strings.Contains(strings.ToUpper(r.InventoryIdentifier), id) ||
		strings.Contains(strings.ToUpper(r.ProductIdentifier), id)
}

// RecordPatch holds the mutable fields of a record. Nil fields are left as is.
type RecordPatch struct {
	Name     *string `json:"name,omitempty"`
	Quantity *int    `json:"quantity,omitempty"`
	Notes    *string `json:"notes,omitempty"`
}

func (p RecordPatch) Apply(r *InventoryRecord) {
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.Quantity != nil {
		r.Quantity = *p.Quantity
	}
	if p.Notes != nil {
		r.Notes = *p.Notes
	}
}
