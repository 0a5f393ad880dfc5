package inventory

import "regexp"

// Identifiers and categories share the same shape: category is a partition
// key and both end up embedded in store keys, so the charset is kept tight.
var reIdent = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateKey checks an (id, category) pair.
func ValidateKey(k Key) error {
	if !reIdent.MatchString(k.ID) {
		return &ValidationError{Field: "id", Reason: "required, max 64 chars of [A-Za-z0-9_-]"}
	}
	if !reIdent.MatchString(k.Category) {
		return &ValidationError{Field: "category", Reason: "required, max 64 chars of [A-Za-z0-9_-]"}
	}
	return nil
}

// ValidateItem checks the business attributes of an item about to be
// written. ID may be empty here; the service generates one before the write.
func ValidateItem(item Item) error {
	if item.ID != "" && !reIdent.MatchString(item.ID) {
		return &ValidationError{Field: "id", Reason: "max 64 chars of [A-Za-z0-9_-]"}
	}
	if !reIdent.MatchString(item.Category) {
		return &ValidationError{Field: "category", Reason: "required, max 64 chars of [A-Za-z0-9_-]"}
	}
	if item.Name == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if item.Quantity < 0 {
		return &ValidationError{Field: "quantity", Reason: "must not be negative"}
	}
	if item.Price < 0 {
		return &ValidationError{Field: "price", Reason: "must not be negative"}
	}
	if item.Status != "" && !item.Status.Valid() {
		return &ValidationError{Field: "status", Reason: "must be one of in_stock, low_stock, out_of_stock"}
	}
	return nil
}

// ValidatePatch checks the fields a patch carries. Immutability of category
// and created_at is enforced by the service against the stored item, not here.
func ValidatePatch(p ItemPatch) error {
	if p.IsZero() {
		return &ValidationError{Field: "patch", Reason: "no fields supplied"}
	}
	if p.Name != nil && *p.Name == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if p.Quantity != nil && *p.Quantity < 0 {
		return &ValidationError{Field: "quantity", Reason: "must not be negative"}
	}
	if p.Price != nil && *p.Price < 0 {
		return &ValidationError{Field: "price", Reason: "must not be negative"}
	}
	if p.Status != nil && !p.Status.Valid() {
		return &ValidationError{Field: "status", Reason: "must be one of in_stock, low_stock, out_of_stock"}
	}
	if p.Category != nil && !reIdent.MatchString(*p.Category) {
		return &ValidationError{Field: "category", Reason: "max 64 chars of [A-Za-z0-9_-]"}
	}
	return nil
}
