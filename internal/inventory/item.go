package inventory

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the stock level of an item. Any value outside the three
// allowed constants fails validation.
type Status string

const (
	StatusInStock    Status = "in_stock"
	StatusLowStock   Status = "low_stock"
	StatusOutOfStock Status = "out_of_stock"
)

func (s Status) Valid() bool {
	switch s {
	case StatusInStock, StatusLowStock, StatusOutOfStock:
		return true
	}
	return false
}

// Item is an inventory record. Category doubles as the partition key:
// (ID, Category) identifies an item, and Category and CreatedAt are
// write-once after creation.
//
// VersionToken is assigned by the store on every successful write and is
// opaque to callers. UpdatedAt is stamped by the service on every mutation;
// it is nil on a freshly created item.
type Item struct {
	ID           string     `json:"id" dynamodbav:"id"`
	Category     string     `json:"category" dynamodbav:"category"`
	Name         string     `json:"name" dynamodbav:"name"`
	Description  string     `json:"description,omitempty" dynamodbav:"description,omitempty"`
	Tags         []string   `json:"tags,omitempty" dynamodbav:"tags,omitempty"`
	Quantity     int        `json:"quantity" dynamodbav:"quantity"`
	Price        float64    `json:"price" dynamodbav:"price"`
	Status       Status     `json:"status" dynamodbav:"status"`
	CreatedAt    time.Time  `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty" dynamodbav:"updated_at,omitempty"`
	VersionToken string     `json:"version_token,omitempty" dynamodbav:"version"`
}

// Key identifies an item within the store.
type Key struct {
	ID       string `json:"id"`
	Category string `json:"category"`
}

func (k Key) String() string {
	return k.Category + "/" + k.ID
}

// ItemPatch is a partial update. A nil field is left untouched; a non-nil
// field overwrites the stored value. Category and CreatedAt are carried so
// that attempts to change them can be rejected rather than silently dropped.
//
// ItemPatch distinguishes "omitted" from "explicitly null": a JSON null for
// any field is rejected at decode time, since a merge has no meaningful
// null semantics for this record shape.
type ItemPatch struct {
	Name        *string
	Description *string
	Tags        *[]string
	Quantity    *int
	Price       *float64
	Status      *Status
	Category    *string
	CreatedAt   *time.Time
}

// IsZero reports whether the patch carries no fields at all.
func (p ItemPatch) IsZero() bool {
	return p.Name == nil && p.Description == nil && p.Tags == nil &&
		p.Quantity == nil && p.Price == nil && p.Status == nil &&
		p.Category == nil && p.CreatedAt == nil
}

// ApplyTo merges the patch over item, field by field. Immutable-field
// checks are the caller's responsibility.
func (p ItemPatch) ApplyTo(item *Item) {
	if p.Name != nil {
		item.Name = *p.Name
	}
	if p.Description != nil {
		item.Description = *p.Description
	}
	if p.Tags != nil {
		item.Tags = *p.Tags
	}
	if p.Quantity != nil {
		item.Quantity = *p.Quantity
	}
	if p.Price != nil {
		item.Price = *p.Price
	}
	if p.Status != nil {
		item.Status = *p.Status
	}
}

// UnmarshalJSON decodes a patch body, tracking field presence explicitly.
// Unknown fields and explicit nulls are decode errors, and updated_at is
// rejected because it is never caller-authoritative.
func (p *ItemPatch) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for field, val := range raw {
		if string(val) == "null" {
			return fmt.Errorf("patch field %q: explicit null is not allowed, omit the field instead", field)
		}
		var err error
		switch field {
		case "name":
			err = json.Unmarshal(val, &p.Name)
		case "description":
			err = json.Unmarshal(val, &p.Description)
		case "tags":
			err = json.Unmarshal(val, &p.Tags)
		case "quantity":
			err = json.Unmarshal(val, &p.Quantity)
		case "price":
			err = json.Unmarshal(val, &p.Price)
		case "status":
			err = json.Unmarshal(val, &p.Status)
		case "category":
			err = json.Unmarshal(val, &p.Category)
		case "created_at":
			err = json.Unmarshal(val, &p.CreatedAt)
		case "updated_at", "version_token", "id":
			return fmt.Errorf("patch field %q: not patchable", field)
		default:
			return fmt.Errorf("patch field %q: unknown field", field)
		}
		if err != nil {
			return fmt.Errorf("patch field %q: %w", field, err)
		}
	}
	return nil
}
