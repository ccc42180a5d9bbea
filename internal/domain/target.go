package domain

import "fmt"

// ContentType names the kind of record a quality flag points at.
type ContentType string

const (
	ContentTypeShoppingCenter ContentType = "shopping_center"
	ContentTypeTenant         ContentType = "tenant"
	ContentTypeImportRecord   ContentType = "import_record"
)

// Target is the subject of a quality flag. It is a closed set: ShoppingCenterRef,
// TenantRef and ImportRecordRef. The reference is weak, the target may have been
// deleted since the flag was raised.
type Target interface {
	ContentType() ContentType
	ObjectID() int64
	target()
}

// ShoppingCenterRef points at a shopping center by id.
type ShoppingCenterRef struct{ ID int64 }

func (ShoppingCenterRef) ContentType() ContentType { return ContentTypeShoppingCenter }
func (r ShoppingCenterRef) ObjectID() int64 { return r.ID }
func (ShoppingCenterRef) target() {}

// TenantRef points at a tenant by id.
type TenantRef struct{ ID int64 }

func (TenantRef) ContentType() ContentType { return ContentTypeTenant }
func (r TenantRef) ObjectID() int64 { return r.ID }
func (TenantRef) target() {}

// ImportRecordRef points at a source row of the owning batch, used when no entity
// could be written for it.
type ImportRecordRef struct{ Row int64 }

func (ImportRecordRef) ContentType() ContentType { return ContentTypeImportRecord }
func (r ImportRecordRef) ObjectID() int64 { return r.Row }
func (ImportRecordRef) target() {}

// ParseTarget rebuilds a Target from its stored content type and object id.
func ParseTarget(contentType string, objectID int64) (Target, error) {
	switch ContentType(contentType) {
	case ContentTypeShoppingCenter:
		return ShoppingCenterRef{ID: objectID}, nil
	case ContentTypeTenant:
		return TenantRef{ID: objectID}, nil
	case ContentTypeImportRecord:
		return ImportRecordRef{Row: objectID}, nil
	}
	return nil, NewValidationError("content_type", fmt.Sprintf("unknown content type %q", contentType))
}
