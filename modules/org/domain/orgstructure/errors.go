package orgstructure

import "fmt"

// FieldError describes an invalid field on an entity.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}
