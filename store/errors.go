package store

import "fmt"

// DuplicateApplicationError signals an application-creation request
// reusing a name that already exists
type DuplicateApplicationError struct {
	Name string
}

func (e *DuplicateApplicationError) Error() string {
	return fmt.Sprintf("application with name '%s' already exists", e.Name)
}

// NotFoundError is the normal negative-result signal for detail lookups
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Key)
}
