package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrUnregisteredApp is returned for an app label the registry does not know
	ErrUnregisteredApp = errors.New("unregistered app")

	// ErrNotRegistered is returned when a model is missing from its app
	ErrNotRegistered = errors.New("model not registered")

	// ErrAlreadyRegistered is returned when registering a duplicate model
	ErrAlreadyRegistered = errors.New("model already registered")

	// ErrAccessorNotFound is returned when removing an accessor that is gone
	ErrAccessorNotFound = errors.New("accessor not found")

	// ErrAccessorClash is returned when two model families claim the same
	// reverse accessor on a target
	ErrAccessorClash = errors.New("reverse accessor clash")
)

// RegistryError describes a registry inconsistency
type RegistryError struct {
	App  string
	Name string
	Err  error
}

func (e *RegistryError) Error() string {
	switch {
	case errors.Is(e.Err, ErrUnregisteredApp):
		return fmt.Sprintf("Unregistered app %s", e.App)
	case errors.Is(e.Err, ErrNotRegistered):
		return fmt.Sprintf("%s.%s is not registered", e.App, e.Name)
	case errors.Is(e.Err, ErrAlreadyRegistered):
		return fmt.Sprintf("%s.%s is already registered", e.App, e.Name)
	default:
		return fmt.Sprintf("%s.%s: %v", e.App, e.Name, e.Err)
	}
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

// AccessorError describes a failure to add or remove a reverse accessor
type AccessorError struct {
	Target   string
	Accessor string
	Err      error
}

func (e *AccessorError) Error() string {
	return fmt.Sprintf("accessor %s on %s: %v", e.Accessor, e.Target, e.Err)
}

func (e *AccessorError) Unwrap() error {
	return e.Err
}
