package rpc

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// WireType is the declared bus type of a property.
type WireType string

const (
	TypeInt32  WireType = "i"
	TypeBool   WireType = "b"
	TypeString WireType = "s"
)

func (t WireType) valid() bool {
	return t == TypeInt32 || t == TypeBool || t == TypeString
}

// PropertyEntry is one whitelisted property. A nil Set makes it read-only.
type PropertyEntry struct {
	Name string
	Type WireType
	Get  func() interface{}
	Set  func(value interface{}) bool
}

var (
	ErrDuplicateProperty = errors.New("duplicate property")
	ErrUnknownProperty   = errors.New("unknown or read-only property")
	ErrUnsupportedType   = errors.New("unsupported value type")
)

// PropertyRegistry is the immutable whitelist behind GetProperty/SetProperty.
type PropertyRegistry struct {
	entries map[string]PropertyEntry
}

// NewPropertyRegistry validates and indexes entries.
func NewPropertyRegistry(entries ...PropertyEntry) (*PropertyRegistry, error) {
	r := &PropertyRegistry{entries: make(map[string]PropertyEntry, len(entries))}
	for _, e := range entries {
		if e.Name == "" {
			return nil, errors.New("property with empty name")
		}
		if !e.Type.valid() {
			return nil, fmt.Errorf("property %s: unsupported wire type %q", e.Name, e.Type)
		}
		if _, dup := r.entries[e.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProperty, e.Name)
		}
		r.entries[e.Name] = e
	}
	return r, nil
}

// Get returns the property value wrapped in a variant of its declared type.
func (r *PropertyRegistry) Get(name string) (dbus.Variant, error) {
	e, ok := r.entries[name]
	if !ok || e.Get == nil {
		return dbus.Variant{}, fmt.Errorf("%w: %s", ErrUnknownProperty, name)
	}
	val := e.Get()
	if val == nil {
		return dbus.Variant{}, fmt.Errorf("property %s: getter returned no value", name)
	}
	v := dbus.MakeVariant(val)
	if v.Signature().String() != string(e.Type) {
		return dbus.Variant{}, fmt.Errorf("property %s: getter returned %s, declared %s", name, v.Signature(), e.Type)
	}
	return v, nil
}

// Set checks the value's wire type against the declaration and invokes the
// setter, returning its verdict.
func (r *PropertyRegistry) Set(name string, value dbus.Variant) (bool, error) {
	e, ok := r.entries[name]
	if !ok || e.Get == nil || e.Set == nil {
		return false, fmt.Errorf("%w: %s", ErrUnknownProperty, name)
	}
	if value.Signature().String() != string(e.Type) {
		return false, fmt.Errorf("%w: %s wants %s, got %s", ErrUnsupportedType, name, e.Type, value.Signature())
	}
	return e.Set(value.Value()), nil
}
