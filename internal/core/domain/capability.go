package domain

import (
	"errors"
	"strings"
)

var ErrForbidden = errors.New("forbidden")

type Capability string

const (
	CapCheckout      Capability = "checkout"
	CapViewOrders    Capability = "view_orders"
	CapManageCatalog Capability = "manage_catalog"
	CapManageOrders  Capability = "manage_orders"
	CapViewAnalytics Capability = "view_analytics"
)

type Role string

const (
	RoleCustomer  Role = "customer"
	RoleWarehouse Role = "warehouse"
	RoleAdmin     Role = "admin"
)

// CapabilitySet is an unordered set of capabilities.
type CapabilitySet map[Capability]struct{}

func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

func (s CapabilitySet) HasAll(caps ...Capability) bool {
	for _, c := range caps {
		if !s.Has(c) {
			return false
		}
	}
	return true
}

var roleCapabilities = map[Role]CapabilitySet{
	RoleCustomer:  NewCapabilitySet(CapCheckout, CapViewOrders),
	RoleWarehouse: NewCapabilitySet(CapCheckout, CapViewOrders, CapManageCatalog),
	RoleAdmin: NewCapabilitySet(
		CapCheckout, CapViewOrders, CapManageCatalog, CapManageOrders, CapViewAnalytics,
	),
}

// ParseRole normalises a stored role name. Unknown names are returned as-is
// and carry no capabilities.
func ParseRole(name string) Role {
	return Role(strings.ToLower(strings.TrimSpace(name)))
}

func (r Role) Capabilities() CapabilitySet {
	if set, ok := roleCapabilities[r]; ok {
		return set
	}
	return CapabilitySet{}
}

// Principal is the authenticated caller of an operation.
type Principal struct {
	UserID  int64
	Role    Role
	IsStaff bool
}

func (p Principal) Capabilities() CapabilitySet {
	if p.IsStaff {
		return RoleAdmin.Capabilities()
	}
	return p.Role.Capabilities()
}

// Authorize returns ErrForbidden unless the principal holds every required capability.
func Authorize(p Principal, required ...Capability) error {
	if p.UserID == 0 {
		return ErrForbidden
	}
	if !p.Capabilities().HasAll(required...) {
		return ErrForbidden
	}
	return nil
}
