// Package marketplace declares the interfaces of the marketplace features
// this service collaborates with but does not implement: event planning,
// contracts, vendor profiles, data export and image search all live in
// their own services. Messaging only needs their shapes.
package marketplace

import (
	"context"
	"io"
	"time"
)

type Event struct {
	ID        int64
	PlannerID int64
	Name      string
	Date      time.Time
	Location  string
}

type VendorProfile struct {
	UserID      int64
	DisplayName string
	Category    string
	Description string
	ImageURL    string
}

type Contract struct {
	ID       int64
	EventID  int64
	VendorID int64
	SignedAt *time.Time
}

// EventService owns event creation and scheduling.
type EventService interface {
	GetEvent(ctx context.Context, eventID int64) (*Event, error)
	ListEvents(ctx context.Context, plannerID int64) ([]*Event, error)
}

// VendorProfileService aggregates vendor profile pages.
type VendorProfileService interface {
	GetProfile(ctx context.Context, vendorID int64) (*VendorProfile, error)
}

// ContractService owns the contract lifecycle.
type ContractService interface {
	GetContract(ctx context.Context, contractID int64) (*Contract, error)
}

// ExportService produces downloadable archives of a planner's data.
type ExportService interface {
	Export(ctx context.Context, plannerID int64) (io.ReadCloser, error)
}

// ImageSearch proxies vendor image lookups.
type ImageSearch interface {
	Search(ctx context.Context, query string) ([]string, error)
}
