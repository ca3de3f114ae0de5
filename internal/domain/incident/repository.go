package incident

import "context"

// Filter narrows incident listings.
type Filter struct {
	ScanID   string
	Rule     Rule
	Severity string
}

// Store persists the incident history across scans.
type Store interface {
	// Save records an incident under the scan batch that produced it.
	// Saving the same (scan, incident) pair twice overwrites the first copy.
	Save(ctx context.Context, scanID string, inc *Incident) error

	// List retrieves incidents matching the filter, newest scan first.
	List(ctx context.Context, filter Filter) ([]*Incident, error)

	// LatestScanID returns the most recent scan batch ID, or "" when the
	// store is empty.
	LatestScanID(ctx context.Context) (string, error)
}
