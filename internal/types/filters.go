package types

// RunFilter narrows run listings
type RunFilter struct {
	Status   RunStatus // empty = all statuses
	TenantID string    // empty = all tenants
	Limit    int       // 0 = no limit
}

// UnknownFilter narrows unknown listings
type UnknownFilter struct {
	RunID        string
	Status       UnknownStatus // empty = all statuses
	BlockingOnly bool          // restrict to critical/high priorities
	Limit        int           // 0 = no limit
}
