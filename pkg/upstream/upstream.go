// Package upstream defines the contract for fetching the authoritative
// inventory of sandbox accounts from the provider. The sync reconciler is
// the only component that holds one of these.
package upstream

import "context"

// Account is one (external_id, name, state) tuple as reported by upstream.
type Account struct {
	ExternalID string
	Name       string
	State      string
}

// Client fetches the full upstream account list.
type Client interface {
	List(ctx context.Context) ([]Account, error)
}
