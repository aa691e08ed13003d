// Package store wires concrete storage backends to the domain packages. The
// Router pairs the document backend (Brazil) with the relational backend
// (Portugal, Spain) and hands each domain package the store its
// jurisdiction's backend provides.
package store

import (
	"github.com/advogo/billingcore/pkg/jurisdiction"
	"github.com/advogo/billingcore/pkg/subscription"
	"github.com/advogo/billingcore/pkg/upgrade"
	"github.com/advogo/billingcore/pkg/usage"
)

// Backend bundles every store a storage backend must provide.
type Backend interface {
	subscription.Store
	subscription.SubscriberStore
	upgrade.SessionStore
	usage.Store
}

// Router dispatches store lookups by backend kind. Unknown kinds fall
// through to the relational backend.
type Router struct {
	document   Backend
	relational Backend
}

var (
	_ subscription.StoreRouter = (*Router)(nil)
	_ upgrade.StoreRouter      = (*Router)(nil)
	_ usage.StoreRouter        = (*Router)(nil)
)

// NewRouter creates a router over the two backends. Panics when either is
// nil; deployments serving a single jurisdiction pass the same backend
// twice.
func NewRouter(document, relational Backend) *Router {
	if document == nil {
		panic("store: document backend is required")
	}
	if relational == nil {
		panic("store: relational backend is required")
	}
	return &Router{document: document, relational: relational}
}

func (r *Router) pick(b jurisdiction.Backend) Backend {
	if b == jurisdiction.BackendDocument {
		return r.document
	}
	return r.relational
}

func (r *Router) Subscriptions(b jurisdiction.Backend) subscription.Store { return r.pick(b) }

func (r *Router) Subscribers(b jurisdiction.Backend) subscription.SubscriberStore { return r.pick(b) }

func (r *Router) Sessions(b jurisdiction.Backend) upgrade.SessionStore { return r.pick(b) }

func (r *Router) Usage(b jurisdiction.Backend) usage.Store { return r.pick(b) }
