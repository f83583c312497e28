// Package api provides read-only HTTP handlers for inspecting a datastore:
// registered entities, stored entries and session statistics.
package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/datastore"
)

// API wires the datastore HTTP handlers together.
type API struct {
	ds     *datastore.Datastore
	router forge.Router
}

// New creates an API from a Datastore and a Forge router.
func New(ds *datastore.Datastore, router forge.Router) *API {
	return &API{ds: ds, router: router}
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	if a.router == nil {
		a.router = forge.NewRouter()
	}
	if err := a.RegisterRoutes(a.router); err != nil {
		panic("datastore: register routes: " + err.Error())
	}
	return a.router.Handler()
}

// RegisterRoutes registers all API routes into the given Forge router.
func (a *API) RegisterRoutes(router forge.Router) error {
	registerers := []func(forge.Router) error{
		a.registerEntityRoutes,
		a.registerStatsRoutes,
	}
	for _, fn := range registerers {
		if err := fn(router); err != nil {
			return err
		}
	}
	return nil
}
