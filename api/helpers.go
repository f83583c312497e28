package api

import (
	"errors"

	"github.com/xraph/forge"

	"github.com/xraph/datastore"
	"github.com/xraph/datastore/persister"
)

// mapError maps domain errors to Forge HTTP errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, datastore.ErrNonPersistentType) || errors.Is(err, persister.ErrEntryNotFound) {
		return forge.NotFound(err.Error())
	}
	if errors.Is(err, datastore.ErrSessionClosed) {
		return forge.BadRequest(err.Error())
	}
	return err
}

func defaultLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
