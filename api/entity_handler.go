package api

import (
	"context"
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/datastore"
	"github.com/xraph/datastore/mapping"
)

func (a *API) registerEntityRoutes(router forge.Router) error {
	g := router.Group("/v1", forge.WithGroupTags("entities"))

	if err := g.GET("/entities", a.listEntities,
		forge.WithSummary("List entities"),
		forge.WithDescription("Lists the registered persistent entities."),
		forge.WithOperationID("listEntities"),
		forge.WithResponseSchema(http.StatusOK, "Entity list", []EntityInfo{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.GET("/entities/:entity", a.listEntries,
		forge.WithSummary("List entries"),
		forge.WithDescription("Lists stored entries of an entity in backend order."),
		forge.WithOperationID("listEntries"),
		forge.WithRequestSchema(ListEntriesRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Entry list", ListResponse[EntryResponse]{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	return g.GET("/entities/:entity/:key", a.getEntry,
		forge.WithSummary("Get entry"),
		forge.WithDescription("Returns the stored entry of one entity instance."),
		forge.WithOperationID("getEntry"),
		forge.WithRequestSchema(GetEntryRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Entry", EntryResponse{}),
		forge.WithErrorResponses(),
	)
}

func (a *API) listEntities(ctx forge.Context, _ *struct{}) ([]EntityInfo, error) {
	infos := entityInfos(a.ds.MappingContext())
	return infos, ctx.JSON(http.StatusOK, infos)
}

func (a *API) listEntries(ctx forge.Context, req *ListEntriesRequest) (*ListResponse[EntryResponse], error) {
	limit := defaultLimit(req.Limit)
	items, err := a.readEntries(ctx.Context(), ctx.Param("entity"), limit, req.Offset)
	if err != nil {
		return nil, mapError(err)
	}
	resp := &ListResponse[EntryResponse]{Items: items, Limit: limit, Offset: req.Offset}
	return resp, ctx.JSON(http.StatusOK, resp)
}

func (a *API) getEntry(ctx forge.Context, _ *GetEntryRequest) (EntryResponse, error) {
	entry, err := a.readEntry(ctx.Context(), ctx.Param("entity"), ctx.Param("key"))
	if err != nil {
		return nil, mapError(err)
	}
	if entry == nil {
		return nil, forge.NotFound("entry not found")
	}
	return entry, ctx.JSON(http.StatusOK, entry)
}

// readEntries lists entries through a stateless session so inspection never
// populates a first-level cache.
func (a *API) readEntries(ctx context.Context, entity string, limit, offset int) ([]EntryResponse, error) {
	s, err := a.ds.ConnectStateless(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = s.Disconnect(ctx) }()

	q, err := s.CreateQuery(entity)
	if err != nil {
		return nil, err
	}
	results, err := q.Max(limit).Offset(offset).List(ctx)
	if err != nil {
		return nil, err
	}
	return toEntries(s, results)
}

func (a *API) readEntry(ctx context.Context, entity, key string) (EntryResponse, error) {
	s, err := a.ds.ConnectStateless(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = s.Disconnect(ctx) }()

	inst, err := s.Retrieve(ctx, entity, key)
	if err != nil || inst == nil {
		return nil, err
	}
	entries, err := toEntries(s, []any{inst})
	if err != nil {
		return nil, err
	}
	return entries[0], nil
}

func toEntries(s *datastore.Session, instances []any) ([]EntryResponse, error) {
	out := make([]EntryResponse, 0, len(instances))
	for _, inst := range instances {
		acc, err := s.EntityAccess(inst)
		if err != nil {
			return nil, err
		}
		e, err := acc.ToEntry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func entityInfos(mc *mapping.Context) []EntityInfo {
	entities := mc.Entities()
	infos := make([]EntityInfo, 0, len(entities))
	for _, e := range entities {
		info := EntityInfo{
			Name:       e.Name,
			Collection: e.CollectionName(),
			Identity:   e.Identity.Name,
			Versioned:  e.IsVersioned(),
			Stateless:  e.IsStateless(),
		}
		for _, p := range e.Properties {
			info.Properties = append(info.Properties, p.Name)
		}
		if parent := e.Parent(); parent != nil {
			info.Parent = parent.Name
		}
		infos = append(infos, info)
	}
	return infos
}
