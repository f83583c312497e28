package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/datastore/cache"
)

func (a *API) registerStatsRoutes(router forge.Router) error {
	g := router.Group("/v1", forge.WithGroupTags("stats"))

	return g.GET("/stats", a.getStats,
		forge.WithSummary("Datastore statistics"),
		forge.WithDescription("Returns open session and second-level cache counters."),
		forge.WithOperationID("getStats"),
		forge.WithResponseSchema(http.StatusOK, "Statistics", StatsResponse{}),
		forge.WithErrorResponses(),
	)
}

func (a *API) getStats(ctx forge.Context, _ *struct{}) (*StatsResponse, error) {
	resp := a.stats()
	return resp, ctx.JSON(http.StatusOK, resp)
}

func (a *API) stats() *StatsResponse {
	resp := &StatsResponse{
		OpenSessions: a.ds.OpenSessions(),
		Entities:     len(a.ds.MappingContext().Entities()),
	}
	if c, ok := a.ds.Cache().(*cache.Memory); ok {
		st := c.Stats()
		resp.Cache = &CacheStats{Hits: st.Hits, Misses: st.Misses, Size: st.Size}
	}
	return resp
}
