package api

// GetEntryRequest holds the path parameters for fetching one entry.
type GetEntryRequest struct {
	Entity string `path:"entity" description:"Entity name"`
	Key    string `path:"key" description:"Entity identifier"`
}

// ListEntriesRequest holds query parameters for listing entries.
type ListEntriesRequest struct {
	Entity string `path:"entity" description:"Entity name"`
	Limit  int    `query:"limit" description:"Maximum results (default: 50)"`
	Offset int    `query:"offset" description:"Results to skip"`
}
