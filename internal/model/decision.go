package model

// Route is the router's choice of how much work to spend on a record.
type Route string

// Decision routes, cheapest first.
const (
	RouteCached           Route = "USE_CACHED"
	RouteRule             Route = "USE_RULE"
	RouteRetrieveSimple   Route = "RETRIEVE_SIMPLE"
	RouteRetrieveEnhanced Route = "RETRIEVE_ENHANCED"
)

// NeedsRetrieval reports whether the route goes through the retrieval engine.
func (r Route) NeedsRetrieval() bool {
	return r == RouteRetrieveSimple || r == RouteRetrieveEnhanced
}

// Decision is the router's verdict for one record with the evidence behind it.
type Decision struct {
	Pattern    *PatternEntry
	Rule       *StaticRule
	Route      Route
	RuleID     string
	Reasons    []string
	Confidence float64
	Complex    bool
}
