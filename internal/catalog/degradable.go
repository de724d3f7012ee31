package catalog

import "context"

// DegradedContent is the wire shape every degradable tool produces. An
// unavailable capability is a normal tool result, not an execution error.
type DegradedContent struct {
	Available bool   `json:"available"`
	Results   []any  `json:"results"`
	Message   string `json:"message,omitempty"`
}

// SearchFunc is the collaborator behind a degradable tool.
type SearchFunc func(ctx context.Context, args map[string]any) ([]any, error)

type degradable struct {
	search      SearchFunc
	unavailable string
}

// NewDegradable wraps an optional collaborator. When search is nil (not
// configured) or returns an error (down), the handler reports the capability
// unavailable with the given message instead of failing the invocation.
func NewDegradable(search SearchFunc, unavailableMessage string) Handler {
	return degradable{search: search, unavailable: unavailableMessage}
}

func (d degradable) Run(ctx context.Context, args map[string]any) (any, error) {
	if d.search == nil {
		return DegradedContent{Available: false, Results: []any{}, Message: d.unavailable}, nil
	}
	results, err := d.search(ctx, args)
	if err != nil {
		return DegradedContent{Available: false, Results: []any{}, Message: d.unavailable}, nil
	}
	if results == nil {
		results = []any{}
	}
	return DegradedContent{Available: true, Results: results}, nil
}

func (degradable) handler() {}
