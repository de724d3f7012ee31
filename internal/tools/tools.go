// Package tools builds the per-workspace tool catalogs. Handlers either
// query the tenant's domain tables directly or delegate to the insights
// service for AI-powered analysis; document-backed tools degrade gracefully
// when the document pipeline is not wired.
package tools

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"foodflow/copilot/internal/catalog"
	"foodflow/copilot/internal/documents"
	"foodflow/copilot/internal/telemetry"
	"foodflow/copilot/internal/tenancy"
	"foodflow/copilot/internal/workspace"
	"foodflow/copilot/pkg/clients/insights"
	"foodflow/copilot/pkg/logging"
)

// Deps are the collaborators tool handlers close over. Searcher may be nil;
// document-backed tools then report the capability unavailable.
type Deps struct {
	DB       *sql.DB
	Insights *insights.Client
	Searcher *documents.Searcher
	Usage    *telemetry.UsageTracker
	Logger   logging.Logger
}

// Catalogs builds the immutable catalog for every workspace.
func Catalogs(deps Deps) (map[string]*catalog.Catalog, error) {
	build := map[string]func(Deps) []catalog.Definition{
		workspace.PlantOps: plantOpsDefs,
		workspace.FSQ:      fsqDefs,
		workspace.Planning: planningDefs,
		workspace.Brand:    brandDefs,
		workspace.Retail:   retailDefs,
	}

	catalogs := make(map[string]*catalog.Catalog, len(build))
	for ws, defs := range build {
		all := append(defs(deps), searchDocumentsDef(deps))
		c, err := catalog.New(all...)
		if err != nil {
			return nil, fmt.Errorf("build %s catalog: %w", ws, err)
		}
		catalogs[ws] = c
	}
	return catalogs, nil
}

// insightsCall binds one insights client method to the catalog handler shape.
// Arguments pass through to the service untouched; the client injects the
// tenant id from the request context. With no client configured the handler
// reports that as a tool error instead of calling through the nil receiver.
func insightsCall(deps Deps, call func(ctx context.Context, tenantID string, params map[string]interface{}) (map[string]interface{}, error)) catalog.Func {
	return func(ctx context.Context, args map[string]any) (any, error) {
		if deps.Insights == nil {
			return nil, errors.New("insights service is not configured")
		}
		tenantID := tenancy.IdentityFrom(ctx).TenantID
		result, err := call(ctx, tenantID, args)
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

// searchDocumentsDef is shared by every workspace. The degradable adapter
// turns an unconfigured or failing searcher into an available:false result.
func searchDocumentsDef(deps Deps) catalog.Definition {
	var search catalog.SearchFunc
	if deps.Searcher != nil {
		searcher := deps.Searcher
		search = func(ctx context.Context, args map[string]any) ([]any, error) {
			tenantID := tenancy.IdentityFrom(ctx).TenantID
			deps.Usage.RecordSearchQuery(tenantID)
			deps.Usage.RecordEmbedding(tenantID)
			results, err := searcher.Search(ctx, tenantID, stringArg(args, "query"), intArg(args, "top_k", 5))
			if err != nil {
				return nil, err
			}
			out := make([]any, 0, len(results))
			for _, r := range results {
				out = append(out, r)
			}
			return out, nil
		}
	}
	return catalog.Definition{
		Name:        "search_documents",
		Description: "Search indexed documents (SOPs, specifications, contracts, plans) for relevant passages",
		Parameters: obj(map[string]*jsonschema.Schema{
			"query": str("Natural language search query"),
			"top_k": integer("Maximum number of passages to return"),
		}, "query"),
		Kind:    catalog.KindDegradable,
		Handler: catalog.NewDegradable(search, documents.NotIndexedMessage),
	}
}

// documentAnswer serves the answer_*_question tools: retrieve passages for
// the question and hand them to the model as sources, or acknowledge the gap
// with the workspace's fallback text.
func documentAnswer(deps Deps, fallback string) catalog.Func {
	return func(ctx context.Context, args map[string]any) (any, error) {
		question := stringArg(args, "question")
		if deps.Searcher == nil {
			return map[string]any{"answer": fallback, "sources": []any{}, "has_documents": false}, nil
		}
		tenantID := tenancy.IdentityFrom(ctx).TenantID
		deps.Usage.RecordSearchQuery(tenantID)
		deps.Usage.RecordEmbedding(tenantID)
		results, err := deps.Searcher.Search(ctx, tenantID, question, 5)
		if err != nil || len(results) == 0 {
			return map[string]any{"answer": fallback, "sources": []any{}, "has_documents": false}, nil
		}
		return map[string]any{
			"answer":        "Based on the available documentation...",
			"sources":       results,
			"has_documents": true,
		}, nil
	}
}

// Schema construction helpers.

func obj(props map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object", Properties: props, Required: required}
}

func str(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: desc}
}

func strEnum(desc string, values ...any) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: desc, Enum: values}
}

func integer(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer", Description: desc}
}

func strArray(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "array", Description: desc, Items: &jsonschema.Schema{Type: "string"}}
}

func objSchema(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object", Description: desc}
}

// Argument readers. Validation already ran, so these only normalize JSON's
// loose typing (numbers arrive as float64).

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}
