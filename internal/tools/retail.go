package tools

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"foodflow/copilot/internal/catalog"
	"foodflow/copilot/internal/tenancy"
)

func retailDefs(deps Deps) []catalog.Definition {
	return []catalog.Definition{
		{
			Name:        "get_store_performance",
			Description: "Get store-level performance metrics including sales, velocity, and revenue over a date range",
			Parameters: obj(map[string]*jsonschema.Schema{
				"store_id":   str("The store ID (UUID format)"),
				"start_date": str("Start date in ISO format (YYYY-MM-DD)"),
				"end_date":   str("End date in ISO format (YYYY-MM-DD)"),
			}, "store_id", "start_date", "end_date"),
			Handler: getStorePerformance(deps),
		},
		{
			Name:        "forecast_retail_demand",
			Description: "Generate AI-powered store-level demand forecast accounting for local trends and promotions",
			Parameters: obj(map[string]*jsonschema.Schema{
				"banner_id":     str("The banner ID (UUID format)"),
				"store_ids":     strArray("List of store IDs (UUIDs)"),
				"sku_ids":       strArray("List of SKU IDs"),
				"horizon_weeks": integer("Forecast horizon in weeks"),
			}, "banner_id", "store_ids", "sku_ids", "horizon_weeks"),
			Handler: insightsCall(deps, deps.Insights.ForecastRetailDemand),
		},
		{
			Name:        "recommend_replenishment",
			Description: "Get AI-powered replenishment recommendations balancing availability with freshness and waste",
			Parameters: obj(map[string]*jsonschema.Schema{
				"banner_id": str("The banner ID (UUID format)"),
				"store_ids": strArray("List of store IDs (UUIDs)"),
				"sku_ids":   strArray("List of SKU IDs"),
			}, "banner_id", "store_ids", "sku_ids"),
			Handler: insightsCall(deps, deps.Insights.RecommendReplenishment),
		},
		{
			Name:        "detect_osa_issues",
			Description: "Detect on-shelf availability problems using AI pattern recognition across stores",
			Parameters: obj(map[string]*jsonschema.Schema{
				"category_id":  str("Optional category ID filter"),
				"banner_id":    str("Optional banner ID filter (UUID)"),
				"min_severity": strEnum("Minimum severity level", "low", "medium", "high"),
			}),
			Handler: insightsCall(deps, deps.Insights.DetectOSAIssues),
		},
		{
			Name:        "evaluate_promo",
			Description: "Evaluate promotion effectiveness calculating lift, ROI, cannibalization, and post-promo dip",
			Parameters: obj(map[string]*jsonschema.Schema{
				"promo_id": str("The promotion ID (UUID format)"),
			}, "promo_id"),
			Handler: insightsCall(deps, deps.Insights.EvaluatePromo),
		},
	}
}

func getStorePerformance(deps Deps) catalog.Func {
	return func(ctx context.Context, args map[string]any) (any, error) {
		tenantID := tenancy.IdentityFrom(ctx).TenantID
		storeID := stringArg(args, "store_id")
		startDate := stringArg(args, "start_date")
		endDate := stringArg(args, "end_date")

		var storeNumber, name string
		err := deps.DB.QueryRowContext(ctx, `
			SELECT store_number, name FROM stores WHERE id = $1 AND tenant_id = $2
		`, storeID, tenantID).Scan(&storeNumber, &name)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("store %s not found", storeID)
		}
		if err != nil {
			return nil, fmt.Errorf("fetch store: %w", err)
		}

		var (
			unitsSold    sql.NullInt64
			netRevenue   sql.NullFloat64
			transactions int
		)
		err = deps.DB.QueryRowContext(ctx, `
			SELECT SUM(quantity_sold), SUM(net_amount), COUNT(*)
			FROM pos_transactions
			WHERE tenant_id = $1 AND store_id = $2
			  AND transaction_date >= $3 AND transaction_date <= $4
		`, tenantID, storeID, startDate, endDate).Scan(&unitsSold, &netRevenue, &transactions)
		if err != nil {
			return nil, fmt.Errorf("aggregate pos transactions: %w", err)
		}

		var openIssues int
		err = deps.DB.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM osa_events
			WHERE tenant_id = $1 AND store_id = $2 AND NOT resolved
		`, tenantID, storeID).Scan(&openIssues)
		if err != nil {
			return nil, fmt.Errorf("count osa events: %w", err)
		}

		return map[string]any{
			"store_id":        storeID,
			"store_number":    storeNumber,
			"name":            name,
			"period":          map[string]any{"start": startDate, "end": endDate},
			"sales_units":     unitsSold.Int64,
			"net_revenue":     netRevenue.Float64,
			"transactions":    transactions,
			"open_osa_issues": openIssues,
		}, nil
	}
}
