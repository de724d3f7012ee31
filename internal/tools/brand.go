package tools

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"foodflow/copilot/internal/catalog"
	"foodflow/copilot/internal/tenancy"
)

const brandFallback = "I don't have that specific contract or specification in the system yet. I recommend uploading it to the Brand document library so I can reference it in the future."

func brandDefs(deps Deps) []catalog.Definition {
	return []catalog.Definition{
		{
			Name:        "get_brand_performance",
			Description: "Get brand-level performance metrics including revenue, margin, velocity, and units sold",
			Parameters: obj(map[string]*jsonschema.Schema{
				"brand_id":   str("The brand ID (UUID format)"),
				"start_date": str("Start date in ISO format (YYYY-MM-DD)"),
				"end_date":   str("End date in ISO format (YYYY-MM-DD)"),
			}, "brand_id", "start_date", "end_date"),
			Handler: getBrandPerformance(deps),
		},
		{
			Name:        "get_copacker_performance",
			Description: "Get co-packer performance metrics including quality, delivery, cost, and capacity utilization",
			Parameters: obj(map[string]*jsonschema.Schema{
				"copacker_id": str("The co-packer ID (UUID format)"),
			}, "copacker_id"),
			Handler: getCopackerPerformance(deps),
		},
		{
			Name:        "compute_margin_bridge",
			Description: "Generate AI-powered margin waterfall analysis comparing two time periods to identify drivers of margin change",
			Parameters: obj(map[string]*jsonschema.Schema{
				"brand_id":      str("The brand ID (UUID format)"),
				"period1_start": str("First period start date (YYYY-MM-DD)"),
				"period1_end":   str("First period end date (YYYY-MM-DD)"),
				"period2_start": str("Second period start date (YYYY-MM-DD)"),
				"period2_end":   str("Second period end date (YYYY-MM-DD)"),
			}, "brand_id", "period1_start", "period1_end", "period2_start", "period2_end"),
			Handler: insightsCall(deps, deps.Insights.ComputeMarginBridge),
		},
		{
			Name:        "evaluate_copacker",
			Description: "AI-powered co-packer risk and performance evaluation based on quality, delivery, financials, and capacity",
			Parameters: obj(map[string]*jsonschema.Schema{
				"copacker_id": str("The co-packer ID (UUID format)"),
			}, "copacker_id"),
			Handler: insightsCall(deps, deps.Insights.ComputeCopackerRisk),
		},
		{
			Name:        "answer_brand_question",
			Description: "Answer questions about brand contracts, specifications, and agreements using RAG-powered document search",
			Parameters: obj(map[string]*jsonschema.Schema{
				"question": str("The question about brand documents"),
			}, "question"),
			Handler: documentAnswer(deps, brandFallback),
		},
	}
}

func getBrandPerformance(deps Deps) catalog.Func {
	return func(ctx context.Context, args map[string]any) (any, error) {
		tenantID := tenancy.IdentityFrom(ctx).TenantID
		brandID := stringArg(args, "brand_id")
		startDate := stringArg(args, "start_date")
		endDate := stringArg(args, "end_date")

		var brandName string
		err := deps.DB.QueryRowContext(ctx, `
			SELECT name FROM brands WHERE id = $1 AND tenant_id = $2
		`, brandID, tenantID).Scan(&brandName)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("brand %s not found", brandID)
		}
		if err != nil {
			return nil, fmt.Errorf("fetch brand: %w", err)
		}

		var (
			unitsSold         sql.NullInt64
			grossRevenue      sql.NullFloat64
			grossMargin       sql.NullFloat64
			avgGrossMarginPct sql.NullFloat64
		)
		err = deps.DB.QueryRowContext(ctx, `
			SELECT SUM(units_sold), SUM(gross_revenue), SUM(gross_margin), AVG(gross_margin_pct)
			FROM brand_performance
			WHERE tenant_id = $1 AND brand_id = $2
			  AND period_start >= $3 AND period_end <= $4
		`, tenantID, brandID, startDate, endDate).Scan(
			&unitsSold, &grossRevenue, &grossMargin, &avgGrossMarginPct,
		)
		if err != nil {
			return nil, fmt.Errorf("aggregate brand performance: %w", err)
		}

		return map[string]any{
			"brand_id":         brandID,
			"brand_name":       brandName,
			"period":           map[string]any{"start": startDate, "end": endDate},
			"units_sold":       unitsSold.Int64,
			"gross_revenue":    grossRevenue.Float64,
			"gross_margin":     grossMargin.Float64,
			"gross_margin_pct": avgGrossMarginPct.Float64,
		}, nil
	}
}

func getCopackerPerformance(deps Deps) catalog.Func {
	return func(ctx context.Context, args map[string]any) (any, error) {
		tenantID := tenancy.IdentityFrom(ctx).TenantID
		copackerID := stringArg(args, "copacker_id")

		var (
			name, status                     string
			performanceScore, onTimeDelivery sql.NullFloat64
			qualityRating                    sql.NullFloat64
		)
		err := deps.DB.QueryRowContext(ctx, `
			SELECT name, status, performance_score, on_time_delivery_rate, quality_rating
			FROM copackers
			WHERE id = $1 AND tenant_id = $2
		`, copackerID, tenantID).Scan(&name, &status, &performanceScore, &onTimeDelivery, &qualityRating)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("co-packer %s not found", copackerID)
		}
		if err != nil {
			return nil, fmt.Errorf("fetch co-packer: %w", err)
		}

		result := map[string]any{
			"copacker_id": copackerID,
			"name":        name,
			"status":      status,
		}
		if performanceScore.Valid {
			result["performance_score"] = performanceScore.Float64
		}
		if onTimeDelivery.Valid {
			result["on_time_delivery_rate"] = onTimeDelivery.Float64
		}
		if qualityRating.Valid {
			result["quality_rating"] = qualityRating.Float64
		}
		return result, nil
	}
}
