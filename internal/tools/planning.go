package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"foodflow/copilot/internal/catalog"
	"foodflow/copilot/internal/tenancy"
)

func planningDefs(deps Deps) []catalog.Definition {
	return []catalog.Definition{
		{
			Name:        "get_forecast",
			Description: "Retrieve a demand forecast with baseline, confidence intervals, and accuracy metrics",
			Parameters: obj(map[string]*jsonschema.Schema{
				"forecast_id": str("The forecast ID (UUID format)"),
			}, "forecast_id"),
			Handler: getForecast(deps),
		},
		{
			Name:        "get_production_plans",
			Description: "List recent production plans with status, dates, and horizon",
			Parameters: obj(map[string]*jsonschema.Schema{
				"limit": integer("Maximum number of plans to return"),
			}),
			Handler: getProductionPlans(deps),
		},
		{
			Name:        "generate_forecast",
			Description: "Generate AI-powered demand forecast for specified horizon and grouping level",
			Parameters: obj(map[string]*jsonschema.Schema{
				"horizon_weeks": integer("Forecast horizon in weeks"),
				"grouping":      strEnum("Forecast grouping level", "sku", "category", "plant"),
				"sku_ids":       strArray("Optional list of specific SKU IDs"),
			}, "horizon_weeks", "grouping"),
			Handler: insightsCall(deps, deps.Insights.GenerateForecast),
		},
		{
			Name:        "generate_production_plan",
			Description: "Generate optimized production plan from forecast using AI-powered scheduling and capacity optimization",
			Parameters: obj(map[string]*jsonschema.Schema{
				"forecast_version_id": str("Base forecast ID (UUID format)"),
				"horizon_weeks":       integer("Planning horizon in weeks"),
				"plant_ids":           strArray("List of plant IDs to include in plan"),
			}, "forecast_version_id", "horizon_weeks", "plant_ids"),
			Handler: insightsCall(deps, deps.Insights.GenerateProductionPlan),
		},
		{
			Name:        "recommend_safety_stocks",
			Description: "Get AI-powered safety stock recommendations based on demand variability and lead times",
			Parameters: obj(map[string]*jsonschema.Schema{
				"sku_ids":      strArray("List of SKU IDs"),
				"location_ids": strArray("List of location IDs (UUIDs)"),
			}, "sku_ids", "location_ids"),
			Handler: insightsCall(deps, deps.Insights.RecommendSafetyStocks),
		},
	}
}

func getForecast(deps Deps) catalog.Func {
	return func(ctx context.Context, args map[string]any) (any, error) {
		tenantID := tenancy.IdentityFrom(ctx).TenantID
		forecastID := stringArg(args, "forecast_id")

		var (
			name, status                string
			method                      sql.NullString
			startDate, endDate          time.Time
			forecastData, accuracyBytes []byte
			generatedByAI               bool
			createdAt                   time.Time
		)
		err := deps.DB.QueryRowContext(ctx, `
			SELECT name, status, method, start_date, end_date,
				forecast_data, accuracy_metrics, generated_by_ai, created_at
			FROM forecasts
			WHERE id = $1 AND tenant_id = $2
		`, forecastID, tenantID).Scan(
			&name, &status, &method, &startDate, &endDate,
			&forecastData, &accuracyBytes, &generatedByAI, &createdAt,
		)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("forecast %s not found", forecastID)
		}
		if err != nil {
			return nil, fmt.Errorf("fetch forecast: %w", err)
		}

		result := map[string]any{
			"id":              forecastID,
			"name":            name,
			"status":          status,
			"method":          method.String,
			"start_date":      startDate,
			"end_date":        endDate,
			"horizon_weeks":   int(endDate.Sub(startDate).Hours() / (24 * 7)),
			"generated_by_ai": generatedByAI,
			"created_at":      createdAt,
		}
		if len(forecastData) > 0 {
			var data any
			if err := json.Unmarshal(forecastData, &data); err == nil {
				result["forecast_data"] = data
			}
		}
		if len(accuracyBytes) > 0 {
			var metrics any
			if err := json.Unmarshal(accuracyBytes, &metrics); err == nil {
				result["accuracy_metrics"] = metrics
			}
		}
		return result, nil
	}
}

func getProductionPlans(deps Deps) catalog.Func {
	return func(ctx context.Context, args map[string]any) (any, error) {
		tenantID := tenancy.IdentityFrom(ctx).TenantID
		limit := intArg(args, "limit", 10)

		rows, err := deps.DB.QueryContext(ctx, `
			SELECT id, plan_name, status, start_date, end_date,
				COALESCE(completion_percentage, 0), created_at
			FROM production_plans
			WHERE tenant_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		`, tenantID, limit)
		if err != nil {
			return nil, fmt.Errorf("fetch production plans: %w", err)
		}
		defer rows.Close()

		plans := []map[string]any{}
		for rows.Next() {
			var (
				id, planName, status string
				startDate, endDate   time.Time
				completion           float64
				createdAt            time.Time
			)
			if err := rows.Scan(&id, &planName, &status, &startDate, &endDate, &completion, &createdAt); err != nil {
				return nil, fmt.Errorf("scan production plan: %w", err)
			}
			plans = append(plans, map[string]any{
				"id":                    id,
				"name":                  planName,
				"status":                status,
				"start_date":            startDate,
				"end_date":              endDate,
				"completion_percentage": completion,
				"created_at":            createdAt,
			})
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate production plans: %w", err)
		}

		return map[string]any{"plans": plans, "count": len(plans)}, nil
	}
}
