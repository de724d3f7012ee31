package tools

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"foodflow/copilot/internal/catalog"
	"foodflow/copilot/internal/tenancy"
)

func plantOpsDefs(deps Deps) []catalog.Definition {
	return []catalog.Definition{
		{
			Name:        "get_line_status",
			Description: "Get current status and real-time metrics for a production line including speed, capacity, and recent batches",
			Parameters: obj(map[string]*jsonschema.Schema{
				"line_id": str("The production line ID (UUID format)"),
			}, "line_id"),
			Handler: getLineStatus(deps),
		},
		{
			Name:        "get_batch_details",
			Description: "Retrieve detailed information about a specific production batch including quantities, yield, timing, and OEE",
			Parameters: obj(map[string]*jsonschema.Schema{
				"batch_id": str("The batch ID (UUID format)"),
			}, "batch_id"),
			Handler: getBatchDetails(deps),
		},
		{
			Name:        "analyze_scrap",
			Description: "Analyze scrap patterns and identify root causes using AI-powered analytics for a production line over a date range",
			Parameters: obj(map[string]*jsonschema.Schema{
				"plant_id":   str("The plant ID (UUID format)"),
				"line_id":    str("The production line ID (UUID format)"),
				"start_date": str("Start date in ISO format (YYYY-MM-DD)"),
				"end_date":   str("End date in ISO format (YYYY-MM-DD)"),
			}, "plant_id", "line_id", "start_date", "end_date"),
			Handler: insightsCall(deps, deps.Insights.AnalyzeScrap),
		},
		{
			Name:        "suggest_trial",
			Description: "Get AI-powered trial parameter recommendations to optimize line performance (reduce scrap, increase speed, improve quality)",
			Parameters: obj(map[string]*jsonschema.Schema{
				"line_id":            str("The production line ID (UUID format)"),
				"sku_id":             str("The SKU/product code"),
				"current_parameters": objSchema("Current line parameters (temperature, speed, pressure, etc.)"),
				"optimization_goal":  strEnum("Optimization objective", "reduce_scrap", "increase_speed", "improve_quality"),
			}, "line_id", "sku_id", "current_parameters"),
			Handler: insightsCall(deps, deps.Insights.SuggestTrial),
		},
		{
			Name:        "get_money_leaks",
			Description: "Get money leak breakdown by category (scrap cost, downtime cost, yield loss) for a plant over a date range",
			Parameters: obj(map[string]*jsonschema.Schema{
				"plant_id":   str("The plant ID (UUID format)"),
				"start_date": str("Start date in ISO format (YYYY-MM-DD)"),
				"end_date":   str("End date in ISO format (YYYY-MM-DD)"),
			}, "plant_id", "start_date", "end_date"),
			Handler: getMoneyLeaks(deps),
		},
		{
			Name:        "compare_batch",
			Description: "Compare a batch to similar historical batches using AI to identify deviations and insights",
			Parameters: obj(map[string]*jsonschema.Schema{
				"batch_id": str("The batch ID (UUID format)"),
			}, "batch_id"),
			Handler: insightsCall(deps, deps.Insights.CompareBatch),
		},
	}
}

func getLineStatus(deps Deps) catalog.Func {
	return func(ctx context.Context, args map[string]any) (any, error) {
		tenantID := tenancy.IdentityFrom(ctx).TenantID
		lineID := stringArg(args, "line_id")

		var (
			name, lineNumber, status  string
			capacity                  sql.NullInt64
			currentSpeed, targetSpeed sql.NullFloat64
		)
		err := deps.DB.QueryRowContext(ctx, `
			SELECT name, line_number, status, capacity_per_hour, current_speed, target_speed
			FROM production_lines
			WHERE id = $1 AND tenant_id = $2
		`, lineID, tenantID).Scan(&name, &lineNumber, &status, &capacity, &currentSpeed, &targetSpeed)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("line %s not found", lineID)
		}
		if err != nil {
			return nil, fmt.Errorf("fetch line: %w", err)
		}

		rows, err := deps.DB.QueryContext(ctx, `
			SELECT id, batch_number, product_code, status, COALESCE(actual_quantity, 0), actual_start_time
			FROM production_batches
			WHERE line_id = $1 AND tenant_id = $2
			ORDER BY created_at DESC
			LIMIT 5
		`, lineID, tenantID)
		if err != nil {
			return nil, fmt.Errorf("fetch recent batches: %w", err)
		}
		defer rows.Close()

		recent := []map[string]any{}
		for rows.Next() {
			var (
				id, batchNumber, productCode, batchStatus string
				quantity                                  int
				startedAt                                 sql.NullTime
			)
			if err := rows.Scan(&id, &batchNumber, &productCode, &batchStatus, &quantity, &startedAt); err != nil {
				return nil, fmt.Errorf("scan batch: %w", err)
			}
			entry := map[string]any{
				"id":           id,
				"batch_number": batchNumber,
				"product_code": productCode,
				"status":       batchStatus,
				"quantity":     quantity,
			}
			if startedAt.Valid {
				entry["started_at"] = startedAt.Time
			}
			recent = append(recent, entry)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate batches: %w", err)
		}

		result := map[string]any{
			"line_id":        lineID,
			"line_number":    lineNumber,
			"name":           name,
			"status":         status,
			"recent_batches": recent,
		}
		if capacity.Valid {
			result["capacity_per_hour"] = capacity.Int64
		}
		if currentSpeed.Valid {
			result["current_speed"] = currentSpeed.Float64
		}
		if targetSpeed.Valid {
			result["target_speed"] = targetSpeed.Float64
		}
		return result, nil
	}
}

func getBatchDetails(deps Deps) catalog.Func {
	return func(ctx context.Context, args map[string]any) (any, error) {
		tenantID := tenancy.IdentityFrom(ctx).TenantID
		batchID := stringArg(args, "batch_id")

		var (
			batchNumber, productCode, productName, status string
			lineName                                      sql.NullString
			targetQty                                     int
			actualQty, goodQty, scrapQty                  sql.NullInt64
			oee                                           sql.NullFloat64
			actualStart, actualEnd                        sql.NullTime
		)
		err := deps.DB.QueryRowContext(ctx, `
			SELECT b.batch_number, b.product_code, b.product_name, b.status, l.name,
				b.target_quantity, b.actual_quantity, b.good_quantity, b.scrap_quantity,
				b.oee, b.actual_start_time, b.actual_end_time
			FROM production_batches b
			LEFT JOIN production_lines l ON l.id = b.line_id
			WHERE b.id = $1 AND b.tenant_id = $2
		`, batchID, tenantID).Scan(
			&batchNumber, &productCode, &productName, &status, &lineName,
			&targetQty, &actualQty, &goodQty, &scrapQty,
			&oee, &actualStart, &actualEnd,
		)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("batch %s not found", batchID)
		}
		if err != nil {
			return nil, fmt.Errorf("fetch batch: %w", err)
		}

		result := map[string]any{
			"id":              batchID,
			"batch_number":    batchNumber,
			"product_code":    productCode,
			"product_name":    productName,
			"status":          status,
			"line_name":       lineName.String,
			"target_quantity": targetQty,
		}
		if actualQty.Valid {
			result["actual_quantity"] = actualQty.Int64
			if targetQty > 0 {
				result["yield_pct"] = float64(actualQty.Int64) / float64(targetQty) * 100
			}
		}
		if goodQty.Valid {
			result["good_quantity"] = goodQty.Int64
		}
		if scrapQty.Valid {
			result["scrap_quantity"] = scrapQty.Int64
		}
		if oee.Valid {
			result["oee"] = oee.Float64
		}
		if actualStart.Valid {
			result["start_time"] = actualStart.Time
		}
		if actualEnd.Valid {
			result["end_time"] = actualEnd.Time
			if actualStart.Valid {
				result["duration_minutes"] = actualEnd.Time.Sub(actualStart.Time).Minutes()
			}
		}
		return result, nil
	}
}

func getMoneyLeaks(deps Deps) catalog.Func {
	return func(ctx context.Context, args map[string]any) (any, error) {
		tenantID := tenancy.IdentityFrom(ctx).TenantID
		plantID := stringArg(args, "plant_id")
		startDate := stringArg(args, "start_date")
		endDate := stringArg(args, "end_date")

		rows, err := deps.DB.QueryContext(ctx, `
			SELECT category, COUNT(*), COALESCE(SUM(amount_usd), 0)
			FROM money_leaks
			WHERE tenant_id = $1 AND plant_id = $2
			  AND period_start >= $3 AND period_end <= $4
			GROUP BY category
			ORDER BY SUM(amount_usd) DESC
		`, tenantID, plantID, startDate, endDate)
		if err != nil {
			return nil, fmt.Errorf("fetch money leaks: %w", err)
		}
		defer rows.Close()

		categories := []map[string]any{}
		var total float64
		for rows.Next() {
			var (
				category string
				count    int
				amount   float64
			)
			if err := rows.Scan(&category, &count, &amount); err != nil {
				return nil, fmt.Errorf("scan money leak: %w", err)
			}
			categories = append(categories, map[string]any{
				"category":   category,
				"events":     count,
				"amount_usd": amount,
			})
			total += amount
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate money leaks: %w", err)
		}

		return map[string]any{
			"plant_id":   plantID,
			"period":     map[string]any{"start": startDate, "end": endDate},
			"total_usd":  total,
			"categories": categories,
		}, nil
	}
}
