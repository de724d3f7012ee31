package tools

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"foodflow/copilot/internal/catalog"
	"foodflow/copilot/internal/tenancy"
)

const complianceFallback = "I don't have direct access to that specific document or procedure in the system yet. I recommend checking your FSQ document library, SOPs, or HACCP plans, or uploading relevant documents so I can reference them in the future."

func fsqDefs(deps Deps) []catalog.Definition {
	return []catalog.Definition{
		{
			Name:        "get_lot_details",
			Description: "Get detailed information about a production lot including supplier, quantity, dates, and quality status",
			Parameters: obj(map[string]*jsonschema.Schema{
				"lot_id": str("The lot ID (UUID format)"),
			}, "lot_id"),
			Handler: getLotDetails(deps),
		},
		{
			Name:        "trace_lot_forward",
			Description: "Trace a lot forward through production to see what products were made from it and where they were distributed",
			Parameters: obj(map[string]*jsonschema.Schema{
				"lot_id": str("The lot ID (UUID format)"),
			}, "lot_id"),
			Handler: traceLot(deps, traceForward),
		},
		{
			Name:        "trace_lot_backward",
			Description: "Trace a lot backward to the ingredient lots and suppliers that went into it",
			Parameters: obj(map[string]*jsonschema.Schema{
				"lot_id": str("The lot ID (UUID format)"),
			}, "lot_id"),
			Handler: traceLot(deps, traceBackward),
		},
		{
			Name:        "compute_lot_risk",
			Description: "Calculate an AI-powered risk score for a lot based on supplier history, QC results, and traceability",
			Parameters: obj(map[string]*jsonschema.Schema{
				"lot_id": str("The lot ID (UUID format)"),
			}, "lot_id"),
			Handler: insightsCall(deps, deps.Insights.ComputeLotRisk),
		},
		{
			Name:        "compute_supplier_risk",
			Description: "Assess supplier risk level using AI analysis of quality history, certifications, and audit scores",
			Parameters: obj(map[string]*jsonschema.Schema{
				"supplier_id": str("The supplier ID (UUID format)"),
			}, "supplier_id"),
			Handler: insightsCall(deps, deps.Insights.ComputeSupplierRisk),
		},
		{
			Name:        "check_ccp_status",
			Description: "Get Critical Control Point monitoring status and out-of-spec alerts for the last 24 hours",
			Parameters:  obj(map[string]*jsonschema.Schema{}),
			Handler:     checkCCPStatus(deps),
		},
		{
			Name:        "answer_compliance_question",
			Description: "Answer compliance questions using RAG-powered search over SOPs, specifications, and certifications",
			Parameters: obj(map[string]*jsonschema.Schema{
				"question": str("The compliance question to answer"),
			}, "question"),
			Handler: documentAnswer(deps, complianceFallback),
		},
	}
}

func getLotDetails(deps Deps) catalog.Func {
	return func(ctx context.Context, args map[string]any) (any, error) {
		tenantID := tenancy.IdentityFrom(ctx).TenantID
		lotID := stringArg(args, "lot_id")

		var (
			lotNumber, status, unit        string
			supplierName, qcStatus         sql.NullString
			holdReason, storageLocation    sql.NullString
			quantity                       float64
			isOnHold                       bool
			receivedDate, manufacturedDate sql.NullTime
			expiryDate                     sql.NullTime
		)
		err := deps.DB.QueryRowContext(ctx, `
			SELECT l.lot_number, l.status, l.unit, s.name, l.qc_status,
				l.hold_reason, l.storage_location, l.quantity, l.is_on_hold,
				l.received_date, l.manufactured_date, l.expiry_date
			FROM lots l
			LEFT JOIN suppliers s ON s.id = l.supplier_id
			WHERE l.id = $1 AND l.tenant_id = $2
		`, lotID, tenantID).Scan(
			&lotNumber, &status, &unit, &supplierName, &qcStatus,
			&holdReason, &storageLocation, &quantity, &isOnHold,
			&receivedDate, &manufacturedDate, &expiryDate,
		)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("lot %s not found", lotID)
		}
		if err != nil {
			return nil, fmt.Errorf("fetch lot: %w", err)
		}

		result := map[string]any{
			"id":            lotID,
			"lot_number":    lotNumber,
			"status":        status,
			"quantity":      quantity,
			"unit":          unit,
			"supplier_name": supplierName.String,
			"qc_status":     qcStatus.String,
			"on_hold":       isOnHold,
		}
		if isOnHold && holdReason.Valid {
			result["hold_reason"] = holdReason.String
		}
		if storageLocation.Valid {
			result["storage_location"] = storageLocation.String
		}
		if receivedDate.Valid {
			result["received_date"] = receivedDate.Time
		}
		if manufacturedDate.Valid {
			result["manufactured_date"] = manufacturedDate.Time
		}
		if expiryDate.Valid {
			result["expiry_date"] = expiryDate.Time
		}
		return result, nil
	}
}

type traceDirection int

const (
	traceForward traceDirection = iota
	traceBackward
)

// traceLot walks the lot genealogy graph in one direction with a recursive
// CTE. Depth is capped to keep pathological graphs from running away.
func traceLot(deps Deps, dir traceDirection) catalog.Func {
	// Forward: who consumed this lot. Backward: what this lot consumed.
	query := `
		WITH RECURSIVE chain AS (
			SELECT lt.child_lot_id AS lot_id, lt.quantity_used, 1 AS depth
			FROM lot_traceability lt
			WHERE lt.parent_lot_id = $1
			UNION ALL
			SELECT lt.child_lot_id, lt.quantity_used, chain.depth + 1
			FROM lot_traceability lt
			JOIN chain ON lt.parent_lot_id = chain.lot_id
			WHERE chain.depth < 10
		)
		SELECT c.lot_id, l.lot_number, l.status, c.quantity_used, c.depth
		FROM chain c
		JOIN lots l ON l.id = c.lot_id
		WHERE l.tenant_id = $2
		ORDER BY c.depth, l.lot_number
	`
	direction := "forward"
	if dir == traceBackward {
		query = `
			WITH RECURSIVE chain AS (
				SELECT lt.parent_lot_id AS lot_id, lt.quantity_used, 1 AS depth
				FROM lot_traceability lt
				WHERE lt.child_lot_id = $1
				UNION ALL
				SELECT lt.parent_lot_id, lt.quantity_used, chain.depth + 1
				FROM lot_traceability lt
				JOIN chain ON lt.child_lot_id = chain.lot_id
				WHERE chain.depth < 10
			)
			SELECT c.lot_id, l.lot_number, l.status, c.quantity_used, c.depth
			FROM chain c
			JOIN lots l ON l.id = c.lot_id
			WHERE l.tenant_id = $2
			ORDER BY c.depth, l.lot_number
		`
		direction = "backward"
	}

	return func(ctx context.Context, args map[string]any) (any, error) {
		tenantID := tenancy.IdentityFrom(ctx).TenantID
		lotID := stringArg(args, "lot_id")

		rows, err := deps.DB.QueryContext(ctx, query, lotID, tenantID)
		if err != nil {
			return nil, fmt.Errorf("trace lot %s: %w", direction, err)
		}
		defer rows.Close()

		related := []map[string]any{}
		for rows.Next() {
			var (
				id, lotNumber, status string
				quantityUsed          sql.NullFloat64
				depth                 int
			)
			if err := rows.Scan(&id, &lotNumber, &status, &quantityUsed, &depth); err != nil {
				return nil, fmt.Errorf("scan trace row: %w", err)
			}
			entry := map[string]any{
				"lot_id":     id,
				"lot_number": lotNumber,
				"status":     status,
				"depth":      depth,
			}
			if quantityUsed.Valid {
				entry["quantity_used"] = quantityUsed.Float64
			}
			related = append(related, entry)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate trace rows: %w", err)
		}

		return map[string]any{
			"lot_id":    lotID,
			"direction": direction,
			"lots":      related,
			"count":     len(related),
		}, nil
	}
}

func checkCCPStatus(deps Deps) catalog.Func {
	return func(ctx context.Context, args map[string]any) (any, error) {
		tenantID := tenancy.IdentityFrom(ctx).TenantID

		var monitored, outOfSpec int
		err := deps.DB.QueryRowContext(ctx, `
			SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT is_in_spec)
			FROM ccp_logs
			WHERE tenant_id = $1 AND monitored_at > NOW() - INTERVAL '24 hours'
		`, tenantID).Scan(&monitored, &outOfSpec)
		if err != nil {
			return nil, fmt.Errorf("fetch ccp status: %w", err)
		}

		status := "all_ccps_in_control"
		message := "All Critical Control Points are within acceptable limits"
		if outOfSpec > 0 {
			status = "alerts_active"
			message = fmt.Sprintf("%d CCP reading(s) out of spec in the last 24 hours", outOfSpec)
		}
		return map[string]any{
			"checks_last_24h": monitored,
			"active_alerts":   outOfSpec,
			"status":          status,
			"message":         message,
			"last_check":      time.Now().UTC(),
		}, nil
	}
}
