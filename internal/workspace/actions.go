package workspace

import "fmt"

// Action is a suggested UI navigation link returned alongside an answer.
type Action struct {
	Label string `json:"label"`
	URL   string `json:"url"`
	Icon  string `json:"icon"`
}

// ActionsFor derives workspace-specific action links from the tools a run
// actually used and the request context (line_id, lot_id, ...). Unknown
// workspaces and runs that used no linkable tools produce an empty slice,
// never nil, so the JSON response always carries an array.
func ActionsFor(ws string, toolsUsed []string, reqCtx map[string]any) []Action {
	used := make(map[string]bool, len(toolsUsed))
	for _, t := range toolsUsed {
		used[t] = true
	}
	ctxStr := func(key string) string {
		if v, ok := reqCtx[key]; ok {
			return fmt.Sprint(v)
		}
		return ""
	}

	actions := []Action{}
	switch ws {
	case PlantOps:
		if used["get_line_status"] {
			actions = append(actions, Action{Label: "View Line Details", URL: "/plant-ops/lines/" + ctxStr("line_id"), Icon: "line-chart"})
		}
		if used["analyze_scrap"] {
			actions = append(actions, Action{Label: "View Scrap Log", URL: "/plant-ops/scrap?line_id=" + ctxStr("line_id"), Icon: "alert-triangle"})
		}
		if used["get_money_leaks"] {
			actions = append(actions, Action{Label: "View Money Leaks Dashboard", URL: "/plant-ops/money-leaks", Icon: "dollar-sign"})
		}
	case FSQ:
		if used["trace_lot_backward"] || used["trace_lot_forward"] {
			actions = append(actions, Action{Label: "View Lot Details", URL: "/fsq/lots/" + ctxStr("lot_id"), Icon: "package"})
		}
		if used["compute_lot_risk"] {
			actions = append(actions, Action{Label: "View Risk Assessment", URL: "/fsq/risk/" + ctxStr("lot_id"), Icon: "shield"})
		}
	case Planning:
		if used["generate_forecast"] {
			actions = append(actions, Action{Label: "View Forecast", URL: "/planning/forecasts", Icon: "trending-up"})
		}
		if used["generate_production_plan"] {
			actions = append(actions, Action{Label: "View Production Plan", URL: "/planning/plans", Icon: "calendar"})
		}
	case Brand:
		if used["compute_margin_bridge"] {
			actions = append(actions, Action{Label: "View Margin Analysis", URL: "/brand/margin/" + ctxStr("brand_id"), Icon: "bar-chart"})
		}
		if used["evaluate_copacker"] {
			actions = append(actions, Action{Label: "View Co-packer Details", URL: "/brand/copackers/" + ctxStr("copacker_id"), Icon: "building"})
		}
	case Retail:
		if used["detect_osa_issues"] {
			actions = append(actions, Action{Label: "View OSA Dashboard", URL: "/retail/osa", Icon: "alert-circle"})
		}
		if used["evaluate_promo"] {
			actions = append(actions, Action{Label: "View Promo Details", URL: "/retail/promos/" + ctxStr("promo_id"), Icon: "tag"})
		}
	}
	return actions
}
