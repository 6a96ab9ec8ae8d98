package timesheet

import (
	"context"
	"fmt"

	"timeclerk/internal/executor"
	"timeclerk/internal/types"
)

// BuildCatalog registers the provider's operations for one resolved
// user. The catalog is built per request so the user's credentials bind
// into the invoke closures and never ride through model-visible
// arguments.
func BuildCatalog(client *Client, user types.User) (*executor.Catalog, error) {
	cat := executor.NewCatalog()

	dateRange := []executor.ParamSpec{
		{Name: "from", Type: "date", Required: true, Description: "Start date, inclusive (YYYY-MM-DD)"},
		{Name: "to", Type: "date", Required: true, Description: "End date, inclusive (YYYY-MM-DD)"},
	}

	specs := []struct {
		spec   executor.OperationSpec
		invoke executor.InvokeFunc
	}{
		{
			spec: executor.OperationSpec{
				Name:        "get_time_entries",
				Description: "Individual logged time entries for a date range, with per-entry hours and the range total.",
				Parameters:  dateRange,
			},
			invoke: func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
				from, to, err := dateArgs(args)
				if err != nil {
					return nil, err
				}
				entries, err := client.TimeEntries(ctx, user.Credentials, user.UserID, from, to)
				if err != nil {
					return nil, err
				}
				var total float64
				items := make([]interface{}, len(entries))
				for i, e := range entries {
					total += e.Hours
					items[i] = map[string]interface{}{
						"date": e.Date, "project": e.Project, "hours": e.Hours, "notes": e.Notes,
					}
				}
				return map[string]interface{}{
					"entries":     items,
					"entry_count": len(entries),
					"total_hours": total,
				}, nil
			},
		},
		{
			spec: executor.OperationSpec{
				Name:        "get_daily_totals",
				Description: "Per-day logged hour totals for a date range.",
				Parameters:  dateRange,
			},
			invoke: func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
				from, to, err := dateArgs(args)
				if err != nil {
					return nil, err
				}
				totals, err := client.DailyTotals(ctx, user.Credentials, user.UserID, from, to)
				if err != nil {
					return nil, err
				}
				var total float64
				items := make([]interface{}, len(totals))
				for i, t := range totals {
					total += t.Hours
					items[i] = map[string]interface{}{"date": t.Date, "hours": t.Hours}
				}
				return map[string]interface{}{
					"daily_totals": items,
					"total_hours":  total,
				}, nil
			},
		},
		{
			spec: executor.OperationSpec{
				Name:        "get_schedule",
				Description: "Upcoming scheduled shifts for a date range.",
				Parameters:  dateRange,
			},
			invoke: func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
				from, to, err := dateArgs(args)
				if err != nil {
					return nil, err
				}
				shifts, err := client.Schedule(ctx, user.Credentials, user.UserID, from, to)
				if err != nil {
					return nil, err
				}
				items := make([]interface{}, len(shifts))
				for i, s := range shifts {
					items[i] = map[string]interface{}{
						"date": s.Date, "start": s.Start, "end": s.End, "location": s.Location, "role": s.Role,
					}
				}
				return map[string]interface{}{
					"shifts":      items,
					"shift_count": len(shifts),
				}, nil
			},
		},
		{
			spec: executor.OperationSpec{
				Name:        "get_assignments",
				Description: "The user's current project and role assignments.",
				Parameters:  nil,
			},
			invoke: func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
				assignments, err := client.Assignments(ctx, user.Credentials, user.UserID)
				if err != nil {
					return nil, err
				}
				items := make([]interface{}, len(assignments))
				for i, a := range assignments {
					items[i] = map[string]interface{}{"project": a.Project, "role": a.Role, "since": a.Since}
				}
				return map[string]interface{}{"assignments": items}, nil
			},
		},
	}

	for _, s := range specs {
		if err := cat.Register(s.spec, s.invoke); err != nil {
			return nil, err
		}
	}
	return cat, nil
}

// dateArgs pulls the required from/to strings out of model-bound args.
func dateArgs(args map[string]interface{}) (string, string, error) {
	from, ok := args["from"].(string)
	if !ok || from == "" {
		return "", "", fmt.Errorf("missing required argument 'from'")
	}
	to, ok := args["to"].(string)
	if !ok || to == "" {
		return "", "", fmt.Errorf("missing required argument 'to'")
	}
	return from, to, nil
}
