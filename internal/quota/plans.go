package quota

import (
	"fmt"
	"strings"
)

// Plans maps purchasable plan names to the credits they grant.
var Plans = map[string]int{
	"basic":        30,
	"professional": 100,
	"enterprise":   1000,
}

// PlanCredits returns the credits granted by plan. Names are case-insensitive.
func PlanCredits(plan string) (int, error) {
	credits, ok := Plans[strings.ToLower(strings.TrimSpace(plan))]
	if !ok {
		return 0, fmt.Errorf("unknown plan %q", plan)
	}
	return credits, nil
}

// Level buckets the remaining balance for display.
func Level(remaining int) string {
	switch {
	case remaining <= 5:
		return "low"
	case remaining <= 15:
		return "medium"
	default:
		return "healthy"
	}
}

// UsagePercentage is requests_used / max_requests rounded to a whole percent.
func UsagePercentage(used, maxRequests int) int {
	if maxRequests <= 0 {
		return 0
	}
	return (used*100 + maxRequests/2) / maxRequests
}
