package pricing

import (
	"fmt"
	"math"

	"github.com/Knetic/govaluate"
)

// DefaultExpression pays the bulk rate split across the bundle when one is set,
// otherwise the per-video rate.
const DefaultExpression = "bulk_rate > 0 && video_count > 0 ? bulk_rate / video_count : per_video_rate"

// Terms are a creator's agreed rates, in minor currency units.
type Terms struct {
	PerVideoRate int64 `json:"perVideoRate"`
	BulkRate     int64 `json:"bulkRate"`
	VideoCount   int   `json:"videoCount"`
}

// Calculator computes the payable amount for one approved submission.
type Calculator struct {
	expr *govaluate.EvaluableExpression
}

// NewCalculator compiles a pricing expression over per_video_rate, bulk_rate and video_count.
func NewCalculator(expression string) (*Calculator, error) {
	if expression == "" {
		expression = DefaultExpression
	}
	expr, err := govaluate.NewEvaluableExpression(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid pricing expression: %w", err)
	}
	return &Calculator{expr: expr}, nil
}

// Amount evaluates the expression for terms and rounds to whole minor units.
func (c *Calculator) Amount(terms Terms) (int64, error) {
	result, err := c.expr.Evaluate(map[string]interface{}{
		"per_video_rate": float64(terms.PerVideoRate),
		"bulk_rate":      float64(terms.BulkRate),
		"video_count":    float64(terms.VideoCount),
	})
	if err != nil {
		return 0, fmt.Errorf("evaluate pricing expression: %w", err)
	}
	value, ok := result.(float64)
	if !ok {
		return 0, fmt.Errorf("pricing expression returned %T, want number", result)
	}
	amount := int64(math.Round(value))
	if amount <= 0 {
		return 0, fmt.Errorf("pricing expression produced non-positive amount %d", amount)
	}
	return amount, nil
}
