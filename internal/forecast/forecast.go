package forecast

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the only accepted calendar date format for submissions.
const DateLayout = "2006-01-02"

// Request is a validated forecasting request. Date is stored in canonical
// YYYY-MM-DD form; Store and Item are positive integers.
type Request struct {
	Date  string `json:"date"`
	Store int    `json:"store"`
	Item  int    `json:"item"`
}

// Prediction is the outcome of a completed forecast, echoing the
// originating request fields.
type Prediction struct {
	PredictedSales float64 `json:"predicted_sales"`
	Date           string  `json:"date"`
	Store          int     `json:"store"`
	Item           int     `json:"item"`
}

// ValidationError is a user-facing rejection of a raw submission. The
// message is part of the API contract and must not be reworded.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

var requiredFields = []string{"date", "store", "item"}

// ParseSubmission validates and normalizes a decoded JSON submission.
// Rules are applied in order and the first failure wins: required keys,
// date format, store, item.
func ParseSubmission(raw map[string]any) (Request, error) {
	var missing []string
	for _, field := range requiredFields {
		if _, ok := raw[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return Request{}, &ValidationError{
			Message: fmt.Sprintf("Missing required fields: %s", strings.Join(missing, ", ")),
		}
	}

	dateStr := fmt.Sprint(raw["date"])
	parsed, err := time.Parse(DateLayout, dateStr)
	if err != nil {
		return Request{}, &ValidationError{Message: "Invalid date format. Use YYYY-MM-DD"}
	}

	store, ok := coercePositiveInt(raw["store"])
	if !ok {
		return Request{}, &ValidationError{Message: "Store must be a positive integer"}
	}

	item, ok := coercePositiveInt(raw["item"])
	if !ok {
		return Request{}, &ValidationError{Message: "Item must be a positive integer"}
	}

	return Request{
		Date:  parsed.Format(DateLayout),
		Store: store,
		Item:  item,
	}, nil
}

// coercePositiveInt accepts integer, float, or numeric-string input and
// truncates toward zero, matching the original service's int(float(x))
// coercion ("1.9" becomes 1). The result must be >= 1.
func coercePositiveInt(v any) (int, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}

	i := int(f) // truncation toward zero
	if i < 1 {
		return 0, false
	}
	return i, true
}
