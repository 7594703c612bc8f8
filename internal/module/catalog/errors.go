package catalog

import "errors"

// Catalog errors.
var (
	ErrPlanNotFound = errors.New("plan not found")
	ErrInvalidPlan  = errors.New("invalid plan")
	ErrPlanInUse    = errors.New("plan has live subscriptions")
)
