package models

import "github.com/uptrace/bun"

type PricingMode string

const (
	PricingStandard PricingMode = "STANDARD"
	PricingDynamic  PricingMode = "DYNAMIC"
)

// FareRule prices a boarding/alighting segment of a route.
type FareRule struct {
	bun.BaseModel `bun:"table:fare_rules"`

	ID             int64  `bun:"id,pk,autoincrement" json:"id"`
	RouteID        string `bun:"route_id,notnull,unique:route_segment" json:"route_id"`
	FromStopID     string `bun:"from_stop_id,notnull,unique:route_segment" json:"from_stop_id"`
	ToStopID       string `bun:"to_stop_id,notnull,unique:route_segment" json:"to_stop_id"`
	BasePriceCents int64  `bun:"base_price_cents,notnull" json:"base_price_cents"`
	DynamicPricing bool   `bun:"dynamic_pricing,notnull,default:false" json:"dynamic_pricing"`
}
