package dewarmte

import (
	"context"
	"time"
)

// Product is a raw device record as returned by the products listing.
// Status carries live operational readings (temperatures, energy
// counters, flags) keyed by field name.
type Product struct {
	ID       string                 `json:"id"`
	Nickname string                 `json:"nickname"`
	Model    string                 `json:"type"`
	Status   map[string]interface{} `json:"status"`
}

// Insights holds the same-day aggregated analytics for one device.
// CalculatedConsumedElectricity is the sum of electricity_consumed
// across all hourly data points; the other fields are taken verbatim
// from the insights response.
type Insights struct {
	HeatSum                       float64 `json:"heat_sum"`
	ElectricitySum                float64 `json:"electricity_sum"`
	COP                           float64 `json:"cop"`
	CalculatedConsumedElectricity float64 `json:"calculated_consumed_electricity"`
}

// Device is one fully merged device record in a snapshot. All fields
// except ID are replaced wholesale each refresh cycle.
type Device struct {
	ID          string                 `json:"id"`
	Nickname    string                 `json:"nickname"`
	Model       string                 `json:"model"`
	Status      map[string]interface{} `json:"status"`
	OutdoorTemp *float64               `json:"outdoor_temp,omitempty"`
	Insights    *Insights              `json:"insights,omitempty"`
}

// Snapshot is the complete result of one refresh cycle, keyed by
// device ID. Published atomically and never mutated afterwards;
// readers must treat it as immutable.
type Snapshot map[string]Device

// Tokens is the persisted form of the client token state.
type Tokens struct {
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TokenStore persists tokens across restarts so a redeploy does not
// force a full password re-authentication. Implemented by the storage
// layer to avoid tight coupling.
type TokenStore interface {
	GetTokens(ctx context.Context) (*Tokens, error)
	SaveTokens(ctx context.Context, tokens *Tokens) error
}
