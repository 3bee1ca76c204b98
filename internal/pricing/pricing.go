// Package pricing computes subscription prices and the entitlements a plan
// grants.
package pricing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"fileshare/internal/model"

	"github.com/shopspring/decimal"
)

const (
	Currency = "USD"

	// MaxExtraStorageTB bounds the storage add-on.
	MaxExtraStorageTB = 100

	BaseWorkspaces     = 5
	bytesPerTB         = int64(1_000_000_000_000)
	planNamePrefix     = "TORNADO"
	defaultProductName = "Zoxxo TORNADO"
)

var (
	baseMonthly       = decimal.RequireFromString("21.99")
	baseYearly        = decimal.RequireFromString("263.88")
	perTBMonthly      = decimal.RequireFromString("21.99")
	perTBYearly       = decimal.RequireFromString("263.88")
	workspacePackCost = map[int]decimal.Decimal{
		3:  decimal.NewFromInt(15),
		5:  decimal.NewFromInt(25),
		10: decimal.NewFromInt(50),
		20: decimal.NewFromInt(100),
		50: decimal.NewFromInt(250),
	}
	planNameRe = regexp.MustCompile(`^TORNADO (\d+)TB-(\d+)WS-(MONTHLY|YEARLY)$`)
)

// Options is what a customer picks at checkout.
type Options struct {
	Tier            model.Tier
	ExtraStorageTB  int
	ExtraWorkspaces int
}

type Quote struct {
	BasePrice            decimal.Decimal `json:"basePrice"`
	ExtraStoragePrice    decimal.Decimal `json:"extraStoragePrice"`
	ExtraWorkspacesPrice decimal.Decimal `json:"extraWorkspacesPrice"`
	Total                decimal.Decimal `json:"total"`
	Currency             string          `json:"currency"`
}

func (o Options) Validate() error {
	if o.Tier != model.TierMonthly && o.Tier != model.TierYearly {
		return fmt.Errorf("invalid subscription type %q", o.Tier)
	}
	if o.ExtraStorageTB < 0 || o.ExtraStorageTB > MaxExtraStorageTB {
		return fmt.Errorf("extra storage must be between 0 and %d TB", MaxExtraStorageTB)
	}
	if o.ExtraWorkspaces != 0 {
		if _, ok := workspacePackCost[o.ExtraWorkspaces]; !ok {
			return fmt.Errorf("no workspace pack of %d", o.ExtraWorkspaces)
		}
	}
	return nil
}

// Calculate prices a plan. Amounts are rounded to cents.
func Calculate(o Options) (Quote, error) {
	if err := o.Validate(); err != nil {
		return Quote{}, err
	}
	base, perTB := baseMonthly, perTBMonthly
	if o.Tier == model.TierYearly {
		base, perTB = baseYearly, perTBYearly
	}
	q := Quote{
		BasePrice:            base,
		ExtraStoragePrice:    perTB.Mul(decimal.NewFromInt(int64(o.ExtraStorageTB))).Round(2),
		ExtraWorkspacesPrice: workspacePackCost[o.ExtraWorkspaces],
		Currency:             Currency,
	}
	q.Total = q.BasePrice.Add(q.ExtraStoragePrice).Add(q.ExtraWorkspacesPrice).Round(2)
	return q, nil
}

// QuotaFor returns the entitlements of a plan: 1 TB plus add-ons and five
// workspaces plus the chosen pack.
func QuotaFor(o Options) model.QuotaState {
	return model.QuotaState{
		StorageQuotaBytes: int64(1+o.ExtraStorageTB) * bytesPerTB,
		MaxWorkspaces:     BaseWorkspaces + o.ExtraWorkspaces,
	}
}

// PlanName encodes the options as "TORNADO {n}TB-{m}WS-{MONTHLY|YEARLY}".
func PlanName(o Options) string {
	return fmt.Sprintf("%s %dTB-%dWS-%s", planNamePrefix, o.ExtraStorageTB, o.ExtraWorkspaces, strings.ToUpper(string(o.Tier)))
}

// ParsePlanName is the inverse of PlanName.
func ParsePlanName(name string) (Options, error) {
	m := planNameRe.FindStringSubmatch(strings.TrimSpace(name))
	if m == nil {
		return Options{}, fmt.Errorf("unrecognised plan name %q", name)
	}
	tb, _ := strconv.Atoi(m[1])
	ws, _ := strconv.Atoi(m[2])
	o := Options{Tier: model.Tier(strings.ToLower(m[3])), ExtraStorageTB: tb, ExtraWorkspaces: ws}
	return o, o.Validate()
}

// ProductName is the invoice line shown for every plan.
func ProductName() string { return defaultProductName }
