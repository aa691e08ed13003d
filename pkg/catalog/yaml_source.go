package catalog

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/advogo/billingcore/pkg/jurisdiction"
)

// yamlSource loads plans from a YAML file on each Load call.
type yamlSource struct {
	path string
}

// NewYAMLSource returns a Source reading plan definitions from a YAML file:
//
//	plans:
//	  - name: Pro
//	    jurisdiction: PT
//	    monthly_price: {amount: 1990, currency: EUR}
//	    yearly_price: {amount: 19900, currency: EUR}
//	    limits:
//	      messages: 500
//	      consultations: 10
//	    active: true
//	    provider_product_id: pro_pt
//	    provider_price_ids:
//	      monthly: pri_pro_pt_m
//	      yearly: pri_pro_pt_y
//
// Omitting a dimension from limits, or setting unlimited: true, lifts the
// cap for that plan.
func NewYAMLSource(path string) Source {
	return &yamlSource{path: path}
}

type yamlFile struct {
	Plans []yamlPlan `yaml:"plans"`
}

type yamlPlan struct {
	Name              string           `yaml:"name"`
	Jurisdiction      string           `yaml:"jurisdiction"`
	Description       string           `yaml:"description"`
	MonthlyPrice      Money            `yaml:"monthly_price"`
	YearlyPrice       Money            `yaml:"yearly_price"`
	Limits            map[string]int64 `yaml:"limits"`
	Unlimited         bool             `yaml:"unlimited"`
	Active            *bool            `yaml:"active"`
	ProviderProductID string           `yaml:"provider_product_id"`
	ProviderPriceIDs  map[string]string `yaml:"provider_price_ids"`
}

func (s *yamlSource) Load(ctx context.Context) ([]Plan, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read plans file: %w", err)
	}

	var file yamlFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse plans file: %w", err)
	}

	plans := make([]Plan, 0, len(file.Plans))
	for _, yp := range file.Plans {
		if yp.Name == "" || yp.Jurisdiction == "" {
			return nil, fmt.Errorf("plan entry missing name or jurisdiction")
		}

		p := Plan{
			Name:              yp.Name,
			Jurisdiction:      jurisdiction.Code(yp.Jurisdiction),
			Description:       yp.Description,
			MonthlyPrice:      yp.MonthlyPrice,
			YearlyPrice:       yp.YearlyPrice,
			IsUnlimited:       yp.Unlimited,
			IsActive:          yp.Active == nil || *yp.Active,
			ProviderProductID: yp.ProviderProductID,
		}

		if len(yp.Limits) > 0 {
			p.Limits = make(map[Dimension]*int64, len(yp.Limits))
			for dim, n := range yp.Limits {
				p.Limits[Dimension(dim)] = Limit(n)
			}
		}

		if len(yp.ProviderPriceIDs) > 0 {
			p.ProviderPriceIDs = make(map[BillingCycle]string, len(yp.ProviderPriceIDs))
			for cycle, id := range yp.ProviderPriceIDs {
				bc := BillingCycle(cycle)
				if !bc.Valid() {
					return nil, fmt.Errorf("plan %s: unknown billing cycle %q", yp.Name, cycle)
				}
				p.ProviderPriceIDs[bc] = id
			}
		}

		plans = append(plans, p)
	}

	return plans, nil
}
