package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// YearFinancials is one row of historical financial data.
type YearFinancials struct {
	Year    int     `json:"year"`
	Revenue float64 `json:"revenue"`
	EBITDA  float64 `json:"ebitda"`
}

// ValuationInputs is the exact input data a version snapshot is built from.
// The diff engine tracks its fields by name; everything the external
// calculation engine consumes beyond these is opaque to this subsystem.
type ValuationInputs struct {
	Revenue     float64 `json:"revenue"`
	EBITDA      float64 `json:"ebitda"`
	TotalAssets float64 `json:"totalAssets"`
	TotalDebt   float64 `json:"totalDebt"`
	Cash        float64 `json:"cash"`

	CompanyName   string `json:"companyName"`
	FoundingYear  int    `json:"foundingYear"`
	EmployeeCount int    `json:"employeeCount"`
	OwnerCount    int    `json:"ownerCount"`

	BusinessTypeID string `json:"businessTypeId"`
	CountryCode    string `json:"countryCode"`

	SharesForSalePct float64          `json:"sharesForSalePct"`
	HistoricalYears  []YearFinancials `json:"historicalYears,omitempty"`
}

// Clone returns a deep copy of the inputs.
func (in ValuationInputs) Clone() ValuationInputs {
	out := in
	if in.HistoricalYears != nil {
		out.HistoricalYears = make([]YearFinancials, len(in.HistoricalYears))
		copy(out.HistoricalYears, in.HistoricalYears)
	}
	return out
}

// ValidationError reports business-rule violations found before any
// diffing or versioning is attempted.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", key, e.Fields[key]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

const earliestFoundingYear = 1800

// ValidateInputs checks the business rules a snapshot must satisfy before
// it may be versioned. It returns a *ValidationError listing every
// violated field, or nil when the inputs are acceptable.
func ValidateInputs(in ValuationInputs, now time.Time) error {
	fields := map[string]string{}

	if in.EBITDA > in.Revenue {
		fields[FieldEBITDA] = "EBITDA cannot exceed revenue"
	}
	if in.FoundingYear != 0 && (in.FoundingYear < earliestFoundingYear || in.FoundingYear > now.Year()) {
		fields[FieldFoundingYear] = fmt.Sprintf("founding year must be between %d and %d", earliestFoundingYear, now.Year())
	}
	if in.EmployeeCount < 0 {
		fields[FieldEmployeeCount] = "employee count cannot be negative"
	}
	if in.OwnerCount < 0 {
		fields[FieldOwnerCount] = "owner count cannot be negative"
	}
	if in.SharesForSalePct < 0 || in.SharesForSalePct > 100 {
		fields["sharesForSalePct"] = "shares for sale must be between 0 and 100 percent"
	}
	for i := 1; i < len(in.HistoricalYears); i++ {
		if in.HistoricalYears[i].Year <= in.HistoricalYears[i-1].Year {
			fields["historicalYears"] = "historical years must be chronological"
			break
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
