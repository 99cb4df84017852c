package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Tracked field names. The diff engine compares exactly this set; fields
// the calculation engine consumes beyond these are invisible to history.
const (
	FieldRevenue        = "revenue"
	FieldEBITDA         = "ebitda"
	FieldTotalAssets    = "totalAssets"
	FieldTotalDebt      = "totalDebt"
	FieldCash           = "cash"
	FieldCompanyName    = "companyName"
	FieldFoundingYear   = "foundingYear"
	FieldEmployeeCount  = "employeeCount"
	FieldOwnerCount     = "ownerCount"
	FieldBusinessTypeID = "businessTypeId"
	FieldCountryCode    = "countryCode"
)

// SignificanceThresholdPct is the percent movement past which a financial
// field change counts as significant on its own.
const SignificanceThresholdPct = 10.0

// coreFinancialFields are the inputs that move the enterprise-to-equity
// bridge directly; any movement in one of them warrants a new version
// even below the percentage threshold.
var coreFinancialFields = []string{FieldRevenue, FieldEBITDA, FieldTotalDebt, FieldCash}

var fieldDisplayNames = map[string]string{
	FieldRevenue:        "Revenue",
	FieldEBITDA:         "EBITDA",
	FieldTotalAssets:    "Total Assets",
	FieldTotalDebt:      "Total Debt",
	FieldCash:           "Cash",
	FieldCompanyName:    "Company Name",
	FieldFoundingYear:   "Founding Year",
	FieldEmployeeCount:  "Employee Count",
	FieldOwnerCount:     "Owner Count",
	FieldBusinessTypeID: "Business Type",
	FieldCountryCode:    "Country",
}

// Diff compares two input snapshots field by field and classifies the
// result. It has no side effects; change timestamps are taken once at
// call time.
func Diff(oldIn, newIn ValuationInputs) VersionChanges {
	return DiffAt(oldIn, newIn, time.Now())
}

// DiffAt is Diff with an explicit timestamp, deterministic for equal inputs.
func DiffAt(oldIn, newIn ValuationInputs, at time.Time) VersionChanges {
	changes := VersionChanges{Fields: map[string]FieldChange{}}

	financial := func(name string, from, to float64) {
		if from == to {
			return
		}
		change := FieldChange{From: from, To: to, Timestamp: at}
		if from != 0 {
			pct := math.Abs(to-from) / math.Abs(from) * 100
			change.PercentChange = &pct
			if pct > SignificanceThresholdPct {
				changes.SignificantChanges = append(changes.SignificantChanges, name)
			}
		}
		changes.Fields[name] = change
	}
	plain := func(name string, from, to any) {
		if from == to {
			return
		}
		changes.Fields[name] = FieldChange{From: from, To: to, Timestamp: at}
	}

	financial(FieldRevenue, oldIn.Revenue, newIn.Revenue)
	financial(FieldEBITDA, oldIn.EBITDA, newIn.EBITDA)
	financial(FieldTotalAssets, oldIn.TotalAssets, newIn.TotalAssets)
	financial(FieldTotalDebt, oldIn.TotalDebt, newIn.TotalDebt)
	financial(FieldCash, oldIn.Cash, newIn.Cash)

	plain(FieldCompanyName, oldIn.CompanyName, newIn.CompanyName)
	plain(FieldFoundingYear, oldIn.FoundingYear, newIn.FoundingYear)
	plain(FieldEmployeeCount, oldIn.EmployeeCount, newIn.EmployeeCount)
	plain(FieldOwnerCount, oldIn.OwnerCount, newIn.OwnerCount)
	plain(FieldBusinessTypeID, oldIn.BusinessTypeID, newIn.BusinessTypeID)
	plain(FieldCountryCode, oldIn.CountryCode, newIn.CountryCode)

	changes.TotalChanges = len(changes.Fields)
	return changes
}

// AreSignificant decides whether a change set deserves a new version.
// A set qualifies with one significant field, three or more changes of
// any size, or any core financial movement at all.
func (c VersionChanges) AreSignificant() bool {
	if len(c.SignificantChanges) > 0 {
		return true
	}
	if c.TotalChanges >= 3 {
		return true
	}
	for _, name := range coreFinancialFields {
		if _, ok := c.Fields[name]; ok {
			return true
		}
	}
	return false
}

// GenerateAutoLabel produces the human-readable label for a version that
// the user did not name themselves.
func GenerateAutoLabel(versionNumber int, changes VersionChanges) string {
	if changes.TotalChanges == 0 {
		return fmt.Sprintf("Version %d", versionNumber)
	}
	if len(changes.SignificantChanges) > 0 {
		names := make([]string, len(changes.SignificantChanges))
		for i, field := range changes.SignificantChanges {
			names[i] = displayName(field)
		}
		return fmt.Sprintf("v%d - Adjusted %s", versionNumber, strings.Join(names, ", "))
	}
	if changes.TotalChanges == 1 {
		for field := range changes.Fields {
			switch field {
			case FieldRevenue, FieldEBITDA, FieldCompanyName:
				return fmt.Sprintf("v%d - Updated %s", versionNumber, displayName(field))
			}
		}
	}
	return fmt.Sprintf("v%d - %d changes", versionNumber, changes.TotalChanges)
}

func displayName(field string) string {
	if name, ok := fieldDisplayNames[field]; ok {
		return name
	}
	return field
}
