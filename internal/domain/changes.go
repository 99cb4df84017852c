package domain

import "time"

// FieldChange records one field moving between two snapshots.
// PercentChange is present only for financial fields with a nonzero
// prior value; a prior value of zero yields no percentage at all.
type FieldChange struct {
	From          any       `json:"from"`
	To            any       `json:"to"`
	PercentChange *float64  `json:"percentChange,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// VersionChanges is the structured result of diffing two input snapshots.
type VersionChanges struct {
	Fields             map[string]FieldChange `json:"fields"`
	TotalChanges       int                    `json:"totalChanges"`
	SignificantChanges []string               `json:"significantChanges"`
}

// Clone returns a deep copy of the change set.
func (c VersionChanges) Clone() VersionChanges {
	out := c
	if c.Fields != nil {
		out.Fields = make(map[string]FieldChange, len(c.Fields))
		for name, change := range c.Fields {
			if change.PercentChange != nil {
				pct := *change.PercentChange
				change.PercentChange = &pct
			}
			out.Fields[name] = change
		}
	}
	out.SignificantChanges = copyStrings(c.SignificantChanges)
	return out
}
