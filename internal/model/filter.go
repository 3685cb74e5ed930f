package model

// TotalFilter holds criteria for querying zap ledger totals. Empty fields
// match everything.
type TotalFilter struct {
	TargetType TargetType `json:"target_type,omitempty"`
	TargetID   string     `json:"target_id,omitempty"`
	Source     ZapSource  `json:"source,omitempty"`
	Limit      int        `json:"limit,omitempty"`
}
