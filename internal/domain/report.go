package domain

import "github.com/shopspring/decimal"

// OverpaymentLabel is the dues type name of the synthetic credit row.
const OverpaymentLabel = "Overpayment"

// DuesGenerationPreviewItem describes what generation would create for one group.
type DuesGenerationPreviewItem struct {
	BillingGroupID   int32           `json:"billingGroupId"`
	BillingGroupName string          `json:"billingGroupName"`
	DuesTypeName     string          `json:"duesTypeName"`
	Amount           decimal.Decimal `json:"amount"`
	UnitsText        string          `json:"unitsText"`
}

// GenerationResult summarizes one generation run.
type GenerationResult struct {
	Period         string `json:"period"`
	EligibleGroups int    `json:"eligibleGroups"`
	Created        int    `json:"created"`
	Skipped        int    `json:"skipped"`
	Normalized     int    `json:"normalized"`
	SplitCreated   int    `json:"splitCreated"`
}

// DuesDebtReportQuery filters the debt report. Nil fields match everything.
type DuesDebtReportQuery struct {
	Period         *string
	BlockID        *int32
	BillingGroupID *int32
	DuesTypeID     *int32
}

// DuesDebtReportRow is one line of the debt report.
type DuesDebtReportRow struct {
	InstallmentID    *int32          `json:"installmentId,omitempty"`
	BillingGroupID   int32           `json:"billingGroupId"`
	UnitDisplay      string          `json:"unitDisplay"`
	BillingGroupName string          `json:"billingGroupName"`
	DuesTypeName     string          `json:"duesTypeName"`
	Period           string          `json:"period"`
	Amount           decimal.Decimal `json:"amount"`
	RemainingAmount  decimal.Decimal `json:"remainingAmount"`
	UnitsText        string          `json:"unitsText"`
}

// DashboardSummary holds the site-wide totals.
type DashboardSummary struct {
	TotalDebt           decimal.Decimal `json:"totalDebt"`
	TotalGenerated      decimal.Decimal `json:"totalGenerated"`
	TotalCollections    decimal.Decimal `json:"totalCollections"`
	TotalCredit         decimal.Decimal `json:"totalCredit"`
	ActiveBillingGroups int             `json:"activeBillingGroups"`
}
