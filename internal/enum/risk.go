package enum

type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

func (l RiskLevel) String() string {
	return string(l)
}

type RiskMode string

const (
	RiskModePerBatch   RiskMode = "per_batch"
	RiskModeCumulative RiskMode = "cumulative"
)

func (m RiskMode) String() string {
	return string(m)
}
