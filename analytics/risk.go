package analytics

const (
	RiskNormal   = "normal"
	RiskWarning  = "warning"
	RiskCritical = "critical"
)

func RiskLevel(count int) string {
	switch {
	case count >= 36:
		return RiskCritical
	case count >= 30:
		return RiskWarning
	default:
		return RiskNormal
	}
}
