package enum

type AlertType string

const (
	AlertTypeThrottling     AlertType = "THROTTLING"
	AlertTypeComplaintSpike AlertType = "COMPLAINT_SPIKE"
	AlertTypeHighBounce     AlertType = "HIGH_BOUNCE"
)

func (t AlertType) String() string {
	return string(t)
}

type Severity string

const (
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) String() string {
	return string(s)
}

func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityHigh:
		return 1
	default:
		return 0
	}
}

type AlertStatus string

const (
	AlertStatusOpen     AlertStatus = "open"
	AlertStatusResolved AlertStatus = "resolved"
)

func (s AlertStatus) String() string {
	return string(s)
}

type IncidentStatus string

const (
	IncidentStatusOpen     IncidentStatus = "open"
	IncidentStatusResolved IncidentStatus = "resolved"
)

func (s IncidentStatus) String() string {
	return string(s)
}

type EntityType string

const (
	EntityTypeSender EntityType = "sender"
	EntityTypeDomain EntityType = "domain"
	EntityTypeJob    EntityType = "job"
	EntityTypeFile   EntityType = "file"
	EntityTypeAlert  EntityType = "alert"
)

func (e EntityType) String() string {
	return string(e)
}
