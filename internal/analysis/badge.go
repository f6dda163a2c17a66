package analysis

// ProjectBadge tiers a project's outcome score. It is a separate scale from
// person accountability badges.
type ProjectBadge string

const (
	ProjectExemplary ProjectBadge = "exemplary"
	ProjectOnTrack   ProjectBadge = "on_track"
	ProjectAtRisk    ProjectBadge = "at_risk"
	ProjectStalled   ProjectBadge = "stalled"
)

// ProjectBadgeFor maps an outcome score onto its tier.
func ProjectBadgeFor(outcome float64) ProjectBadge {
	switch s := clamp100(outcome); {
	case s >= 75:
		return ProjectExemplary
	case s >= 50:
		return ProjectOnTrack
	case s >= 25:
		return ProjectAtRisk
	default:
		return ProjectStalled
	}
}
