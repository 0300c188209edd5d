package classify

import "strings"

// GroupType is the normalized group category.
type GroupType string

const (
	GroupTypeWG    GroupType = "wg"
	GroupTypeIG    GroupType = "ig"
	GroupTypeCG    GroupType = "cg"
	GroupTypeTF    GroupType = "tf"
	GroupTypeOther GroupType = "other"
)

// ParseGroupType normalizes a group type discriminator from either a short
// code or a spelled-out name. Anything unrecognized maps to "other".
func ParseGroupType(s string) GroupType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wg", "working group":
		return GroupTypeWG
	case "ig", "interest group":
		return GroupTypeIG
	case "cg", "community group", "business group", "bg":
		return GroupTypeCG
	case "tf", "task force":
		return GroupTypeTF
	default:
		return GroupTypeOther
	}
}

// expectsMemberSeats reports whether seats in this group type are expected
// to belong to member organizations; a non-member seat in these types is a
// data anomaly worth a warning, while the same shape is routine elsewhere.
func (t GroupType) expectsMemberSeats() bool {
	return t == GroupTypeWG || t == GroupTypeIG
}
