package states

import "strings"

// ParseSlurmState normalizes a raw scheduler state string into a member of
// the closed StateSlurm set. The accounting database decorates some states
// ("CANCELLED by 4711", "FAILED+") so only the leading token is considered.
// Anything outside the known set parses as StateSlurmUnknown.
func ParseSlurmState(raw string) StateSlurm {
	token := strings.ToUpper(strings.TrimSpace(raw))
	if token == "" {
		return StateSlurmUnknown
	}
	// "CANCELLED by <uid>" and similar suffixes
	if fields := strings.Fields(token); len(fields) > 0 {
		token = fields[0]
	}
	token = strings.TrimSuffix(token, "+")

	for _, known := range AllSlurmStates() {
		if token == string(known) {
			return known
		}
	}
	return StateSlurmUnknown
}
