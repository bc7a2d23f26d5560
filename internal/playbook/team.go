package playbook

import "github.com/miethe/boxbrain/internal/models"

// AddMember adds a user to the opportunity team. The team list behaves
// as an insertion-ordered set: adding a present member is a no-op.
// Returns true when the list changed.
func AddMember(opp *models.Opportunity, userID string) bool {
	if userID == "" {
		return false
	}
	for _, id := range opp.TeamMemberUserIDs {
		if id == userID {
			return false
		}
	}
	opp.TeamMemberUserIDs = append(opp.TeamMemberUserIDs, userID)
	return true
}

// RemoveMember removes a user from the opportunity team. Removing an
// absent member is a no-op. Returns true when the list changed.
func RemoveMember(opp *models.Opportunity, userID string) bool {
	for i, id := range opp.TeamMemberUserIDs {
		if id == userID {
			opp.TeamMemberUserIDs = append(opp.TeamMemberUserIDs[:i], opp.TeamMemberUserIDs[i+1:]...)
			return true
		}
	}
	return false
}
