package chat

// SelfLabel replaces the local user's name in group participant lists.
const SelfLabel = "You"

// ParticipantProfile describes a conversation member.
type ParticipantProfile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// ParticipantResponse is the participants endpoint result. Private
// conversations return the other member in Single; groups return every member
// in Multiple.
type ParticipantResponse struct {
	Kind     Kind
	Single   *ParticipantProfile
	Multiple []ParticipantProfile
}

// Profiles flattens the response into an id-keyed map. In groups the entry for
// selfID is relabeled SelfLabel.
func (r ParticipantResponse) Profiles(selfID string) map[string]ParticipantProfile {
	out := make(map[string]ParticipantProfile)
	switch r.Kind {
	case Private:
		if r.Single != nil {
			out[r.Single.ID] = *r.Single
		}
	case Group:
		for _, p := range r.Multiple {
			if p.ID == selfID {
				p.DisplayName = SelfLabel
			}
			out[p.ID] = p
		}
	}
	return out
}
