package domain

// ActionPolicy tells a detail view which controls to enable for the viewer.
type ActionPolicy struct {
	CanJoin   bool   `json:"can_join"`
	CanLeave  bool   `json:"can_leave"`
	CanEdit   bool   `json:"can_edit"`
	CanDelete bool   `json:"can_delete"`
	Reason    string `json:"reason,omitempty"`
}

// CalculateActionPolicy determines what a viewer can do with an event.
// user is nil for an anonymous viewer.
func CalculateActionPolicy(event *EventDetail, user *User) ActionPolicy {
	// 1. Auth Gate
	if user == nil {
		return ActionPolicy{Reason: "auth_required"}
	}

	// 2. Guest Gate
	if user.Guest {
		return ActionPolicy{Reason: "guest_session"}
	}

	if event == nil {
		return ActionPolicy{Reason: "event_unavailable"}
	}

	// 3. Owner Logic
	if event.CreatorID != "" && event.CreatorID == user.ID {
		return ActionPolicy{
			CanEdit:   true,
			CanDelete: true,
			Reason:    "is_organizer",
		}
	}

	// 4. Attendance
	if event.IsAttending(user.ID) {
		return ActionPolicy{CanLeave: true, Reason: "already_joined"}
	}
	return ActionPolicy{CanJoin: true}
}

// RequireMember rejects anonymous and guest users for mutating operations.
func RequireMember(user *User) error {
	if user == nil || (user.Token == "" && !user.Guest) {
		return ErrAuthRequired
	}
	if user.Guest {
		return ErrGuest
	}
	return nil
}
