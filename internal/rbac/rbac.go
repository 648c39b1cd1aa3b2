package rbac

type Role string
type Action string

const (
	RoleGuest  Role = "guest"
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

const (
	ActionViewBoard    Action = "board.view"
	ActionUpdateBoard  Action = "board.update"
	ActionDestroyBoard Action = "board.destroy"

	ActionCreateList  Action = "list.create"
	ActionUpdateList  Action = "list.update"
	ActionDestroyList Action = "list.destroy"

	ActionCreateCard  Action = "card.create"
	ActionUpdateCard  Action = "card.update"
	ActionDestroyCard Action = "card.destroy"

	ActionListParticipations  Action = "participation.list"
	ActionManageParticipation Action = "participation.manage"
)

// rank orders roles; guest is the implicit bottom and is never stored.
var rank = map[Role]int{
	RoleGuest:  0,
	RoleViewer: 1,
	RoleEditor: 2,
	RoleAdmin:  3,
}

var policy = map[Action]Role{
	ActionUpdateBoard:         RoleAdmin,
	ActionDestroyBoard:        RoleAdmin,
	ActionCreateList:          RoleEditor,
	ActionUpdateList:          RoleEditor,
	ActionDestroyList:         RoleAdmin,
	ActionCreateCard:          RoleEditor,
	ActionUpdateCard:          RoleEditor,
	ActionDestroyCard:         RoleEditor,
	ActionListParticipations:  RoleViewer,
	ActionManageParticipation: RoleAdmin,
}

// MinimumRole returns the weakest role allowed to perform action on a board
// with the given visibility. Viewing follows board visibility; the
// collaborator list carries e-mail addresses and always needs a participation.
func MinimumRole(action Action, public bool) (Role, bool) {
	switch action {
	case ActionViewBoard:
		if public {
			return RoleGuest, true
		}
		return RoleViewer, true
	}
	role, ok := policy[action]
	return role, ok
}

// Permits reports whether role satisfies the threshold for action. Unknown
// actions are always denied.
func Permits(role Role, action Action, public bool) bool {
	minimum, ok := MinimumRole(action, public)
	if !ok {
		return false
	}
	return AtLeast(role, minimum)
}

func AtLeast(role, minimum Role) bool {
	have, ok := rank[role]
	if !ok {
		return false
	}
	return have >= rank[minimum]
}

// Normalize maps stored or client-supplied role names onto a Role; anything
// unrecognised collapses to guest.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleGuest
	}
}

// Assignable reports whether role may be persisted on a participation.
func Assignable(role Role) bool {
	return role == RoleViewer || role == RoleEditor || role == RoleAdmin
}
