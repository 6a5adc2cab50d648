package domain

// OptionalID is a three-state association reference: absent, explicitly
// cleared, or set to an id. The zero value is absent.
type OptionalID struct {
	present bool
	id      int64
}

// SetID returns a reference to id. A zero id means "clear".
func SetID(id int64) OptionalID {
	return OptionalID{present: true, id: id}
}

// ClearID returns an explicit clear.
func ClearID() OptionalID {
	return OptionalID{present: true}
}

// IDFromPtr maps a decoded nullable field that is known to be present.
func IDFromPtr(v *int64) OptionalID {
	if v == nil {
		return ClearID()
	}
	return SetID(*v)
}

func (o OptionalID) Present() bool { return o.present }
func (o OptionalID) Cleared() bool { return o.present && o.id == 0 }

// Value returns the id when one is set.
func (o OptionalID) Value() (int64, bool) {
	return o.id, o.present && o.id != 0
}

// OptionalIDs is the three-state form of an id list. A present empty list
// clears the association.
type OptionalIDs struct {
	present bool
	ids     []int64
}

func SetIDs(ids []int64) OptionalIDs {
	return OptionalIDs{present: true, ids: ids}
}

func (o OptionalIDs) Present() bool   { return o.present }
func (o OptionalIDs) Cleared() bool   { return o.present && len(o.ids) == 0 }
func (o OptionalIDs) Values() []int64 { return o.ids }

// TaskMutation is a partial create/update request as received from a caller.
// Nil scalars are absent.
type TaskMutation struct {
	Title       *string
	Description *string
	Value       *int64
	ClearValue  bool
	Source      *string
	Status      *string
	TypeID      OptionalID
	PerformerID OptionalID
	Users       OptionalIDs
}

// TaskPatch is a resolved mutation ready to be committed. Set flags mark
// associations that must be written; a set flag with a nil reference clears.
type TaskPatch struct {
	Title       *string
	Description *string
	Value       *int64
	ClearValue  bool
	Source      *string
	Status      *string
	Position    *int64

	TypeSet      bool
	Type         *TaskType
	PerformerSet bool
	Performer    *User
	UsersSet     bool
	Users        []User
}

// Empty reports whether the patch would change nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Value == nil && !p.ClearValue &&
		p.Source == nil && p.Status == nil && p.Position == nil &&
		!p.TypeSet && !p.PerformerSet && !p.UsersSet
}

// TaskMove carries the positional/status change of a move.
type TaskMove struct {
	Status   *string
	Position *int64
}

// Patch converts the move into a commit patch.
func (m TaskMove) Patch() TaskPatch {
	return TaskPatch{Status: m.Status, Position: m.Position}
}
