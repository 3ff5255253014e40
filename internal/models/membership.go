package models

// MembershipIDNobody is the sentinel the dashboard sends for "no specific
// member, free or pay at counter". It must never reach the engines; the HTTP
// boundary normalizes it to the zero Membership.
const MembershipIDNobody = "__nobody"

// Membership is the attribution of a session: either a concrete membership id
// or nobody. The zero value means nobody.
type Membership struct {
	id string
}

// MemberOf returns an attribution for a concrete membership id.
func MemberOf(id string) Membership {
	return Membership{id: id}
}

// NoMembership returns the nobody attribution.
func NoMembership() Membership {
	return Membership{}
}

// NormalizeMembershipID maps the wire representation (empty string or the
// nobody sentinel) onto the sum type. This is the single normalization point.
func NormalizeMembershipID(raw string) Membership {
	if raw == "" || raw == MembershipIDNobody {
		return Membership{}
	}
	return Membership{id: raw}
}

// MembershipFromPtr converts the nullable JSON representation used inside
// booking comments.
func MembershipFromPtr(id *string) Membership {
	if id == nil {
		return Membership{}
	}
	return NormalizeMembershipID(*id)
}

// Present reports whether a concrete membership is attributed.
func (m Membership) Present() bool { return m.id != "" }

// ID returns the membership id and whether one is present.
func (m Membership) ID() (string, bool) { return m.id, m.id != "" }

// Ptr returns the nullable JSON representation.
func (m Membership) Ptr() *string {
	if m.id == "" {
		return nil
	}
	id := m.id
	return &id
}

// MembershipFilter selects sessions by attribution in historic queries.
// The zero value matches everything.
type MembershipFilter struct {
	kind filterKind
	id   string
}

type filterKind int

const (
	filterAll filterKind = iota
	filterNobody
	filterMember
)

// FilterAllMemberships matches every session.
func FilterAllMemberships() MembershipFilter { return MembershipFilter{} }

// FilterNobody matches only sessions without a membership.
func FilterNobody() MembershipFilter { return MembershipFilter{kind: filterNobody} }

// FilterMembership matches only sessions attributed to the given membership.
func FilterMembership(id string) MembershipFilter {
	return MembershipFilter{kind: filterMember, id: id}
}

// Matches applies the filter to a session attribution.
func (f MembershipFilter) Matches(m Membership) bool {
	switch f.kind {
	case filterNobody:
		return !m.Present()
	case filterMember:
		id, ok := m.ID()
		return ok && id == f.id
	default:
		return true
	}
}
