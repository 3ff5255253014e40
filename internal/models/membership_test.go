package models

import "testing"

func TestNormalizeMembershipID(t *testing.T) {
	cases := []struct {
		raw     string
		present bool
	}{
		{"", false},
		{MembershipIDNobody, false},
		{"m-1", true},
	}
	for _, tc := range cases {
		m := NormalizeMembershipID(tc.raw)
		if m.Present() != tc.present {
			t.Errorf("NormalizeMembershipID(%q).Present() = %v, want %v", tc.raw, m.Present(), tc.present)
		}
	}
}

func TestMembershipFromPtr(t *testing.T) {
	if MembershipFromPtr(nil).Present() {
		t.Error("nil pointer mapped to a present membership")
	}
	sentinel := MembershipIDNobody
	if MembershipFromPtr(&sentinel).Present() {
		t.Error("sentinel mapped to a present membership")
	}
	id := "m-1"
	m := MembershipFromPtr(&id)
	if got, ok := m.ID(); !ok || got != "m-1" {
		t.Errorf("ID = %q, %v", got, ok)
	}
}

func TestMembershipPtrCopies(t *testing.T) {
	m := MemberOf("m-1")
	p := m.Ptr()
	if p == nil || *p != "m-1" {
		t.Fatalf("Ptr = %v", p)
	}
	*p = "mutated"
	if id, _ := m.ID(); id != "m-1" {
		t.Error("Ptr exposed internal state")
	}
	if NoMembership().Ptr() != nil {
		t.Error("nobody must serialize to nil")
	}
}

func TestZeroValueIsNobody(t *testing.T) {
	var m Membership
	if m.Present() {
		t.Error("zero membership is present")
	}
	if m != NoMembership() {
		t.Error("zero value differs from NoMembership")
	}
}

func TestMembershipFilter(t *testing.T) {
	member := MemberOf("m-1")
	other := MemberOf("m-2")
	nobody := NoMembership()

	all := FilterAllMemberships()
	if !all.Matches(member) || !all.Matches(nobody) {
		t.Error("all filter rejected a session")
	}

	onlyNobody := FilterNobody()
	if onlyNobody.Matches(member) || !onlyNobody.Matches(nobody) {
		t.Error("nobody filter mismatch")
	}

	onlyMember := FilterMembership("m-1")
	if !onlyMember.Matches(member) || onlyMember.Matches(other) || onlyMember.Matches(nobody) {
		t.Error("membership filter mismatch")
	}
}
