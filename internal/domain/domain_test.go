package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"BACKLOG":       Backlog,
		"todo":          Todo,
		" IN_PROGRESS ": InProgress,
		"In_Review":     InReview,
		"DONE":          Done,
	}
	for in, want := range cases {
		got, err := ParseStatus(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got != want {
			t.Fatalf("parse %q: got %s want %s", in, got, want)
		}
	}
	if _, err := ParseStatus("ARCHIVED"); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
}

func TestStatusOrder(t *testing.T) {
	all := Statuses()
	if len(all) != StatusCount {
		t.Fatalf("expected %d statuses, got %d", StatusCount, len(all))
	}
	for i, s := range all {
		if int(s) != i {
			t.Fatalf("status %s out of order at %d", s, i)
		}
		if StatusNames()[i] != s.String() {
			t.Fatalf("name mismatch at %d: %s vs %s", i, StatusNames()[i], s)
		}
	}
}

func TestTaskStatusJSON(t *testing.T) {
	in := Task{ID: "a", Status: InReview, Position: 2000}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if raw["status"] != "IN_REVIEW" {
		t.Fatalf("expected wire name, got %v", raw["status"])
	}
	var out Task
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Status != InReview {
		t.Fatalf("round trip lost status: %s", out.Status)
	}
	if err := json.Unmarshal([]byte(`{"status":"LATER"}`), &out); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected unknown status error, got %v", err)
	}
}

func TestInvalidStatusMarshal(t *testing.T) {
	if _, err := Status(9).MarshalText(); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected error for out of range status")
	}
	if Status(-1).Valid() {
		t.Fatalf("negative status must be invalid")
	}
}

func TestParseMemberRole(t *testing.T) {
	for in, want := range map[string]MemberRole{"ADMIN": RoleAdmin, " member ": RoleMember} {
		got, err := ParseMemberRole(in)
		if err != nil || got != want {
			t.Fatalf("parse %q: got %s, %v", in, got, err)
		}
	}
	for _, in := range []string{"", "OWNER"} {
		if _, err := ParseMemberRole(in); err == nil {
			t.Fatalf("parse %q: expected error", in)
		}
	}
}
