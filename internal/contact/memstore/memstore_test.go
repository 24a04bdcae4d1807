package memstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/linnemanlabs/beacon/internal/contact"
)

func addContact(t *testing.T, s *Store, userID, name, phone string, primary bool) *contact.Contact {
	t.Helper()
	c, err := s.Add(context.Background(), userID, contact.Params{
		Name:     name,
		Phone:    phone,
		Relation: contact.RelationFriend,
		Primary:  primary,
		Prefs:    contact.Prefs{SMS: true},
	})
	if err != nil {
		t.Fatalf("Add %s: %v", name, err)
	}
	return c
}

func TestStore_AddAndList(t *testing.T) {
	t.Parallel()

	s := New()
	addContact(t, s, "u-1", "Alice", "+15550001", false)
	addContact(t, s, "u-1", "Bob", "+15550002", false)

	got, err := s.ListActive(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	// Creation order when nobody is primary.
	if got[0].Name != "Alice" || got[1].Name != "Bob" {
		t.Errorf("order = [%s %s], want [Alice Bob]", got[0].Name, got[1].Name)
	}
	if !got[0].Active {
		t.Error("new contact not active")
	}
}

func TestStore_PrimaryListedFirst(t *testing.T) {
	t.Parallel()

	s := New()
	addContact(t, s, "u-1", "Alice", "+15550001", false)
	addContact(t, s, "u-1", "Bob", "+15550002", true)
	addContact(t, s, "u-1", "Carol", "+15550003", false)

	got, err := s.ListActive(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	want := []string{"Bob", "Alice", "Carol"}
	for i, name := range want {
		if got[i].Name != name {
			t.Errorf("got[%d].Name = %q, want %q", i, got[i].Name, name)
		}
	}
}

func TestStore_AddPrimaryDemotesExisting(t *testing.T) {
	t.Parallel()

	s := New()
	first := addContact(t, s, "u-1", "Alice", "+15550001", true)
	second := addContact(t, s, "u-1", "Bob", "+15550002", true)

	got, err := s.ListActive(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}

	primaries := 0
	for _, c := range got {
		if c.Primary {
			primaries++
			if c.ID != second.ID {
				t.Errorf("primary = %s, want %s", c.ID, second.ID)
			}
		}
		if c.ID == first.ID && c.Primary {
			t.Error("first contact still primary after demotion")
		}
	}
	if primaries != 1 {
		t.Fatalf("primaries = %d, want exactly 1", primaries)
	}
}

func TestStore_UpdatePrimarySwap(t *testing.T) {
	t.Parallel()

	s := New()
	first := addContact(t, s, "u-1", "Alice", "+15550001", true)
	second := addContact(t, s, "u-1", "Bob", "+15550002", false)

	promote := true
	if _, err := s.Update(context.Background(), second.ID, "u-1", contact.Patch{Primary: &promote}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ := s.ListActive(context.Background(), "u-1")
	for _, c := range got {
		switch c.ID {
		case first.ID:
			if c.Primary {
				t.Error("old primary not demoted")
			}
		case second.ID:
			if !c.Primary {
				t.Error("promoted contact not primary")
			}
		}
	}
}

func TestStore_DuplicatePhoneSameUser(t *testing.T) {
	t.Parallel()

	s := New()
	addContact(t, s, "u-1", "Alice", "+15550001", false)

	_, err := s.Add(context.Background(), "u-1", contact.Params{
		Name:  "Shadow",
		Phone: "+15550001",
	})
	if !errors.Is(err, contact.ErrDuplicatePhone) {
		t.Fatalf("Add err = %v, want ErrDuplicatePhone", err)
	}
}

func TestStore_DuplicatePhoneDifferentUser(t *testing.T) {
	t.Parallel()

	s := New()
	addContact(t, s, "u-1", "Alice", "+15550001", false)

	// Same phone under a different user is fine.
	if _, err := s.Add(context.Background(), "u-2", contact.Params{
		Name:  "Alice",
		Phone: "+15550001",
	}); err != nil {
		t.Fatalf("Add for another user: %v", err)
	}
}

func TestStore_UpdatePhoneDuplicate(t *testing.T) {
	t.Parallel()

	s := New()
	addContact(t, s, "u-1", "Alice", "+15550001", false)
	bob := addContact(t, s, "u-1", "Bob", "+15550002", false)

	taken := "+15550001"
	_, err := s.Update(context.Background(), bob.ID, "u-1", contact.Patch{Phone: &taken})
	if !errors.Is(err, contact.ErrDuplicatePhone) {
		t.Fatalf("Update err = %v, want ErrDuplicatePhone", err)
	}
}

func TestStore_UpdateKeepOwnPhone(t *testing.T) {
	t.Parallel()

	s := New()
	alice := addContact(t, s, "u-1", "Alice", "+15550001", false)

	// Re-submitting the contact's own phone is not a duplicate.
	same := "+15550001"
	name := "Alicia"
	got, err := s.Update(context.Background(), alice.ID, "u-1", contact.Patch{Phone: &same, Name: &name})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Name != "Alicia" {
		t.Errorf("Name = %q, want %q", got.Name, "Alicia")
	}
}

func TestStore_UpdateWrongUser(t *testing.T) {
	t.Parallel()

	s := New()
	alice := addContact(t, s, "u-1", "Alice", "+15550001", false)

	name := "Mallory"
	_, err := s.Update(context.Background(), alice.ID, "u-2", contact.Patch{Name: &name})
	if !errors.Is(err, contact.ErrNotFound) {
		t.Fatalf("Update err = %v, want ErrNotFound for another user's contact", err)
	}
}

func TestStore_DeactivatedExcludedFromList(t *testing.T) {
	t.Parallel()

	s := New()
	alice := addContact(t, s, "u-1", "Alice", "+15550001", false)
	addContact(t, s, "u-1", "Bob", "+15550002", false)

	inactive := false
	if _, err := s.Update(context.Background(), alice.ID, "u-1", contact.Patch{Active: &inactive}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ := s.ListActive(context.Background(), "u-1")
	if len(got) != 1 || got[0].Name != "Bob" {
		t.Fatalf("ListActive = %+v, want just Bob", got)
	}
}

func TestStore_Delete(t *testing.T) {
	t.Parallel()

	s := New()
	alice := addContact(t, s, "u-1", "Alice", "+15550001", false)

	if err := s.Delete(context.Background(), alice.ID, "u-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, _ := s.ListActive(context.Background(), "u-1")
	if len(got) != 0 {
		t.Fatalf("len = %d after delete, want 0", len(got))
	}

	if err := s.Delete(context.Background(), alice.ID, "u-1"); !errors.Is(err, contact.ErrNotFound) {
		t.Fatalf("second Delete err = %v, want ErrNotFound", err)
	}
}

func TestStore_DeleteWrongUser(t *testing.T) {
	t.Parallel()

	s := New()
	alice := addContact(t, s, "u-1", "Alice", "+15550001", false)

	if err := s.Delete(context.Background(), alice.ID, "u-2"); !errors.Is(err, contact.ErrNotFound) {
		t.Fatalf("Delete err = %v, want ErrNotFound for another user's contact", err)
	}
}

func TestStore_RecordAlert(t *testing.T) {
	t.Parallel()

	s := New()
	alice := addContact(t, s, "u-1", "Alice", "+15550001", false)

	at := time.Now()
	if err := s.RecordAlert(context.Background(), alice.ID, at); err != nil {
		t.Fatalf("RecordAlert: %v", err)
	}
	if err := s.RecordAlert(context.Background(), alice.ID, at.Add(time.Minute)); err != nil {
		t.Fatalf("RecordAlert: %v", err)
	}

	got, _ := s.ListActive(context.Background(), "u-1")
	if got[0].AlertCount != 2 {
		t.Errorf("AlertCount = %d, want 2", got[0].AlertCount)
	}
	if !got[0].LastAlertAt.Equal(at.Add(time.Minute)) {
		t.Errorf("LastAlertAt = %v, want %v", got[0].LastAlertAt, at.Add(time.Minute))
	}
}

func TestStore_DeleteForUser(t *testing.T) {
	t.Parallel()

	s := New()
	for i := 0; i < 3; i++ {
		addContact(t, s, "u-1", fmt.Sprintf("C%d", i), fmt.Sprintf("+1555000%d", i), false)
	}
	addContact(t, s, "u-2", "Other", "+15559999", false)

	if err := s.DeleteForUser(context.Background(), "u-1"); err != nil {
		t.Fatalf("DeleteForUser: %v", err)
	}

	got, _ := s.ListActive(context.Background(), "u-1")
	if len(got) != 0 {
		t.Fatalf("u-1 contacts = %d after DeleteForUser, want 0", len(got))
	}
	other, _ := s.ListActive(context.Background(), "u-2")
	if len(other) != 1 {
		t.Fatalf("u-2 contacts = %d, want 1 untouched", len(other))
	}
}
