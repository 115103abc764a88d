package member

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryDirectoryFindByUserName(t *testing.T) {
	d := NewMemoryDirectory()
	alice := d.Add(User{UserName: "alice"})
	bob := d.Add(User{ID: 10, UserName: "bob"})
	carol := d.Add(User{UserName: "carol"})

	if alice.ID != 1 || bob.ID != 10 || carol.ID != 11 {
		t.Fatalf("unexpected ids %d %d %d", alice.ID, bob.ID, carol.ID)
	}

	got, err := d.FindByUserName(context.Background(), "bob")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != 10 {
		t.Fatalf("expected bob, got %+v", got)
	}

	if _, err := d.FindByUserName(context.Background(), "Bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected case-sensitive miss, got %v", err)
	}
}
