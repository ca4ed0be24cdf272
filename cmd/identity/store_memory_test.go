package identity

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryStore_CreateAndLookup(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	acc, err := s.CreateAccount(ctx, CreateAccountInput{
		Email:          " Admin@Plant.example ",
		PasswordHash:   "hash",
		Role:           "ADMIN",
		OrganizationID: "5",
		Now:            now,
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if len(acc.ID) != 26 {
		t.Fatalf("id=%q is not a ULID", acc.ID)
	}
	if acc.Email != "Admin@Plant.example" || acc.EmailNorm != "admin@plant.example" {
		t.Fatalf("email=%q norm=%q", acc.Email, acc.EmailNorm)
	}
	if acc.Role != RoleAdmin || !acc.CreatedAt.Equal(now) {
		t.Fatalf("unexpected account: %+v", acc)
	}

	got, err := s.AccountByEmail(ctx, "ADMIN@plant.example")
	if err != nil || got.ID != acc.ID {
		t.Fatalf("AccountByEmail=%+v err=%v", got, err)
	}
	got, err = s.AccountByID(ctx, acc.ID)
	if err != nil || got.Email != acc.Email {
		t.Fatalf("AccountByID=%+v err=%v", got, err)
	}
}

func TestInMemoryStore_DefaultsAndErrors(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	ctx := context.Background()

	acc, err := s.CreateAccount(ctx, CreateAccountInput{Email: "op@plant.example", PasswordHash: "h"})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if acc.Role != RoleOperator {
		t.Fatalf("default role=%q", acc.Role)
	}

	if _, err := s.CreateAccount(ctx, CreateAccountInput{Email: "OP@plant.example", PasswordHash: "h"}); !IsConflict(err) {
		t.Fatalf("duplicate email err=%v", err)
	}

	invalidInputs := []CreateAccountInput{
		{Email: "", PasswordHash: "h"},
		{Email: "not-an-email", PasswordHash: "h"},
		{Email: "x@plant.example", PasswordHash: " "},
		{Email: "y@plant.example", PasswordHash: "h", Role: "root"},
	}
	for _, in := range invalidInputs {
		if _, err := s.CreateAccount(ctx, in); !IsInvalidInput(err) {
			t.Fatalf("CreateAccount(%+v) err=%v, want invalid input", in, err)
		}
	}

	if _, err := s.AccountByEmail(ctx, "missing@plant.example"); !IsNotFound(err) {
		t.Fatalf("AccountByEmail err=%v", err)
	}
	if _, err := s.AccountByID(ctx, "missing"); !IsNotFound(err) {
		t.Fatalf("AccountByID err=%v", err)
	}
}

func TestInMemoryStore_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewInMemoryStore()
	if _, err := s.CreateAccount(ctx, CreateAccountInput{Email: "a@b.c", PasswordHash: "h"}); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestNormalizeRole(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Admin":      RoleAdmin,
		" operator ": RoleOperator,
		"SUPERVISOR": RoleSupervisor,
		"viewer":     RoleViewer,
		"superuser":  "",
		"":           "",
	}
	for in, want := range tests {
		if got := NormalizeRole(in); got != want {
			t.Fatalf("NormalizeRole(%q)=%q want %q", in, got, want)
		}
	}
}
