package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestService_RegisterAndLogin(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	req := RegisterRequest{
		Email:    "alice@example.com",
		Password: "supersafe",
		FullName: "Alice Member",
	}

	ctx := context.Background()
	member, err := svc.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}

	if member.Email != req.Email {
		t.Fatalf("expected email %q got %q", req.Email, member.Email)
	}
	if member.Role != RoleMember {
		t.Fatalf("register: expected default role %s got %s", RoleMember, member.Role)
	}

	resp, err := svc.Login(ctx, LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login: expected token, got empty string")
	}
	if resp.Member.ID != member.ID {
		t.Fatalf("login: expected member id %q got %q", member.ID, resp.Member.ID)
	}

	tokenMemberID, tokenRole, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if tokenMemberID != member.ID {
		t.Fatalf("verify token: expected %q got %q", member.ID, tokenMemberID)
	}
	if tokenRole != RoleMember {
		t.Fatalf("verify token: expected role %s got %s", RoleMember, tokenRole)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "alice@example.com",
		Password: "short",
		FullName: "Alice Member",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "",
		Password: "strongpassword",
		FullName: "",
	}); err == nil {
		t.Fatal("expected validation error for missing fields")
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "bob@example.com",
		Password: "strongpassword",
		FullName: "Bob Member",
		Role:     Role("superuser"),
	}); err == nil {
		t.Fatal("expected validation error for unknown role")
	}
}

func TestService_DuplicateEmail(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	req := RegisterRequest{
		Email:    "alice@example.com",
		Password: "strongpassword",
		FullName: "Alice Member",
	}
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	if _, err := svc.Register(context.Background(), req); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestService_LoginInvalidCredentials(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	_, err := svc.Login(context.Background(), LoginRequest{
		Email:    "unknown@example.com",
		Password: "irrelevant",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestService_ArbiterRoleRoundTrip(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	member, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "judge@example.com",
		Password: "strongpassword",
		FullName: "Judy Arbiter",
		Role:     RoleArbiter,
	})
	if err != nil {
		t.Fatalf("register arbiter: %v", err)
	}

	resp, err := svc.Login(context.Background(), LoginRequest{Email: "judge@example.com", Password: "strongpassword"})
	if err != nil {
		t.Fatalf("login arbiter: %v", err)
	}
	_, role, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify arbiter token: %v", err)
	}
	if role != RoleArbiter {
		t.Fatalf("expected role %s got %s", RoleArbiter, role)
	}
	if member.Role != RoleArbiter {
		t.Fatalf("expected stored role %s got %s", RoleArbiter, member.Role)
	}
}

type fakeRepository struct {
	membersByEmail map[string]Member
	membersByID    map[string]Member
	nextID         int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		membersByEmail: make(map[string]Member),
		membersByID:    make(map[string]Member),
		nextID:         1,
	}
}

func (f *fakeRepository) CreateMember(ctx context.Context, params CreateMemberParams) (Member, error) {
	if _, exists := f.membersByEmail[strings.ToLower(params.Email)]; exists {
		return Member{}, ErrDuplicateEmail
	}

	id := fmt.Sprintf("member-%d", f.nextID)
	f.nextID++
	role := params.Role
	if role == "" {
		role = RoleMember
	}

	member := Member{
		ID:           id,
		Email:        params.Email,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	f.membersByEmail[strings.ToLower(member.Email)] = member
	f.membersByID[member.ID] = member

	return member, nil
}

func (f *fakeRepository) GetMemberByEmail(ctx context.Context, email string) (Member, error) {
	member, ok := f.membersByEmail[strings.ToLower(email)]
	if !ok {
		return Member{}, ErrMemberNotFound
	}
	return member, nil
}

func (f *fakeRepository) GetMemberByID(ctx context.Context, memberID string) (Member, error) {
	member, ok := f.membersByID[memberID]
	if !ok {
		return Member{}, ErrMemberNotFound
	}
	return member, nil
}
