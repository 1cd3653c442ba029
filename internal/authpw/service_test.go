package authpw

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"slate/api/internal/store"
)

type fakeUserStore struct {
	usersByEmail map[string]store.User
	usersByID    map[string]store.User
	resets       map[string]string // token -> userID
	usedResets   map[string]bool
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		usersByEmail: map[string]store.User{},
		usersByID:    map[string]store.User{},
		resets:       map[string]string{},
		usedResets:   map[string]bool{},
	}
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	user, ok := f.usersByEmail[email]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeUserStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	user, ok := f.usersByID[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeUserStore) CreateUser(_ context.Context, user store.User) error {
	f.usersByEmail[user.Email] = user
	f.usersByID[user.ID] = user
	return nil
}

func (f *fakeUserStore) UpdateUserVerificationToken(_ context.Context, userID, token string, _ time.Time) error {
	user := f.usersByID[userID]
	user.VerificationToken = token
	f.usersByID[userID] = user
	f.usersByEmail[user.Email] = user
	return nil
}

func (f *fakeUserStore) VerifyUserEmail(_ context.Context, token string) error {
	for id, user := range f.usersByID {
		if user.VerificationToken == token {
			user.IsEmailVerified = true
			user.VerificationToken = ""
			f.usersByID[id] = user
			f.usersByEmail[user.Email] = user
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeUserStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	user := f.usersByID[userID]
	user.PasswordHash = passwordHash
	f.usersByID[userID] = user
	f.usersByEmail[user.Email] = user
	return nil
}

func (f *fakeUserStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.resets[token] = userID
	return nil
}

func (f *fakeUserStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	if f.usedResets[token] {
		return "", sql.ErrNoRows
	}
	userID, ok := f.resets[token]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (f *fakeUserStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.usedResets[token] = true
	return nil
}

func signUp(t *testing.T, svc *Service) *SignUpResponse {
	t.Helper()
	resp, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:       "dana@example.com",
		Password:    "correct-horse",
		DisplayName: "Dana",
	})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	return resp
}

func TestSignUpValidation(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	cases := []SignUpRequest{
		{},
		{Email: "a@b.com", Password: "longenough"},
		{Email: "a@b.com", DisplayName: "A", Password: "short"},
	}
	for _, req := range cases {
		if _, err := svc.SignUp(ctx, req); err == nil {
			t.Fatalf("expected validation error for %+v", req)
		}
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	svc := NewService(newFakeUserStore())
	signUp(t, svc)

	_, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:       "Dana@Example.com",
		Password:    "another-pass",
		DisplayName: "Dana Again",
	})
	if err == nil {
		t.Fatal("duplicate email must be rejected")
	}
}

func TestSignInFlow(t *testing.T) {
	fs := newFakeUserStore()
	svc := NewService(fs)
	resp := signUp(t, svc)

	// Before verification, sign-in flags the pending verification.
	signIn, err := svc.SignIn(context.Background(), SignInRequest{Email: "dana@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if !signIn.RequiresVerify {
		t.Fatal("unverified account should require verification")
	}

	if err := svc.VerifyEmail(context.Background(), resp.VerificationToken); err != nil {
		t.Fatalf("verify: %v", err)
	}

	signIn, err = svc.SignIn(context.Background(), SignInRequest{Email: "dana@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("sign in after verify: %v", err)
	}
	if signIn.RequiresVerify {
		t.Fatal("verified account should sign in cleanly")
	}
	if signIn.User.ID != resp.UserID {
		t.Fatalf("wrong user: %s", signIn.User.ID)
	}
}

func TestSignInWrongPassword(t *testing.T) {
	svc := NewService(newFakeUserStore())
	signUp(t, svc)

	if _, err := svc.SignIn(context.Background(), SignInRequest{Email: "dana@example.com", Password: "wrong"}); err == nil {
		t.Fatal("wrong password must fail")
	}
	if _, err := svc.SignIn(context.Background(), SignInRequest{Email: "nobody@example.com", Password: "whatever"}); err == nil {
		t.Fatal("unknown email must fail with the same error shape")
	}
}

func TestVerifyEmailBadToken(t *testing.T) {
	svc := NewService(newFakeUserStore())
	if err := svc.VerifyEmail(context.Background(), "bogus"); err == nil {
		t.Fatal("bad token must fail")
	}
	if err := svc.VerifyEmail(context.Background(), ""); err == nil {
		t.Fatal("empty token must fail")
	}
}

func TestPasswordResetFlow(t *testing.T) {
	fs := newFakeUserStore()
	svc := NewService(fs)
	resp := signUp(t, svc)
	if err := svc.VerifyEmail(context.Background(), resp.VerificationToken); err != nil {
		t.Fatalf("verify: %v", err)
	}

	token, err := svc.RequestPasswordReset(context.Background(), "dana@example.com")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if token == "" {
		t.Fatal("expected a reset token for a known email")
	}

	// Unknown emails produce no token and no error.
	ghost, err := svc.RequestPasswordReset(context.Background(), "ghost@example.com")
	if err != nil || ghost != "" {
		t.Fatalf("unknown email must not be revealed: token=%q err=%v", ghost, err)
	}

	if err := svc.ResetPassword(context.Background(), ResetPasswordRequest{Token: token, NewPassword: "brand-new-pass"}); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if _, err := svc.SignIn(context.Background(), SignInRequest{Email: "dana@example.com", Password: "correct-horse"}); err == nil {
		t.Fatal("old password must stop working")
	}
	if _, err := svc.SignIn(context.Background(), SignInRequest{Email: "dana@example.com", Password: "brand-new-pass"}); err != nil {
		t.Fatalf("new password should work: %v", err)
	}

	// The token is single use.
	if err := svc.ResetPassword(context.Background(), ResetPasswordRequest{Token: token, NewPassword: "yet-another-pass"}); err == nil {
		t.Fatal("used reset token must be rejected")
	}
}
