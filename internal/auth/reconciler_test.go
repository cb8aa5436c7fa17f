package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/whatsub/usersvc/internal/model"
	"github.com/whatsub/usersvc/internal/repository"
)

// mockUserRepo はUserRepositoryのモック。
type mockUserRepo struct {
	findByIDFunc       func(ctx context.Context, id string) (*model.User, error)
	findByEmailFunc    func(ctx context.Context, email string) (*model.User, error)
	findByGoogleIDFunc func(ctx context.Context, googleID string) (*model.User, error)
	listFunc           func(ctx context.Context) ([]*model.User, error)
	createFunc         func(ctx context.Context, user *model.User) error
	updateFunc         func(ctx context.Context, user *model.User) (*model.User, error)
	refreshProfileFunc func(ctx context.Context, id, fullName string) (*model.User, error)
	linkGoogleIDFunc   func(ctx context.Context, id, googleID, fullName string) (*model.User, error)
	deleteByIDFunc     func(ctx context.Context, id string) (bool, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return m.findByIDFunc(ctx, id)
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return m.findByEmailFunc(ctx, email)
}

func (m *mockUserRepo) FindByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	return m.findByGoogleIDFunc(ctx, googleID)
}

func (m *mockUserRepo) List(ctx context.Context) ([]*model.User, error) {
	return m.listFunc(ctx)
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	return m.createFunc(ctx, user)
}

func (m *mockUserRepo) Update(ctx context.Context, user *model.User) (*model.User, error) {
	return m.updateFunc(ctx, user)
}

func (m *mockUserRepo) RefreshProfile(ctx context.Context, id, fullName string) (*model.User, error) {
	return m.refreshProfileFunc(ctx, id, fullName)
}

func (m *mockUserRepo) LinkGoogleID(ctx context.Context, id, googleID, fullName string) (*model.User, error) {
	return m.linkGoogleIDFunc(ctx, id, googleID, fullName)
}

func (m *mockUserRepo) DeleteByID(ctx context.Context, id string) (bool, error) {
	return m.deleteByIDFunc(ctx, id)
}

var _ repository.UserRepository = (*mockUserRepo)(nil)

func testClaims() *VerifiedClaims {
	return &VerifiedClaims{
		Subject:   "google-sub-123",
		Email:     "taro@example.com",
		Name:      "Taro Yamada",
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func strPtr(s string) *string { return &s }

// google_id一致の既存ユーザーはプロフィール更新してログインすることを検証
func TestReconciler_ExistingUserByGoogleID(t *testing.T) {
	existing := &model.User{
		ID:       "user-1",
		Email:    "taro@example.com",
		FullName: "Old Name",
		GoogleID: strPtr("google-sub-123"),
	}
	var refreshedName string
	repo := &mockUserRepo{
		findByGoogleIDFunc: func(ctx context.Context, googleID string) (*model.User, error) {
			return existing, nil
		},
		refreshProfileFunc: func(ctx context.Context, id, fullName string) (*model.User, error) {
			refreshedName = fullName
			updated := *existing
			updated.FullName = fullName
			return &updated, nil
		},
	}

	result, err := NewReconciler(repo).Reconcile(context.Background(), testClaims())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.IsNewUser {
		t.Error("IsNewUser = true, want false for existing user")
	}
	if result.User.ID != "user-1" {
		t.Errorf("User.ID = %q, want user-1", result.User.ID)
	}
	if refreshedName != "Taro Yamada" {
		t.Errorf("refreshed name = %q, want Taro Yamada", refreshedName)
	}
}

// email一致・未連携ユーザーにはgoogle_idが連携されることを検証
func TestReconciler_LinksUnlinkedUserByEmail(t *testing.T) {
	unlinked := &model.User{
		ID:       "user-2",
		Email:    "taro@example.com",
		FullName: "Taro",
		GoogleID: nil,
	}
	var linkedGoogleID string
	repo := &mockUserRepo{
		findByGoogleIDFunc: func(ctx context.Context, googleID string) (*model.User, error) {
			return nil, nil
		},
		findByEmailFunc: func(ctx context.Context, email string) (*model.User, error) {
			return unlinked, nil
		},
		linkGoogleIDFunc: func(ctx context.Context, id, googleID, fullName string) (*model.User, error) {
			linkedGoogleID = googleID
			linked := *unlinked
			linked.GoogleID = &googleID
			linked.FullName = fullName
			return &linked, nil
		},
	}

	result, err := NewReconciler(repo).Reconcile(context.Background(), testClaims())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.IsNewUser {
		t.Error("IsNewUser = true, want false for linked user")
	}
	if linkedGoogleID != "google-sub-123" {
		t.Errorf("linked google_id = %q, want google-sub-123", linkedGoogleID)
	}
}

// email一致だが別google_idに連携済みの場合はErrConflictingAccountを検証
func TestReconciler_ConflictingAccount(t *testing.T) {
	conflicting := &model.User{
		ID:       "user-3",
		Email:    "taro@example.com",
		GoogleID: strPtr("other-google-sub"),
	}
	repo := &mockUserRepo{
		findByGoogleIDFunc: func(ctx context.Context, googleID string) (*model.User, error) {
			return nil, nil
		},
		findByEmailFunc: func(ctx context.Context, email string) (*model.User, error) {
			return conflicting, nil
		},
	}

	_, err := NewReconciler(repo).Reconcile(context.Background(), testClaims())
	if !errors.Is(err, ErrConflictingAccount) {
		t.Errorf("Reconcile() error = %v, want ErrConflictingAccount", err)
	}
}

// email一致で同一google_idに連携済みの場合は既存ユーザーとしてログインすることを検証。
// 同時初回ログインで、google_id照合が勝者のINSERTコミット前に空振りし、
// email照合が勝者の行を拾うインターリーブを再現する。
func TestReconciler_SameGoogleIDFoundByEmail_Converges(t *testing.T) {
	winner := &model.User{
		ID:       "user-winner",
		Email:    "taro@example.com",
		FullName: "Taro",
		GoogleID: strPtr("google-sub-123"),
	}
	repo := &mockUserRepo{
		findByGoogleIDFunc: func(ctx context.Context, googleID string) (*model.User, error) {
			// 勝者のINSERTコミット前に照合した状態
			return nil, nil
		},
		findByEmailFunc: func(ctx context.Context, email string) (*model.User, error) {
			return winner, nil
		},
		refreshProfileFunc: func(ctx context.Context, id, fullName string) (*model.User, error) {
			if id != "user-winner" {
				t.Errorf("RefreshProfile id = %q, want user-winner", id)
			}
			updated := *winner
			updated.FullName = fullName
			return &updated, nil
		},
		linkGoogleIDFunc: func(ctx context.Context, id, googleID, fullName string) (*model.User, error) {
			t.Error("LinkGoogleID should not be called for an already-linked user")
			return nil, repository.ErrAlreadyLinked
		},
		createFunc: func(ctx context.Context, user *model.User) error {
			t.Error("Create should not be called when the row already exists")
			return repository.ErrDuplicateGoogleID
		},
	}

	result, err := NewReconciler(repo).Reconcile(context.Background(), testClaims())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.IsNewUser {
		t.Error("IsNewUser = true, want false for converged user")
	}
	if result.User.ID != "user-winner" {
		t.Errorf("User.ID = %q, want user-winner", result.User.ID)
	}
}

// 該当ユーザーがいない場合は新規作成されることを検証
func TestReconciler_CreatesNewUser(t *testing.T) {
	var created *model.User
	repo := &mockUserRepo{
		findByGoogleIDFunc: func(ctx context.Context, googleID string) (*model.User, error) {
			return nil, nil
		},
		findByEmailFunc: func(ctx context.Context, email string) (*model.User, error) {
			return nil, nil
		},
		createFunc: func(ctx context.Context, user *model.User) error {
			created = user
			return nil
		},
	}

	result, err := NewReconciler(repo).Reconcile(context.Background(), testClaims())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if !result.IsNewUser {
		t.Error("IsNewUser = false, want true for new user")
	}
	if created == nil {
		t.Fatal("Create was not called")
	}
	if created.Email != "taro@example.com" {
		t.Errorf("created email = %q, want taro@example.com", created.Email)
	}
	if created.GoogleID == nil || *created.GoogleID != "google-sub-123" {
		t.Error("created user should have google_id set")
	}
	if created.ID == "" {
		t.Error("created user should have a generated ID")
	}
}

// 作成競合（重複エラー）時は1回だけ再照合することを検証
func TestReconciler_RetriesOnDuplicateRace(t *testing.T) {
	winner := &model.User{
		ID:       "user-winner",
		Email:    "taro@example.com",
		GoogleID: strPtr("google-sub-123"),
	}
	calls := 0
	repo := &mockUserRepo{
		findByGoogleIDFunc: func(ctx context.Context, googleID string) (*model.User, error) {
			calls++
			if calls == 1 {
				// 1回目: まだ存在しない
				return nil, nil
			}
			// 2回目: 競合相手が先に作成済み
			return winner, nil
		},
		findByEmailFunc: func(ctx context.Context, email string) (*model.User, error) {
			return nil, nil
		},
		createFunc: func(ctx context.Context, user *model.User) error {
			return repository.ErrDuplicateGoogleID
		},
		refreshProfileFunc: func(ctx context.Context, id, fullName string) (*model.User, error) {
			return winner, nil
		},
	}

	result, err := NewReconciler(repo).Reconcile(context.Background(), testClaims())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.User.ID != "user-winner" {
		t.Errorf("User.ID = %q, want user-winner", result.User.ID)
	}
	if calls != 2 {
		t.Errorf("FindByGoogleID called %d times, want 2", calls)
	}
}

// 再照合でも重複エラーの場合はエラーを返す（無限リトライしない）ことを検証
func TestReconciler_DoesNotRetryForever(t *testing.T) {
	createCalls := 0
	repo := &mockUserRepo{
		findByGoogleIDFunc: func(ctx context.Context, googleID string) (*model.User, error) {
			return nil, nil
		},
		findByEmailFunc: func(ctx context.Context, email string) (*model.User, error) {
			return nil, nil
		},
		createFunc: func(ctx context.Context, user *model.User) error {
			createCalls++
			return repository.ErrDuplicateGoogleID
		},
	}

	_, err := NewReconciler(repo).Reconcile(context.Background(), testClaims())
	if err == nil {
		t.Fatal("expected error after retry exhaustion")
	}
	if createCalls != 2 {
		t.Errorf("Create called %d times, want 2", createCalls)
	}
}

// inMemoryUserRepo はユニーク制約を再現するインメモリ実装。同時ログイン検証用。
type inMemoryUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User // key: user ID
}

func newInMemoryUserRepo() *inMemoryUserRepo {
	return &inMemoryUserRepo{users: make(map[string]*model.User)}
}

func (r *inMemoryUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, nil
}

func (r *inMemoryUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *inMemoryUserRepo) FindByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.GoogleID != nil && *u.GoogleID == googleID {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *inMemoryUserRepo) List(ctx context.Context) ([]*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.User
	for _, u := range r.users {
		copied := *u
		out = append(out, &copied)
	}
	return out, nil
}

func (r *inMemoryUserRepo) Create(ctx context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
		if u.GoogleID != nil && user.GoogleID != nil && *u.GoogleID == *user.GoogleID {
			return repository.ErrDuplicateGoogleID
		}
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	copied := *user
	r.users[user.ID] = &copied
	return nil
}

func (r *inMemoryUserRepo) Update(ctx context.Context, user *model.User) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.users[user.ID]
	if !ok {
		return nil, nil
	}
	for id, u := range r.users {
		if id != user.ID && u.Email == user.Email {
			return nil, repository.ErrDuplicateEmail
		}
	}
	stored.Email = user.Email
	stored.FullName = user.FullName
	stored.PrimaryPhone = user.PrimaryPhone
	stored.UpdatedAt = time.Now()
	copied := *stored
	return &copied, nil
}

func (r *inMemoryUserRepo) RefreshProfile(ctx context.Context, id, fullName string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	stored.FullName = fullName
	stored.UpdatedAt = time.Now()
	copied := *stored
	return &copied, nil
}

func (r *inMemoryUserRepo) LinkGoogleID(ctx context.Context, id, googleID, fullName string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.users[id]
	if !ok || stored.GoogleID != nil {
		return nil, repository.ErrAlreadyLinked
	}
	for _, u := range r.users {
		if u.GoogleID != nil && *u.GoogleID == googleID {
			return nil, repository.ErrDuplicateGoogleID
		}
	}
	stored.GoogleID = &googleID
	stored.FullName = fullName
	stored.UpdatedAt = time.Now()
	copied := *stored
	return &copied, nil
}

func (r *inMemoryUserRepo) DeleteByID(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return false, nil
	}
	delete(r.users, id)
	return true, nil
}

var _ repository.UserRepository = (*inMemoryUserRepo)(nil)

// 同一ユーザーの同時初回ログインでもレコードが1件に収束することを検証
func TestReconciler_ConcurrentFirstLogin_SingleRow(t *testing.T) {
	repo := newInMemoryUserRepo()
	reconciler := NewReconciler(repo)

	const goroutines = 16
	var wg sync.WaitGroup
	errs := make(chan error, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reconciler.Reconcile(context.Background(), testClaims()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent Reconcile failed: %v", err)
	}

	users, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("user count = %d, want exactly 1", len(users))
	}
	if users[0].GoogleID == nil || *users[0].GoogleID != "google-sub-123" {
		t.Error("surviving user should be linked to the google_id")
	}
}
