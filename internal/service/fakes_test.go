package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"authcore/internal/model"
	"authcore/internal/repository"
)

// In-memory fakes backing the service tests. They mirror the conditional
// semantics of the real repositories: MarkUsed is first-writer-wins and
// Create enforces both id and email uniqueness.

type fakeCodeRepo struct {
	mu    sync.Mutex
	rows  []*model.VerificationCode
	seq   int
	fail  error
	bumps int
}

func (f *fakeCodeRepo) Create(ctx context.Context, code *model.VerificationCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.seq++
	if code.CodeID == "" {
		code.CodeID = fmt.Sprintf("code-%d", f.seq)
	}
	clone := *code
	f.rows = append(f.rows, &clone)
	return nil
}

func (f *fakeCodeRepo) LatestActive(ctx context.Context, email string, purpose model.Purpose, now time.Time) (*model.VerificationCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var newest *model.VerificationCode
	for _, row := range f.rows {
		if row.Email != email || row.Purpose != purpose || row.IsUsed || row.Expired(now) {
			continue
		}
		if newest == nil || row.CreatedAt.After(newest.CreatedAt) {
			newest = row
		}
	}
	if newest == nil {
		return nil, repository.ErrNotFound
	}
	clone := *newest
	return &clone, nil
}

func (f *fakeCodeRepo) LatestCreatedAt(ctx context.Context, email string, purpose model.Purpose) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var newest time.Time
	found := false
	for _, row := range f.rows {
		if row.Email == email && row.Purpose == purpose && (!found || row.CreatedAt.After(newest)) {
			newest = row.CreatedAt
			found = true
		}
	}
	if !found {
		return time.Time{}, repository.ErrNotFound
	}
	return newest, nil
}

func (f *fakeCodeRepo) MarkUsed(ctx context.Context, code *model.VerificationCode) (repository.RedeemOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.CodeID == code.CodeID {
			if row.IsUsed {
				return repository.AlreadyRedeemed, nil
			}
			row.IsUsed = true
			return repository.Redeemed, nil
		}
	}
	return repository.AlreadyRedeemed, nil
}

func (f *fakeCodeRepo) IncrementAttempts(ctx context.Context, code *model.VerificationCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bumps++
	for _, row := range f.rows {
		if row.CodeID == code.CodeID {
			row.Attempts++
		}
	}
	return nil
}

func (f *fakeCodeRepo) latest(email string, purpose model.Purpose) *model.VerificationCode {
	f.mu.Lock()
	defer f.mu.Unlock()
	var newest *model.VerificationCode
	for _, row := range f.rows {
		if row.Email == email && row.Purpose == purpose {
			if newest == nil || row.CreatedAt.After(newest.CreatedAt) {
				newest = row
			}
		}
	}
	return newest
}

type fakeUserRepo struct {
	mu      sync.Mutex
	byID    map[string]*model.User
	byEmail map[string]string
	fail    error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		byID:    make(map[string]*model.User),
		byEmail: make(map[string]string),
	}
}

func (f *fakeUserRepo) Create(ctx context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	if owner, ok := f.byEmail[user.Email]; ok && owner != user.ID {
		return repository.ErrAlreadyExists
	}
	if _, ok := f.byID[user.ID]; ok {
		return repository.ErrAlreadyExists
	}
	clone := *user
	f.byID[user.ID] = &clone
	f.byEmail[user.Email] = user.ID
	return nil
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (f *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byEmail[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *f.byID[id]
	return &clone, nil
}

func (f *fakeUserRepo) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.byID[id]; ok {
		t := at
		user.LastLoginAt = &t
	}
	return nil
}

func (f *fakeUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = at
	return nil
}

func (f *fakeUserRepo) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.byID[id]; ok {
		user.EmailVerified = true
		user.UpdatedAt = at
	}
	return nil
}

type fakeLogRepo struct {
	mu      sync.Mutex
	entries []*model.LoginLog
	fail    error
}

func (f *fakeLogRepo) Insert(ctx context.Context, entry *model.LoginLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	clone := *entry
	f.entries = append(f.entries, &clone)
	return nil
}

func (f *fakeLogRepo) CountFailedSince(ctx context.Context, email string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return 0, f.fail
	}
	count := 0
	for _, entry := range f.entries {
		if entry.Email == email && entry.Status == model.LoginFailed && entry.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeLogRepo) last() *model.LoginLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		return nil
	}
	return f.entries[len(f.entries)-1]
}

type fakeDispatcher struct {
	mu    sync.Mutex
	sent  []string
	codes []string
	ok    bool
}

func newFakeDispatcher() *fakeDispatcher { return &fakeDispatcher{ok: true} }

func (f *fakeDispatcher) Send(to string, purpose model.Purpose, code string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	f.codes = append(f.codes, code)
	return f.ok
}

func (f *fakeDispatcher) lastCode() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.codes) == 0 {
		return ""
	}
	return f.codes[len(f.codes)-1]
}

type fakeSessions struct {
	mu     sync.Mutex
	active map[string]string
	fail   error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{active: make(map[string]string)}
}

func (f *fakeSessions) Store(ctx context.Context, tokenID, userID string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.active[tokenID] = userID
	return nil
}

func (f *fakeSessions) IsActive(ctx context.Context, tokenID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.active[tokenID]
	return ok, nil
}

func (f *fakeSessions) Owner(ctx context.Context, tokenID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[tokenID], nil
}

func (f *fakeSessions) Revoke(ctx context.Context, tokenID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, tokenID)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
	fail   error
}

func (f *fakePublisher) ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.topics = append(f.topics, topic)
	return nil
}

type fakeIndexer struct {
	mu      sync.Mutex
	indexed []string
	fail    error
}

func (f *fakeIndexer) IndexDocument(ctx context.Context, index, id string, document interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.indexed = append(f.indexed, id)
	return nil
}

type fakeHasher struct{}

func (fakeHasher) Hash(plain string) (string, error) { return "hashed:" + plain, nil }

func (fakeHasher) Verify(plain, encoded string) (bool, error) {
	return encoded == "hashed:"+plain, nil
}
