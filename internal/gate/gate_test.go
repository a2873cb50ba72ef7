package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/voxgate/voxgate/internal/apperr"
	"github.com/voxgate/voxgate/internal/auth"
	"github.com/voxgate/voxgate/internal/metrics"
	"github.com/voxgate/voxgate/internal/model"
	"github.com/voxgate/voxgate/internal/quota"
	"github.com/voxgate/voxgate/internal/repository/memory"
	"github.com/voxgate/voxgate/internal/testutil"
)

type fixture struct {
	store   *memory.Store
	metrics *metrics.InMemoryRecorder
	gate    *Gate
	now     time.Time
}

func newFixture(t *testing.T, limits quota.Limits) *fixture {
	t.Helper()
	f := &fixture{
		store:   memory.New(),
		metrics: metrics.NewInMemory(),
		now:     time.Date(2024, 5, 14, 9, 30, 0, 0, time.UTC),
	}
	f.gate = New(Config{
		Store:   f.store,
		Ledger:  quota.NewLedger(f.store, limits),
		Metrics: f.metrics,
		Logger:  testutil.DiscardLogger(),
		Now:     func() time.Time { return f.now },
	})
	t.Cleanup(f.gate.Wait)
	return f
}

func (f *fixture) seed(t *testing.T, plan model.Plan) (*model.User, *model.APIKey) {
	t.Helper()
	ctx := context.Background()
	user := testutil.NewTestUser(t, plan)
	if err := f.store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	key := testutil.NewTestAPIKey(t, user.ID)
	if err := f.store.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	return user, key
}

func TestAdmit_CredentialRejections(t *testing.T) {
	f := newFixture(t, quota.DefaultLimits())
	_, validKey := f.seed(t, model.PlanFree)

	testCases := []struct {
		name     string
		key      string
		wantKind apperr.Kind
		outcome  string
	}{
		{"missing key", "", apperr.MissingCredential, metrics.OutcomeMissingKey},
		{"malformed key", "short", apperr.InvalidCredential, metrics.OutcomeInvalidKey},
		{"unknown key", validKey.Key[:49] + "Z", apperr.InvalidCredential, metrics.OutcomeInvalidKey},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			authCtx, _, err := f.gate.Admit(context.Background(), tc.key, model.EndpointSpeechToText)
			if authCtx != nil {
				t.Errorf("expected no auth context, got %+v", authCtx)
			}
			if !apperr.IsKind(err, tc.wantKind) {
				t.Errorf("expected %s, got %v", tc.wantKind, err)
			}
			if f.metrics.GateDecisions(model.EndpointSpeechToText, tc.outcome) == 0 {
				t.Errorf("expected %s outcome to be recorded", tc.outcome)
			}
		})
	}

	if logs := f.store.RequestLogs(); len(logs) != 0 {
		t.Errorf("rejections must not write log entries, got %d", len(logs))
	}
}

func TestAdmit_DanglingKeyIsUnknownUser(t *testing.T) {
	f := newFixture(t, quota.DefaultLimits())
	user, key := f.seed(t, model.PlanFree)
	f.store.DeleteUser(user.ID)

	_, _, err := f.gate.Admit(context.Background(), key.Key, model.EndpointSpeechToText)
	if !apperr.IsKind(err, apperr.UnknownUser) {
		t.Fatalf("expected UnknownUser, got %v", err)
	}
	if logs := f.store.RequestLogs(); len(logs) != 0 {
		t.Errorf("expected no log entries, got %d", len(logs))
	}
}

func TestAdmit_FreePlanFiftyThenQuotaExceeded(t *testing.T) {
	f := newFixture(t, quota.DefaultLimits())
	_, key := f.seed(t, model.PlanFree)
	ctx := context.Background()

	for i := 1; i <= quota.DefaultFreeLimit; i++ {
		_, usage, err := f.gate.Admit(ctx, key.Key, model.EndpointSpeechToText)
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
		if usage.Used != i || usage.Remaining != quota.DefaultFreeLimit-i {
			t.Fatalf("call %d: unexpected usage %+v", i, usage)
		}
	}

	_, usage, err := f.gate.Admit(ctx, key.Key, model.EndpointSpeechToText)
	if !apperr.IsKind(err, apperr.QuotaExceeded) {
		t.Fatalf("call 51: expected QuotaExceeded, got %v", err)
	}
	if usage.Remaining != 0 || usage.Limit != quota.DefaultFreeLimit {
		t.Errorf("call 51: unexpected usage %+v", usage)
	}

	if logs := f.store.RequestLogs(); len(logs) != quota.DefaultFreeLimit {
		t.Errorf("expected %d log entries, got %d", quota.DefaultFreeLimit, len(logs))
	}
	if got := f.metrics.GateDecisions(model.EndpointSpeechToText, metrics.OutcomeQuotaExceeded); got != 1 {
		t.Errorf("quota_exceeded decisions = %d, want 1", got)
	}

	// The next calendar month starts a fresh window.
	f.now = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	if _, _, err := f.gate.Admit(ctx, key.Key, model.EndpointSpeechToText); err != nil {
		t.Fatalf("first call of new month: %v", err)
	}
}

func TestAdmit_WritesOneEntryPerCall(t *testing.T) {
	f := newFixture(t, quota.DefaultLimits())
	user, key := f.seed(t, model.PlanSilver)

	authCtx, usage, err := f.gate.Admit(context.Background(), key.Key, model.EndpointUsage)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}

	if authCtx.KeyID != key.ID || authCtx.UserID != user.ID || authCtx.Plan != model.PlanSilver {
		t.Errorf("unexpected auth context: %+v", authCtx)
	}
	if usage.Limit != quota.DefaultSilverLimit || usage.Used != 1 {
		t.Errorf("unexpected usage: %+v", usage)
	}
	if want := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC); !usage.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %v, want %v", usage.ResetAt, want)
	}

	logs := f.store.RequestLogs()
	if len(logs) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(logs))
	}
	entry := logs[0]
	if entry.ID == "" || entry.APIKeyID != key.ID || entry.UserID != user.ID {
		t.Errorf("unexpected entry ids: %+v", entry)
	}
	if entry.UserEmail != user.Email || entry.Endpoint != model.EndpointUsage {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if !entry.Timestamp.Equal(f.now) || entry.Timestamp.Location() != time.UTC {
		t.Errorf("unexpected timestamp: %v", entry.Timestamp)
	}
}

func TestAdmit_UpdatesLastUsed(t *testing.T) {
	f := newFixture(t, quota.DefaultLimits())
	_, key := f.seed(t, model.PlanFree)

	if _, _, err := f.gate.Admit(context.Background(), key.Key, model.EndpointSpeechToText); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	f.gate.Wait()

	stored, err := f.store.GetAPIKeyByKey(context.Background(), key.Key)
	if err != nil {
		t.Fatalf("GetAPIKeyByKey: %v", err)
	}
	if stored.LastUsedAt == nil || !stored.LastUsedAt.Equal(f.now) {
		t.Errorf("LastUsedAt = %v, want %v", stored.LastUsedAt, f.now)
	}
}

func TestAdmit_StoreErrorIsInternal(t *testing.T) {
	f := newFixture(t, quota.DefaultLimits())
	_, key := f.seed(t, model.PlanFree)
	f.store.Err = errors.New("connection reset")

	_, _, err := f.gate.Admit(context.Background(), key.Key, model.EndpointSpeechToText)
	if apperr.KindOf(err) != apperr.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]*model.AuthContext
	sets    int
}

func (c *fakeCache) GetAuthContext(_ context.Context, digest string) (*model.AuthContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[digest], nil
}

func (c *fakeCache) SetAuthContext(_ context.Context, digest string, a *model.AuthContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[digest] = a
	c.sets++
	return nil
}

func TestAdmit_UsesAuthCache(t *testing.T) {
	store := memory.New()
	cache := &fakeCache{entries: make(map[string]*model.AuthContext)}
	rec := metrics.NewInMemory()
	g := New(Config{
		Store:   store,
		Ledger:  quota.NewLedger(store, quota.DefaultLimits()),
		Cache:   cache,
		Metrics: rec,
		Logger:  testutil.DiscardLogger(),
	})
	defer g.Wait()

	user := testutil.NewTestUser(t, model.PlanGold)
	key := testutil.NewTestAPIKey(t, user.ID)
	_ = store.CreateUser(context.Background(), user)
	_ = store.CreateAPIKey(context.Background(), key)

	if _, _, err := g.Admit(context.Background(), key.Key, model.EndpointUsage); err != nil {
		t.Fatalf("first Admit: %v", err)
	}
	if cache.sets != 1 {
		t.Fatalf("expected auth context to be cached, sets=%d", cache.sets)
	}
	if _, ok := cache.entries[auth.KeyDigest(key.Key)]; !ok {
		t.Fatal("cache entry should be keyed by digest")
	}

	if _, _, err := g.Admit(context.Background(), key.Key, model.EndpointUsage); err != nil {
		t.Fatalf("second Admit: %v", err)
	}
	snap := rec.Snapshot()
	if snap.AuthCacheHits != 1 || snap.AuthCacheMisses != 1 {
		t.Errorf("cache hits=%d misses=%d, want 1/1", snap.AuthCacheHits, snap.AuthCacheMisses)
	}
	if len(store.RequestLogs()) != 2 {
		t.Errorf("expected 2 log entries, got %d", len(store.RequestLogs()))
	}
}

func TestAdmit_ConcurrentCallsNeverOverAdmit(t *testing.T) {
	limits, err := quota.NewLimits(5, 500, 2000)
	if err != nil {
		t.Fatalf("NewLimits: %v", err)
	}
	f := newFixture(t, limits)
	_, key := f.seed(t, model.PlanFree)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		rejected int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.gate.Admit(context.Background(), key.Key, model.EndpointSpeechToText)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case apperr.IsKind(err, apperr.QuotaExceeded):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if admitted != 5 || rejected != 20 {
		t.Errorf("admitted=%d rejected=%d, want 5/20", admitted, rejected)
	}
	if got := len(f.store.RequestLogs()); got != 5 {
		t.Errorf("stored entries = %d, want 5", got)
	}
}

func ExampleGate_Admit() {
	store := memory.New()
	g := New(Config{
		Store:  store,
		Ledger: quota.NewLedger(store, quota.DefaultLimits()),
		Logger: testutil.DiscardLogger(),
	})
	_, _, err := g.Admit(context.Background(), "", model.EndpointSpeechToText)
	fmt.Println(apperr.KindOf(err))
	// Output: MISSING_CREDENTIAL
}
