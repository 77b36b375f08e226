package e2e

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/nidhogg/copperline/internal/chat"
	convctx "github.com/nidhogg/copperline/internal/context"
	pgstore "github.com/nidhogg/copperline/internal/store"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()
	testLogger = zap.NewNop()

	// Provider API keys are encrypted at rest; the tests need a key too.
	if os.Getenv("COPPERLINE_ENCRYPT_KEY") == "" {
		os.Setenv("COPPERLINE_ENCRYPT_KEY", strings.Repeat("ab", 32))
	}

	// 1. Start PostgreSQL
	pgDSN, pgCleanup, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres: %v\n", err)
		os.Exit(1)
	}
	defer pgCleanup()

	testStore, err = pgstore.New(ctx, pgDSN, testLogger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pg store: %v\n", err)
		os.Exit(1)
	}
	defer testStore.Close()

	// Run migrations
	if err := testStore.Migrate(ctx, "../../migrations"); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}

	// Raw pool for seeding CRM fixtures the store only reads.
	testPool, err = pgxpool.New(ctx, pgDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pg pool: %v\n", err)
		os.Exit(1)
	}
	defer testPool.Close()

	// 2. Start Redis
	redisURL, redisCleanup, err := startRedis(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer redisCleanup()
	testRedisURL = redisURL

	os.Exit(m.Run())
}

func TestConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	const (
		convID = "conv-lifecycle"
		userID = "user-lifecycle"
	)

	conv, err := testStore.GetOrCreate(ctx, convID, userID)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if conv.ID != convID || conv.UserID != userID {
		t.Fatalf("conversation identity = (%q, %q), want (%q, %q)", conv.ID, conv.UserID, convID, userID)
	}
	if len(conv.Turns) != 0 || conv.Summary != "" {
		t.Fatalf("new conversation not empty: %d turns, summary %q", len(conv.Turns), conv.Summary)
	}

	again, err := testStore.GetOrCreate(ctx, convID, userID)
	if err != nil {
		t.Fatalf("get or create again: %v", err)
	}
	if !again.CreatedAt.Equal(conv.CreatedAt) {
		t.Fatalf("second GetOrCreate created a new row: created_at %v != %v", again.CreatedAt, conv.CreatedAt)
	}

	// All turns share one timestamp so only insertion order can sort them.
	at := time.Now().UTC().Truncate(time.Second)
	bodies := []string{"first", "second", "third", "fourth"}
	for i, body := range bodies {
		sender := convctx.SenderUser
		if i%2 == 1 {
			sender = convctx.SenderAssistant
		}
		err := testStore.AppendTurn(ctx, convID, userID, convctx.Turn{
			Sender:     sender,
			Text:       body,
			OccurredAt: at,
		})
		if err != nil {
			t.Fatalf("append turn %d: %v", i, err)
		}
	}

	got, err := testStore.Get(ctx, convID, userID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Turns) != len(bodies) {
		t.Fatalf("got %d turns, want %d", len(got.Turns), len(bodies))
	}
	for i, turn := range got.Turns {
		if turn.Text != bodies[i] {
			t.Errorf("turn %d = %q, want %q", i, turn.Text, bodies[i])
		}
	}
	if got.Turns[0].Sender != convctx.SenderUser || got.Turns[1].Sender != convctx.SenderAssistant {
		t.Errorf("senders not preserved: %q, %q", got.Turns[0].Sender, got.Turns[1].Sender)
	}

	if err := testStore.UpdateSummary(ctx, convID, userID, "talked about four things"); err != nil {
		t.Fatalf("update summary: %v", err)
	}
	got, err = testStore.Get(ctx, convID, userID)
	if err != nil {
		t.Fatalf("get after summary: %v", err)
	}
	if got.Summary != "talked about four things" {
		t.Errorf("summary = %q", got.Summary)
	}
	if len(got.Turns) != len(bodies) {
		t.Errorf("summarization must not touch turns: got %d, want %d", len(got.Turns), len(bodies))
	}

	if err := testStore.UpdateTitle(ctx, convID, userID, "Quarterly review"); err != nil {
		t.Fatalf("update title: %v", err)
	}
	got, err = testStore.Get(ctx, convID, userID)
	if err != nil {
		t.Fatalf("get after title: %v", err)
	}
	if got.Title != "Quarterly review" {
		t.Errorf("title = %q", got.Title)
	}

	if err := testStore.Delete(ctx, convID, userID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := testStore.Get(ctx, convID, userID); !errors.Is(err, pgstore.ErrNotFound) {
		t.Fatalf("get after delete = %v, want ErrNotFound", err)
	}
	if err := testStore.AppendTurn(ctx, convID, userID, convctx.Turn{Sender: convctx.SenderUser, Text: "late"}); !errors.Is(err, pgstore.ErrNotFound) {
		t.Fatalf("append after delete = %v, want ErrNotFound", err)
	}
}

func TestConversationUserScoping(t *testing.T) {
	ctx := context.Background()
	const convID = "conv-shared-key"

	if _, err := testStore.GetOrCreate(ctx, convID, "alice"); err != nil {
		t.Fatalf("alice create: %v", err)
	}
	if _, err := testStore.GetOrCreate(ctx, convID, "bip"); err != nil {
		t.Fatalf("bip create: %v", err)
	}
	if err := testStore.AppendTurn(ctx, convID, "alice", convctx.Turn{Sender: convctx.SenderUser, Text: "alice only"}); err != nil {
		t.Fatalf("alice append: %v", err)
	}

	other, err := testStore.Get(ctx, convID, "bip")
	if err != nil {
		t.Fatalf("bip get: %v", err)
	}
	if len(other.Turns) != 0 {
		t.Fatalf("bip sees %d of alice's turns", len(other.Turns))
	}

	if _, err := testStore.Get(ctx, convID, "nobody"); !errors.Is(err, pgstore.ErrNotFound) {
		t.Fatalf("unknown user get = %v, want ErrNotFound", err)
	}
	if err := testStore.UpdateSummary(ctx, convID, "nobody", "x"); !errors.Is(err, pgstore.ErrNotFound) {
		t.Fatalf("unknown user summary = %v, want ErrNotFound", err)
	}
}

func TestConversationListOrder(t *testing.T) {
	ctx := context.Background()
	const userID = "user-list"

	for _, key := range []string{"list-a", "list-b", "list-c"} {
		if _, err := testStore.GetOrCreate(ctx, key, userID); err != nil {
			t.Fatalf("create %s: %v", key, err)
		}
	}
	// Touching list-a makes it the most recently active.
	if err := testStore.AppendTurn(ctx, "list-a", userID, convctx.Turn{Sender: convctx.SenderUser, Text: "bump"}); err != nil {
		t.Fatalf("bump: %v", err)
	}

	convs, err := testStore.List(ctx, userID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(convs) != 3 {
		t.Fatalf("got %d conversations, want 3", len(convs))
	}
	if convs[0].ID != "list-a" {
		t.Errorf("most recent = %q, want list-a", convs[0].ID)
	}
	for _, c := range convs {
		if len(c.Turns) != 0 {
			t.Errorf("list must not hydrate turns, %q has %d", c.ID, len(c.Turns))
		}
	}
}

func seedCRM(t *testing.T, userID string) {
	t.Helper()
	ctx := context.Background()

	contacts := []struct {
		name, email, company string
		tags                 []string
		lastDaysAgo          int
	}{
		{"Dana", "dana@acme.test", "Acme", []string{"vip"}, 1},
		{"Erik", "erik@acme.test", "Acme", nil, 3},
		{"Femi", "femi@acme.test", "Acme", nil, 5},
		{"Gwen", "gwen@initech.test", "Initech", []string{"lead"}, 2},
		{"Hugo", "hugo@initech.test", "Initech", nil, 8},
		{"Iris", "iris@solo.test", "", nil, 4},
	}
	for _, c := range contacts {
		_, err := testPool.Exec(ctx, `
			INSERT INTO contacts (id, user_id, name, email, company, tags, last_interaction)
			VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, NOW() - make_interval(days => $6))`,
			userID, c.name, c.email, c.company, c.tags, c.lastDaysAgo)
		if err != nil {
			t.Fatalf("seed contact %s: %v", c.name, err)
		}
	}

	activities := []struct {
		kind, details string
		daysAgo       int
	}{
		{"call", "intro call with Dana", 1},
		{"email", "sent proposal to Gwen", 2},
		{"meeting", "renewal discussion", 3},
	}
	for _, a := range activities {
		_, err := testPool.Exec(ctx, `
			INSERT INTO activities (id, user_id, activity_type, details, occurred_at)
			VALUES (gen_random_uuid(), $1, $2, $3, NOW() - make_interval(days => $4))`,
			userID, a.kind, a.details, a.daysAgo)
		if err != nil {
			t.Fatalf("seed activity %s: %v", a.kind, err)
		}
	}

	for _, tag := range []string{"vip", "lead", "churned"} {
		_, err := testPool.Exec(ctx, `
			INSERT INTO tags (id, user_id, name)
			VALUES (gen_random_uuid(), $1, $2)`, userID, tag)
		if err != nil {
			t.Fatalf("seed tag %s: %v", tag, err)
		}
	}
}

func TestCRMSnapshot(t *testing.T) {
	ctx := context.Background()
	const userID = "user-crm"
	seedCRM(t, userID)

	snap, err := testStore.Snapshot(ctx, userID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if snap.TotalContacts != 6 {
		t.Errorf("TotalContacts = %d, want 6", snap.TotalContacts)
	}
	if snap.CompaniesCount != 2 {
		t.Errorf("CompaniesCount = %d, want 2", snap.CompaniesCount)
	}
	if snap.TagsCount != 3 {
		t.Errorf("TagsCount = %d, want 3", snap.TagsCount)
	}

	if len(snap.TopCompanies) != 2 {
		t.Fatalf("TopCompanies = %d entries, want 2", len(snap.TopCompanies))
	}
	if snap.TopCompanies[0].Company != "Acme" || snap.TopCompanies[0].Count != 3 {
		t.Errorf("top company = %+v, want Acme with 3", snap.TopCompanies[0])
	}

	if len(snap.RecentContacts) != 6 {
		t.Fatalf("RecentContacts = %d entries, want 6", len(snap.RecentContacts))
	}
	if snap.RecentContacts[0].Name != "Dana" {
		t.Errorf("most recent contact = %q, want Dana", snap.RecentContacts[0].Name)
	}
	if len(snap.RecentContacts[0].Tags) != 1 || snap.RecentContacts[0].Tags[0] != "vip" {
		t.Errorf("Dana tags = %v, want [vip]", snap.RecentContacts[0].Tags)
	}

	if len(snap.RecentActivity) != 3 {
		t.Fatalf("RecentActivity = %d entries, want 3", len(snap.RecentActivity))
	}
	if snap.RecentActivity[0].Kind != "call" {
		t.Errorf("most recent activity = %q, want call", snap.RecentActivity[0].Kind)
	}

	want := []string{"churned", "lead", "vip"}
	if len(snap.Tags) != len(want) {
		t.Fatalf("Tags = %v, want %v", snap.Tags, want)
	}
	for i, name := range want {
		if snap.Tags[i] != name {
			t.Errorf("Tags[%d] = %q, want %q", i, snap.Tags[i], name)
		}
	}
}

func TestCRMSnapshotEmptyUser(t *testing.T) {
	snap, err := testStore.Snapshot(context.Background(), "user-with-nothing")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.TotalContacts != 0 || len(snap.RecentContacts) != 0 || len(snap.Tags) != 0 {
		t.Errorf("empty user snapshot not empty: %+v", snap)
	}
}

func TestProviderRoundTrip(t *testing.T) {
	ctx := context.Background()

	rows := []*pgstore.ProviderRow{
		{ID: "openai", Name: "OpenAI", Type: "openai", Endpoint: "https://api.openai.com/v1", APIKey: "sk-live-secret", Models: []string{"gpt-4o-mini", "gpt-4o"}, Priority: 1, Enabled: true},
		{ID: "mistral", Name: "Mistral", Type: "mistral", Endpoint: "https://api.mistral.ai/v1", APIKey: "mst-secret", Models: []string{"mistral-large-latest"}, Priority: 2, Enabled: true},
	}
	for _, row := range rows {
		if err := testStore.SaveProvider(ctx, row); err != nil {
			t.Fatalf("save %s: %v", row.ID, err)
		}
	}

	got, err := testStore.GetProvider(ctx, "openai")
	if err != nil {
		t.Fatalf("get openai: %v", err)
	}
	if got.APIKey != "sk-live-secret" {
		t.Errorf("api key round trip = %q", got.APIKey)
	}
	if len(got.Models) != 2 || got.Models[0] != "gpt-4o-mini" {
		t.Errorf("models = %v", got.Models)
	}

	// The key must not be stored in the clear.
	var enc []byte
	if err := testPool.QueryRow(ctx, `SELECT api_key_enc FROM providers WHERE id = 'openai'`).Scan(&enc); err != nil {
		t.Fatalf("read raw key: %v", err)
	}
	if strings.Contains(string(enc), "sk-live-secret") {
		t.Error("api key stored in plaintext")
	}

	list, err := testStore.ListProviders(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) < 2 {
		t.Fatalf("listed %d providers, want at least 2", len(list))
	}
	if list[0].Priority > list[1].Priority {
		t.Errorf("list not ordered by priority: %d then %d", list[0].Priority, list[1].Priority)
	}

	if err := testStore.SetProviderEnabled(ctx, "mistral", false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	got, err = testStore.GetProvider(ctx, "mistral")
	if err != nil {
		t.Fatalf("get mistral: %v", err)
	}
	if got.Enabled {
		t.Error("mistral still enabled after disable")
	}

	if err := testStore.DeleteProvider(ctx, "mistral"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := testStore.GetProvider(ctx, "mistral"); err == nil {
		t.Error("get after delete succeeded")
	}
}

// countingCRM counts how often the underlying snapshot source is hit.
type countingCRM struct {
	calls int
	snap  *chat.CRMSnapshot
}

func (c *countingCRM) Snapshot(ctx context.Context, userID string) (*chat.CRMSnapshot, error) {
	c.calls++
	return c.snap, nil
}

func TestSnapshotCacheReadThrough(t *testing.T) {
	ctx := context.Background()
	source := &countingCRM{snap: &chat.CRMSnapshot{TotalContacts: 7, Tags: []string{"vip"}}}

	cache, err := pgstore.NewSnapshotCache(testRedisURL, source, time.Minute, testLogger)
	if err != nil {
		t.Fatalf("snapshot cache: %v", err)
	}
	defer cache.Close()

	first, err := cache.Snapshot(ctx, "cache-user")
	if err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	if first.TotalContacts != 7 {
		t.Fatalf("first TotalContacts = %d", first.TotalContacts)
	}
	if source.calls != 1 {
		t.Fatalf("source hit %d times, want 1", source.calls)
	}

	second, err := cache.Snapshot(ctx, "cache-user")
	if err != nil {
		t.Fatalf("second snapshot: %v", err)
	}
	if source.calls != 1 {
		t.Errorf("cache miss on second read: source hit %d times", source.calls)
	}
	if second.TotalContacts != 7 || len(second.Tags) != 1 {
		t.Errorf("cached snapshot corrupted: %+v", second)
	}

	if err := cache.Invalidate(ctx, "cache-user"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := cache.Snapshot(ctx, "cache-user"); err != nil {
		t.Fatalf("snapshot after invalidate: %v", err)
	}
	if source.calls != 2 {
		t.Errorf("invalidate did not evict: source hit %d times, want 2", source.calls)
	}

	// Different users never share cache entries.
	if _, err := cache.Snapshot(ctx, "other-user"); err != nil {
		t.Fatalf("other user snapshot: %v", err)
	}
	if source.calls != 3 {
		t.Errorf("cache keys not user scoped: source hit %d times, want 3", source.calls)
	}
}
