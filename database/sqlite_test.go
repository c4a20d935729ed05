package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"persona-recall/config"
	apperrors "persona-recall/errors"
	"persona-recall/memory"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	cfg := &config.Config{SQLitePath: filepath.Join(t.TempDir(), "recall.db")}
	store, err := NewSQLiteStore(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSQLiteStore error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema error: %v", err)
	}
	return store
}

func testFact(profileID, content string) *memory.Fact {
	now := time.Now()
	return &memory.Fact{
		ID:          uuid.NewString(),
		ProfileID:   profileID,
		Content:     content,
		ContentHash: "hash-" + content,
		Type:        memory.TypeFact,
		Lane:        memory.LaneCanon,
		Importance:  50,
		Confidence:  80,
		Keywords:    []string{"butcher", "newark"},
		Status:      memory.StatusActive,
		Version:     1,
		Source:      memory.Source{Kind: memory.SourceConversation, Ref: "conv-1"},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestInsertAndGetFact(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	profileID := uuid.NewString()

	fact := testFact(profileID, "Sal is a butcher from Newark")
	fact.Embedding = []float32{0.1, 0.2, 0.3}
	fact.EmbeddingModel = "test-embed"
	if err := store.InsertFact(ctx, fact); err != nil {
		t.Fatalf("InsertFact error: %v", err)
	}

	got, err := store.GetFact(ctx, fact.ID)
	if err != nil {
		t.Fatalf("GetFact error: %v", err)
	}
	if got.Content != fact.Content {
		t.Errorf("Content = %q, want %q", got.Content, fact.Content)
	}
	if got.Lane != memory.LaneCanon || got.Type != memory.TypeFact {
		t.Errorf("lane/type = %v/%v, want CANON/FACT", got.Lane, got.Type)
	}
	if len(got.Keywords) != 2 || got.Keywords[0] != "butcher" {
		t.Errorf("Keywords = %v, want [butcher newark]", got.Keywords)
	}
	if len(got.Embedding) != 3 || got.Embedding[2] != float32(0.3) {
		t.Errorf("Embedding = %v, want [0.1 0.2 0.3]", got.Embedding)
	}
	if got.Source.Kind != memory.SourceConversation || got.Source.Ref != "conv-1" {
		t.Errorf("Source = %+v, want conversation:conv-1", got.Source)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero after round trip")
	}

	if _, err := store.GetFact(ctx, uuid.NewString()); !apperrors.IsNotFound(err) {
		t.Errorf("GetFact(missing) error = %v, want ErrNotFound", err)
	}
}

func TestInsertFactDuplicateHash(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	profileID := uuid.NewString()

	first := testFact(profileID, "Sal is a butcher from Newark")
	if err := store.InsertFact(ctx, first); err != nil {
		t.Fatalf("InsertFact error: %v", err)
	}

	second := testFact(profileID, "Sal is a butcher from Newark")
	if err := store.InsertFact(ctx, second); !apperrors.IsDuplicate(err) {
		t.Errorf("duplicate insert error = %v, want ErrDuplicate", err)
	}

	// Other profiles may store the same content.
	other := testFact(uuid.NewString(), "Sal is a butcher from Newark")
	if err := store.InsertFact(ctx, other); err != nil {
		t.Errorf("cross-profile insert error: %v", err)
	}
}

func TestGetFactByContentHash(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	profileID := uuid.NewString()

	fact := testFact(profileID, "Sal is a butcher from Newark")
	if err := store.InsertFact(ctx, fact); err != nil {
		t.Fatalf("InsertFact error: %v", err)
	}

	got, err := store.GetFactByContentHash(ctx, profileID, fact.ContentHash)
	if err != nil {
		t.Fatalf("GetFactByContentHash error: %v", err)
	}
	if got == nil || got.ID != fact.ID {
		t.Fatalf("GetFactByContentHash = %v, want fact %s", got, fact.ID)
	}

	// Other profiles never see the hash.
	other, err := store.GetFactByContentHash(ctx, uuid.NewString(), fact.ContentHash)
	if err != nil {
		t.Fatalf("GetFactByContentHash other profile error: %v", err)
	}
	if other != nil {
		t.Errorf("hash visible across profiles: %+v", other)
	}
}

func TestSearchByEmbeddingOrdersBySimilarity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	profileID := uuid.NewString()

	near := testFact(profileID, "close match")
	near.ContentHash = "h1"
	near.Embedding = []float32{1, 0, 0}
	far := testFact(profileID, "distant match")
	far.ContentHash = "h2"
	far.Embedding = []float32{0, 1, 0}
	middle := testFact(profileID, "middling match")
	middle.ContentHash = "h3"
	middle.Embedding = []float32{1, 1, 0}

	for _, f := range []*memory.Fact{far, middle, near} {
		if err := store.InsertFact(ctx, f); err != nil {
			t.Fatalf("InsertFact error: %v", err)
		}
	}

	matches, err := store.SearchByEmbedding(ctx, profileID, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("SearchByEmbedding error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].Fact.ID != near.ID {
		t.Errorf("best match = %q, want %q", matches[0].Fact.Content, near.Content)
	}
	if matches[1].Fact.ID != middle.ID {
		t.Errorf("second match = %q, want %q", matches[1].Fact.Content, middle.Content)
	}
	if matches[0].Similarity <= matches[1].Similarity {
		t.Errorf("similarities not descending: %v then %v", matches[0].Similarity, matches[1].Similarity)
	}
}

func TestSearchByKeywords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	profileID := uuid.NewString()

	butcher := testFact(profileID, "Sal is a butcher from Newark")
	butcher.ContentHash = "h1"
	pigeons := testFact(profileID, "The pigeons on the roof have names")
	pigeons.ContentHash = "h2"
	pigeons.Keywords = []string{"pigeons", "roof"}

	for _, f := range []*memory.Fact{butcher, pigeons} {
		if err := store.InsertFact(ctx, f); err != nil {
			t.Fatalf("InsertFact error: %v", err)
		}
	}

	facts, err := store.SearchByKeywords(ctx, profileID, []string{"butcher"}, 10)
	if err != nil {
		t.Fatalf("SearchByKeywords error: %v", err)
	}
	if len(facts) != 1 || facts[0].ID != butcher.ID {
		t.Fatalf("SearchByKeywords(butcher) returned %d facts, want the butcher fact", len(facts))
	}

	// Keyword column matches even when content does not mention the term.
	facts, err = store.SearchByKeywords(ctx, profileID, []string{"newark"}, 10)
	if err != nil {
		t.Fatalf("SearchByKeywords error: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("SearchByKeywords(newark) returned %d facts, want 1", len(facts))
	}

	none, err := store.SearchByKeywords(ctx, profileID, nil, 10)
	if err != nil {
		t.Fatalf("SearchByKeywords(nil) error: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("SearchByKeywords(nil) returned %d facts, want 0", len(none))
	}
}

func TestMergeGroupVersionConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	profileID := uuid.NewString()

	master := testFact(profileID, "Sal is a butcher")
	master.ContentHash = "h1"
	dup := testFact(profileID, "Sal works as a butcher")
	dup.ContentHash = "h2"
	for _, f := range []*memory.Fact{master, dup} {
		if err := store.InsertFact(ctx, f); err != nil {
			t.Fatalf("InsertFact error: %v", err)
		}
	}

	update := memory.MergeUpdate{
		Content:        "Sal is a butcher",
		ContentHash:    "h1",
		Importance:     60,
		Keywords:       []string{"butcher", "sal"},
		RetrievalCount: 3,
		QualityScore:   1,
	}

	// Stale version must not apply and must keep the duplicate alive.
	err := store.MergeGroup(ctx, master.ID, 99, update, []string{dup.ID})
	if !apperrors.IsVersionConflict(err) {
		t.Fatalf("MergeGroup stale version error = %v, want ErrVersionConflict", err)
	}
	if _, err := store.GetFact(ctx, dup.ID); err != nil {
		t.Fatalf("duplicate was deleted despite conflict: %v", err)
	}

	if err := store.MergeGroup(ctx, master.ID, master.Version, update, []string{dup.ID}); err != nil {
		t.Fatalf("MergeGroup error: %v", err)
	}

	merged, err := store.GetFact(ctx, master.ID)
	if err != nil {
		t.Fatalf("GetFact after merge error: %v", err)
	}
	if merged.Version != master.Version+1 {
		t.Errorf("Version = %d, want %d", merged.Version, master.Version+1)
	}
	if merged.RetrievalCount != 3 {
		t.Errorf("RetrievalCount = %d, want 3", merged.RetrievalCount)
	}
	if _, err := store.GetFact(ctx, dup.ID); !apperrors.IsNotFound(err) {
		t.Errorf("duplicate still present after merge, err = %v", err)
	}
}

func TestMergeGroupKeepsProtectedFacts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	profileID := uuid.NewString()

	master := testFact(profileID, "Sal is a butcher")
	master.ContentHash = "h1"
	protected := testFact(profileID, "Sal the butcher, never forget")
	protected.ContentHash = "h2"
	protected.Protected = true
	for _, f := range []*memory.Fact{master, protected} {
		if err := store.InsertFact(ctx, f); err != nil {
			t.Fatalf("InsertFact error: %v", err)
		}
	}

	update := memory.MergeUpdate{Content: master.Content, ContentHash: "h1"}
	if err := store.MergeGroup(ctx, master.ID, master.Version, update, []string{protected.ID}); err != nil {
		t.Fatalf("MergeGroup error: %v", err)
	}

	if _, err := store.GetFact(ctx, protected.ID); err != nil {
		t.Errorf("protected fact was deleted by merge: %v", err)
	}
}

func TestIncrementRetrievalCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	profileID := uuid.NewString()

	a := testFact(profileID, "fact a")
	a.ContentHash = "ha"
	b := testFact(profileID, "fact b")
	b.ContentHash = "hb"
	for _, f := range []*memory.Fact{a, b} {
		if err := store.InsertFact(ctx, f); err != nil {
			t.Fatalf("InsertFact error: %v", err)
		}
	}

	if err := store.IncrementRetrievalCounts(ctx, []string{a.ID, b.ID}); err != nil {
		t.Fatalf("IncrementRetrievalCounts error: %v", err)
	}
	if err := store.IncrementRetrievalCounts(ctx, []string{a.ID}); err != nil {
		t.Fatalf("IncrementRetrievalCounts error: %v", err)
	}

	got, err := store.GetFact(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetFact error: %v", err)
	}
	if got.RetrievalCount != 2 {
		t.Errorf("RetrievalCount = %d, want 2", got.RetrievalCount)
	}
}

func TestConversationRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	convID := uuid.NewString()

	base := time.Now().Add(-time.Minute)
	for i, content := range []string{"first line", "second line", "third line"} {
		msg := &memory.Message{
			ConversationID: convID,
			Role:           "user",
			Content:        content,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
		if err := store.AddMessage(ctx, msg); err != nil {
			t.Fatalf("AddMessage error: %v", err)
		}
	}

	messages, err := store.GetRecentMessages(ctx, convID, 2)
	if err != nil {
		t.Fatalf("GetRecentMessages error: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}
	// Chronological order, trimmed to the most recent turns.
	if messages[0].Content != "second line" || messages[1].Content != "third line" {
		t.Errorf("messages = [%q, %q], want [second line, third line]", messages[0].Content, messages[1].Content)
	}
}

func TestBackfillQueries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	profileID := uuid.NewString()

	plain := testFact(profileID, "no embedding yet")
	plain.ContentHash = "h1"
	embedded := testFact(profileID, "already embedded")
	embedded.ContentHash = "h2"
	embedded.Embedding = []float32{1, 0}
	for _, f := range []*memory.Fact{plain, embedded} {
		if err := store.InsertFact(ctx, f); err != nil {
			t.Fatalf("InsertFact error: %v", err)
		}
	}

	missing, err := store.GetFactsWithoutEmbeddings(ctx, profileID, 10)
	if err != nil {
		t.Fatalf("GetFactsWithoutEmbeddings error: %v", err)
	}
	if len(missing) != 1 || missing[0].ID != plain.ID {
		t.Fatalf("GetFactsWithoutEmbeddings returned %d facts, want the un-embedded one", len(missing))
	}

	if err := store.UpdateEmbedding(ctx, plain.ID, []float32{0, 1}, "test-embed"); err != nil {
		t.Fatalf("UpdateEmbedding error: %v", err)
	}

	missing, err = store.GetFactsWithoutEmbeddings(ctx, profileID, 10)
	if err != nil {
		t.Fatalf("GetFactsWithoutEmbeddings error: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("GetFactsWithoutEmbeddings after backfill = %d facts, want 0", len(missing))
	}

	with, err := store.GetFactsWithEmbeddings(ctx, profileID, 0)
	if err != nil {
		t.Fatalf("GetFactsWithEmbeddings error: %v", err)
	}
	if len(with) != 2 {
		t.Errorf("GetFactsWithEmbeddings = %d facts, want 2", len(with))
	}
}
