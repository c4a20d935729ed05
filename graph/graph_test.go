package graph_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"persona-recall/config"
	"persona-recall/database"
	"persona-recall/graph"
)

func newTestGraph(t *testing.T) *graph.Graph {
	t.Helper()
	cfg := &config.Config{SQLitePath: filepath.Join(t.TempDir(), "graph.db")}
	store, err := database.NewSQLiteStore(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSQLiteStore error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema error: %v", err)
	}
	return graph.New(store.DB(), store.Dialect(), zap.NewNop(), true)
}

func TestCreateAndQueryEdges(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()
	profileID := uuid.NewString()
	master := uuid.NewString()
	duplicate := uuid.NewString()

	edge := graph.Edge{
		ProfileID: profileID,
		FromID:    master,
		ToID:      duplicate,
		EdgeType:  graph.EdgeSupersedes,
		Detail:    map[string]any{"merged_content_len": 42},
	}
	if err := g.CreateEdge(ctx, edge); err != nil {
		t.Fatalf("CreateEdge error: %v", err)
	}

	has, err := g.HasIncomingEdge(ctx, duplicate, graph.EdgeSupersedes)
	if err != nil {
		t.Fatalf("HasIncomingEdge error: %v", err)
	}
	if !has {
		t.Error("HasIncomingEdge = false, want true")
	}

	has, err = g.HasIncomingEdge(ctx, duplicate, graph.EdgeDisputes)
	if err != nil {
		t.Fatalf("HasIncomingEdge error: %v", err)
	}
	if has {
		t.Error("HasIncomingEdge(disputes) = true, want false")
	}

	edges, err := g.GetIncomingEdges(ctx, duplicate, graph.EdgeSupersedes)
	if err != nil {
		t.Fatalf("GetIncomingEdges error: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("got %d edges, want 1", len(edges))
	}
	if edges[0].FromID != master {
		t.Errorf("FromID = %s, want %s", edges[0].FromID, master)
	}
	if edges[0].Detail["merged_content_len"] == nil {
		t.Errorf("Detail lost in round trip: %v", edges[0].Detail)
	}
}

func TestCreateEdgeRejectsBadIDs(t *testing.T) {
	g := newTestGraph(t)
	err := g.CreateEdge(context.Background(), graph.Edge{
		ProfileID: uuid.NewString(),
		FromID:    "not-a-uuid",
		ToID:      uuid.NewString(),
		EdgeType:  graph.EdgeSupports,
	})
	if err == nil {
		t.Error("CreateEdge with invalid from_id: error = nil, want error")
	}
}

func TestAliasMergeAndExpand(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()
	profileID := uuid.NewString()

	if err := g.CreateOrUpdateAlias(ctx, profileID, "Sal", []string{"the butcher", "sal from newark"}); err != nil {
		t.Fatalf("CreateOrUpdateAlias error: %v", err)
	}
	// Second registration merges rather than duplicating.
	if err := g.CreateOrUpdateAlias(ctx, profileID, "Sal", []string{"salvatore", "the butcher"}); err != nil {
		t.Fatalf("CreateOrUpdateAlias merge error: %v", err)
	}

	alias, err := g.GetAliasForTest(ctx, profileID, "Sal")
	if err != nil {
		t.Fatalf("getAlias error: %v", err)
	}
	if alias == nil {
		t.Fatal("getAlias returned nil after registration")
	}
	if len(alias.Aliases) != 3 {
		t.Errorf("aliases = %v, want 3 distinct entries", alias.Aliases)
	}

	names, err := g.ExpandNames(ctx, profileID, []string{"The Butcher", "pigeons"})
	if err != nil {
		t.Fatalf("ExpandNames error: %v", err)
	}
	want := map[string]bool{"the butcher": true, "pigeons": true, "sal": true}
	if len(names) != len(want) {
		t.Fatalf("ExpandNames = %v, want names %v", names, want)
	}
	for _, name := range names {
		if !want[name] {
			t.Errorf("unexpected expanded name %q", name)
		}
	}
}

func TestDisabledGraphNoOps(t *testing.T) {
	g := graph.New(nil, "sqlite", zap.NewNop(), false)
	ctx := context.Background()

	if err := g.CreateEdge(ctx, graph.Edge{FromID: uuid.NewString(), ToID: uuid.NewString(), EdgeType: graph.EdgeSupports}); err != nil {
		t.Errorf("disabled CreateEdge error: %v", err)
	}
	has, err := g.HasIncomingEdge(ctx, uuid.NewString(), graph.EdgeSupports)
	if err != nil || has {
		t.Errorf("disabled HasIncomingEdge = (%v, %v), want (false, nil)", has, err)
	}
	names, err := g.ExpandNames(ctx, "p", []string{"Sal"})
	if err != nil {
		t.Errorf("disabled ExpandNames error: %v", err)
	}
	if len(names) != 1 || names[0] != "sal" {
		t.Errorf("disabled ExpandNames = %v, want [sal]", names)
	}
}
