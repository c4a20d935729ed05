package memory

import (
	"math"
	"slices"
	"testing"
)

func TestBuildGroupUnionLaw(t *testing.T) {
	master := Fact{
		ID:             "master",
		Content:        "Sal is a butcher from Newark",
		Keywords:       []string{"sal", "butcher"},
		Relationships:  []string{"sal"},
		RetrievalCount: 3,
		SupportCount:   1,
		QualityScore:   60,
		Importance:     40,
	}
	d1 := Fact{
		ID:             "d1",
		Content:        "Sal the butcher is from Newark",
		Keywords:       []string{"sal", "newark"},
		Relationships:  []string{"newark"},
		RetrievalCount: 2,
		QualityScore:   80,
		Importance:     60,
	}
	d2 := Fact{
		ID:             "d2",
		Content:        "Sal, a Newark butcher",
		Keywords:       []string{"butcher", "shop"},
		RetrievalCount: 7,
		SupportCount:   2,
		QualityScore:   50,
		Importance:     20,
	}

	group := BuildGroup(master, []Fact{d1, d2})

	wantKeywords := []string{"butcher", "newark", "sal", "shop"}
	if !slices.Equal(group.CombinedKeywords, wantKeywords) {
		t.Errorf("CombinedKeywords = %v, want %v", group.CombinedKeywords, wantKeywords)
	}
	wantRelationships := []string{"newark", "sal"}
	if !slices.Equal(group.CombinedRelationships, wantRelationships) {
		t.Errorf("CombinedRelationships = %v, want %v", group.CombinedRelationships, wantRelationships)
	}
	if group.RetrievalCount != 12 {
		t.Errorf("RetrievalCount = %d, want sum 12", group.RetrievalCount)
	}
	if group.SupportCount != 3 {
		t.Errorf("SupportCount = %d, want sum 3", group.SupportCount)
	}
	if group.QualityScore != 80 {
		t.Errorf("QualityScore = %v, want max 80", group.QualityScore)
	}
	// max 60 + 0.1 * avg(40, 60, 20) = 60 + 4 = 64
	if math.Abs(group.CombinedImportance-64) > 1e-9 {
		t.Errorf("CombinedImportance = %v, want 64", group.CombinedImportance)
	}
}

func TestBuildGroupImportanceCeiling(t *testing.T) {
	master := Fact{ID: "m", Content: "a", Importance: 100}
	dup := Fact{ID: "d", Content: "a", Importance: 100}
	group := BuildGroup(master, []Fact{dup})
	if group.CombinedImportance != 100 {
		t.Errorf("CombinedImportance = %v, want ceiling 100", group.CombinedImportance)
	}
}

func TestBuildGroupContentReplacement(t *testing.T) {
	tests := []struct {
		name        string
		master      Fact
		dup         Fact
		wantContent string
	}{
		{
			name:        "longer_comprehensive_duplicate_replaces",
			master:      Fact{ID: "m", Content: "Sal ran a shop"},
			dup:         Fact{ID: "d", Content: "Sal ran a butcher shop on Mulberry Street in Newark for thirty years"},
			wantContent: "Sal ran a butcher shop on Mulberry Street in Newark for thirty years",
		},
		{
			name:        "rephrasing_keeps_master_content",
			master:      Fact{ID: "m", Content: "Sal ran a butcher shop in Newark"},
			dup:         Fact{ID: "d", Content: "Sal operated a butcher shop in Newark"},
			wantContent: "Sal ran a butcher shop in Newark",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			group := BuildGroup(tt.master, []Fact{tt.dup})
			if group.MergedContent != tt.wantContent {
				t.Errorf("MergedContent = %q, want %q", group.MergedContent, tt.wantContent)
			}
		})
	}
}

func TestBuildGroupProtectedPromotion(t *testing.T) {
	master := Fact{ID: "m", Content: "unprotected seed"}
	protected := Fact{ID: "p", Content: "protected member", Protected: true}
	plain := Fact{ID: "d", Content: "plain duplicate"}

	group := BuildGroup(master, []Fact{protected, plain})

	if group.Master.ID != "p" {
		t.Errorf("master = %q, want protected fact promoted", group.Master.ID)
	}
	for i := range group.Duplicates {
		if group.Duplicates[i].Protected {
			t.Errorf("protected fact %q left in delete set", group.Duplicates[i].ID)
		}
	}
	ids := make([]string, 0, len(group.Duplicates))
	for i := range group.Duplicates {
		ids = append(ids, group.Duplicates[i].ID)
	}
	if !slices.Contains(ids, "m") || !slices.Contains(ids, "d") {
		t.Errorf("duplicates = %v, want former master and plain duplicate", ids)
	}
}

func TestBuildGroupTwoProtectedMembers(t *testing.T) {
	master := Fact{ID: "p1", Content: "first protected", Protected: true}
	second := Fact{ID: "p2", Content: "second protected", Protected: true}
	plain := Fact{ID: "d", Content: "plain duplicate"}

	group := BuildGroup(master, []Fact{second, plain})

	if group.Master.ID != "p1" {
		t.Errorf("master = %q, want p1 retained", group.Master.ID)
	}
	if len(group.Duplicates) != 1 || group.Duplicates[0].ID != "d" {
		t.Errorf("duplicates = %v, want only the unprotected member", group.Duplicates)
	}
}
