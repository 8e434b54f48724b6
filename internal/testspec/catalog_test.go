package testspec

import (
	"testing"
)

func TestBuiltin_UniqueIDs(t *testing.T) {
	c := Builtin()
	seen := map[string]bool{}
	for _, s := range c.All() {
		if seen[s.ID] {
			t.Fatalf("duplicate spec id: %s", s.ID)
		}
		seen[s.ID] = true
	}
}

func TestBuiltin_FixtureRefMatchesCategory(t *testing.T) {
	for _, s := range Builtin().All() {
		want := string(s.Category) + "/"
		if len(s.FixtureRef) < len(want) || s.FixtureRef[:len(want)] != want {
			t.Fatalf("spec %s: fixture ref %q not under category %q", s.ID, s.FixtureRef, s.Category)
		}
	}
}

func TestNewCatalog_RejectsDuplicates(t *testing.T) {
	dup := []Spec{
		{ID: "TEST-AAA-001", Category: CategoryScope, FixtureRef: "scope/TEST-AAA-001.json"},
		{ID: "TEST-AAA-001", Category: CategoryScope, FixtureRef: "scope/TEST-AAA-001.json"},
	}
	if _, err := NewCatalog(dup); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestNewCatalog_RejectsBadFixtureRef(t *testing.T) {
	bad := []Spec{
		{ID: "TEST-AAA-001", Category: CategoryScope, FixtureRef: "archive/TEST-AAA-001.json"},
	}
	if _, err := NewCatalog(bad); err == nil {
		t.Fatal("expected fixture ref category error")
	}
}

func TestNewCatalog_RejectsBadID(t *testing.T) {
	bad := []Spec{
		{ID: "test-aaa-1", Category: CategoryScope, FixtureRef: "scope/x.json"},
	}
	if _, err := NewCatalog(bad); err == nil {
		t.Fatal("expected id pattern error")
	}
}

func TestCatalog_Selectors(t *testing.T) {
	c := Builtin()
	if got := c.ByCategory(CategoryScope); len(got) != 2 {
		t.Fatalf("scope specs: %d", len(got))
	}
	if got := c.ByGroup("voice"); len(got) != 1 || got[0].ID != "TEST-VOICE-002" {
		t.Fatalf("voice group: %+v", got)
	}
	sem := c.WithSemantic()
	if len(sem) < 2 {
		t.Fatalf("semantic specs: %d", len(sem))
	}
	if _, ok := c.ByID("TEST-ARC-001"); !ok {
		t.Fatal("ByID miss")
	}
	if _, ok := c.ByID("TEST-NOPE-001"); ok {
		t.Fatal("ByID false hit")
	}
}

func TestSemanticSpec_EffectiveThreshold(t *testing.T) {
	var nilSpec *SemanticSpec
	if nilSpec.EffectiveThreshold() != DefaultThreshold {
		t.Fatal("nil threshold")
	}
	s := &SemanticSpec{Threshold: 95}
	if s.EffectiveThreshold() != 95 {
		t.Fatal("explicit threshold")
	}
	s.Threshold = 0
	if s.EffectiveThreshold() != DefaultThreshold {
		t.Fatal("default threshold")
	}
}

func TestInputType_Helpers(t *testing.T) {
	if !InputVoice.IsSpoken() || !InputAudio.IsSpoken() || InputText.IsSpoken() {
		t.Fatal("IsSpoken")
	}
	if !InputPhoto.IsMedia() || InputURL.IsMedia() {
		t.Fatal("IsMedia")
	}
}
