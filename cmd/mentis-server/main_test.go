package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mentis/mentis/internal/platform/fhir"
)

// ---------------------------------------------------------------------------
// decodeScaleSeed tests
// ---------------------------------------------------------------------------

const phq2Seed = `
name: Patient Health Questionnaire-2
abbreviation: PHQ-2
category: depression
min_score: 0
max_score: 6
items:
  - number: 1
    prompt: Little interest or pleasure in doing things
    response_type: likert
    options:
      - { value: "0", label: Not at all, score: 0 }
      - { value: "1", label: Several days, score: 1 }
      - { value: "2", label: More than half the days, score: 2 }
      - { value: "3", label: Nearly every day, score: 3 }
  - number: 2
    prompt: Feeling down, depressed, or hopeless
    response_type: likert
    options:
      - { value: "0", label: Not at all, score: 0 }
      - { value: "1", label: Several days, score: 1 }
      - { value: "2", label: More than half the days, score: 2 }
      - { value: "3", label: Nearly every day, score: 3 }
interpretation_rules:
  - id: negative
    label: Negative screen
    min_score: 0
    max_score: 2
    severity: minimal
  - id: positive
    label: Positive screen
    min_score: 3
    max_score: 6
    severity: moderate
`

func TestDecodeScaleSeed(t *testing.T) {
	sc, err := decodeScaleSeed([]byte(phq2Seed))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sc.Abbreviation != "PHQ-2" {
		t.Errorf("abbreviation = %q, want PHQ-2", sc.Abbreviation)
	}
	if sc.Name != "Patient Health Questionnaire-2" {
		t.Errorf("name = %q, want Patient Health Questionnaire-2", sc.Name)
	}
	if sc.MaxScore != 6 {
		t.Errorf("max_score = %g, want 6", sc.MaxScore)
	}
	if len(sc.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(sc.Items))
	}
	if len(sc.Items[0].Options) != 4 {
		t.Errorf("expected 4 options on item 1, got %d", len(sc.Items[0].Options))
	}
	if sc.Items[0].Options[3].Score != 3 {
		t.Errorf("option score = %g, want 3", sc.Items[0].Options[3].Score)
	}
	if len(sc.Rules) != 2 {
		t.Fatalf("expected 2 interpretation rules, got %d", len(sc.Rules))
	}
	if sc.Rules[1].Label != "Positive screen" {
		t.Errorf("rule label = %q, want Positive screen", sc.Rules[1].Label)
	}
}

func TestDecodeScaleSeed_InvalidYAML(t *testing.T) {
	_, err := decodeScaleSeed([]byte("name: [unclosed"))
	if err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}

func TestDecodeScaleSeed_Empty(t *testing.T) {
	_, err := decodeScaleSeed([]byte(""))
	if err == nil {
		t.Fatal("expected error for empty document, got nil")
	}
	if !strings.Contains(err.Error(), "empty seed document") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDecodeScaleSeed_WrongShape(t *testing.T) {
	// items must be a list, not a scalar.
	_, err := decodeScaleSeed([]byte("name: X\nabbreviation: X\nitems: nope\n"))
	if err == nil {
		t.Fatal("expected error for malformed items, got nil")
	}
}

// ---------------------------------------------------------------------------
// seedFiles tests
// ---------------------------------------------------------------------------

func TestSeedFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"phq9.yaml", "gad7.yml", "README.md", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "archive"), 0o755); err != nil {
		t.Fatal(err)
	}

	files, err := seedFiles(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 seed files, got %d: %v", len(files), files)
	}
	// Sorted by full path, so gad7 comes before phq9.
	if filepath.Base(files[0]) != "gad7.yml" || filepath.Base(files[1]) != "phq9.yaml" {
		t.Errorf("unexpected order: %v", files)
	}
}

func TestSeedFiles_MissingDir(t *testing.T) {
	_, err := seedFiles(filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Fatal("expected error for missing directory, got nil")
	}
}

func TestSeedFiles_EmptyDir(t *testing.T) {
	files, err := seedFiles(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("expected no files, got %v", files)
	}
}

// ---------------------------------------------------------------------------
// registerFHIRResources tests
// ---------------------------------------------------------------------------

func TestRegisterFHIRResources(t *testing.T) {
	capBuilder := fhir.NewCapabilityBuilder("http://localhost:8000/fhir", serverVersion)
	registerFHIRResources(capBuilder)

	if capBuilder.ResourceCount() != 2 {
		t.Fatalf("expected 2 resources, got %d", capBuilder.ResourceCount())
	}

	types := capBuilder.GetResourceTypes()
	found := map[string]bool{}
	for _, rt := range types {
		found[rt] = true
	}
	if !found["Questionnaire"] || !found["QuestionnaireResponse"] {
		t.Errorf("expected Questionnaire and QuestionnaireResponse, got %v", types)
	}
}

func TestRegisterFHIRResources_Interactions(t *testing.T) {
	capBuilder := fhir.NewCapabilityBuilder("http://localhost:8000/fhir", serverVersion)
	registerFHIRResources(capBuilder)

	stmt := capBuilder.Build()
	rest, ok := stmt["rest"].([]map[string]interface{})
	if !ok || len(rest) == 0 {
		t.Fatal("capability statement missing rest section")
	}
	resources, ok := rest[0]["resource"].([]map[string]interface{})
	if !ok {
		t.Fatal("capability statement missing resource list")
	}

	interactions := map[string][]string{}
	for _, res := range resources {
		rt, _ := res["type"].(string)
		entries, _ := res["interaction"].([]map[string]string)
		for _, entry := range entries {
			interactions[rt] = append(interactions[rt], entry["code"])
		}
	}

	hasCode := func(rt, code string) bool {
		for _, c := range interactions[rt] {
			if c == code {
				return true
			}
		}
		return false
	}

	if !hasCode("Questionnaire", "create") {
		t.Error("Questionnaire should support create")
	}
	if !hasCode("Questionnaire", "read") || !hasCode("Questionnaire", "search-type") {
		t.Error("Questionnaire should support read and search-type")
	}
	if hasCode("QuestionnaireResponse", "create") {
		t.Error("QuestionnaireResponse must not advertise create")
	}
	if !hasCode("QuestionnaireResponse", "read") {
		t.Error("QuestionnaireResponse should support read")
	}
}
