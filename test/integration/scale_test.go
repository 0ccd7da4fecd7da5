package integration

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/mentis/mentis/internal/domain/scale"
)

func TestScaleCatalogCRUD(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("scale")
	createTenantSchema(t, ctx, tenantID)
	defer dropTenantSchema(t, ctx, tenantID)

	t.Run("Create", func(t *testing.T) {
		var created *scale.Scale
		err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			svc := scale.NewService(scale.NewScaleRepoPG(globalDB.Pool))
			sc := testScaleDefinition("Sleep Difficulty Screen", "SDS-3")
			sc.Authors = []string{"Test Author"}
			sc.PublicationYear = ptrInt(2019)
			if err := svc.CreateScale(ctx, sc); err != nil {
				return err
			}
			created = sc
			return nil
		})
		if err != nil {
			t.Fatalf("Create scale: %v", err)
		}
		if created.ID == uuid.Nil {
			t.Fatal("expected non-nil ID")
		}
		if !created.Active {
			t.Error("expected new scale to be active")
		}
	})

	t.Run("Create_InvalidDefinition", func(t *testing.T) {
		err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			svc := scale.NewService(scale.NewScaleRepoPG(globalDB.Pool))
			sc := testScaleDefinition("Broken Screen", "BRK-1")
			sc.Items = nil
			return svc.CreateScale(ctx, sc)
		})
		if err == nil {
			t.Fatal("expected validation error for scale without items")
		}
	})

	t.Run("Create_DuplicateAbbreviation", func(t *testing.T) {
		createTestScale(t, ctx, globalDB.Pool, tenantID, "Original", "DUP-1")
		err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			svc := scale.NewService(scale.NewScaleRepoPG(globalDB.Pool))
			// Same abbreviation in different case must hit the unique index.
			return svc.CreateScale(ctx, testScaleDefinition("Copy", "dup-1"))
		})
		if err == nil {
			t.Fatal("expected unique violation for duplicate abbreviation")
		}
	})

	t.Run("GetByID", func(t *testing.T) {
		created := createTestScale(t, ctx, globalDB.Pool, tenantID, "Get Screen", "GET-3")

		var fetched *scale.Scale
		err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			svc := scale.NewService(scale.NewScaleRepoPG(globalDB.Pool))
			var err error
			fetched, err = svc.GetScale(ctx, created.ID)
			return err
		})
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if fetched.Name != "Get Screen" {
			t.Errorf("expected Name=Get Screen, got %s", fetched.Name)
		}
		if len(fetched.Items) != 3 {
			t.Fatalf("expected 3 items after round-trip, got %d", len(fetched.Items))
		}
		if fetched.Items[0].ResponseType != scale.ResponseLikert {
			t.Errorf("expected likert item, got %s", fetched.Items[0].ResponseType)
		}
		if len(fetched.Items[0].Options) != 3 {
			t.Errorf("expected 3 options on item 1, got %d", len(fetched.Items[0].Options))
		}
		if len(fetched.Rules) != 3 {
			t.Errorf("expected 3 interpretation rules, got %d", len(fetched.Rules))
		}
	})

	t.Run("GetByAbbreviation_CaseInsensitive", func(t *testing.T) {
		created := createTestScale(t, ctx, globalDB.Pool, tenantID, "Abbrev Screen", "ABR-3")

		var fetched *scale.Scale
		err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			svc := scale.NewService(scale.NewScaleRepoPG(globalDB.Pool))
			var err error
			fetched, err = svc.GetScaleByAbbreviation(ctx, "abr-3")
			return err
		})
		if err != nil {
			t.Fatalf("GetByAbbreviation: %v", err)
		}
		if fetched.ID != created.ID {
			t.Errorf("expected ID=%s, got %s", created.ID, fetched.ID)
		}
	})

	t.Run("Update", func(t *testing.T) {
		created := createTestScale(t, ctx, globalDB.Pool, tenantID, "Update Screen", "UPD-3")

		err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			svc := scale.NewService(scale.NewScaleRepoPG(globalDB.Pool))
			created.Name = "Updated Screen"
			created.Description = ptrStr("Revised wording")
			created.Version = ptrStr("2.0")
			return svc.UpdateScale(ctx, created)
		})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}

		var fetched *scale.Scale
		err = withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			svc := scale.NewService(scale.NewScaleRepoPG(globalDB.Pool))
			var err error
			fetched, err = svc.GetScale(ctx, created.ID)
			return err
		})
		if err != nil {
			t.Fatalf("GetByID after update: %v", err)
		}
		if fetched.Name != "Updated Screen" {
			t.Errorf("expected Name=Updated Screen, got %s", fetched.Name)
		}
		if fetched.Version == nil || *fetched.Version != "2.0" {
			t.Errorf("expected Version=2.0, got %v", fetched.Version)
		}
		if !fetched.UpdatedAt.After(fetched.CreatedAt) {
			t.Error("expected updated_at to advance past created_at")
		}
	})

	t.Run("Update_InvalidDefinition", func(t *testing.T) {
		created := createTestScale(t, ctx, globalDB.Pool, tenantID, "Guarded Screen", "GRD-3")

		err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			svc := scale.NewService(scale.NewScaleRepoPG(globalDB.Pool))
			broken := *created
			broken.MinScore = 10
			broken.MaxScore = 5
			return svc.UpdateScale(ctx, &broken)
		})
		if err == nil {
			t.Fatal("expected validation error for inverted score range")
		}

		// The stored definition must be untouched.
		var fetched *scale.Scale
		err = withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			svc := scale.NewService(scale.NewScaleRepoPG(globalDB.Pool))
			var err error
			fetched, err = svc.GetScale(ctx, created.ID)
			return err
		})
		if err != nil {
			t.Fatalf("GetByID after rejected update: %v", err)
		}
		if fetched.MaxScore != 6 {
			t.Errorf("expected MaxScore=6, got %g", fetched.MaxScore)
		}
	})

	t.Run("Deactivate", func(t *testing.T) {
		created := createTestScale(t, ctx, globalDB.Pool, tenantID, "Retire Screen", "RET-3")

		err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			svc := scale.NewService(scale.NewScaleRepoPG(globalDB.Pool))
			return svc.DeactivateScale(ctx, created.ID)
		})
		if err != nil {
			t.Fatalf("Deactivate: %v", err)
		}

		var fetched *scale.Scale
		err = withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			svc := scale.NewService(scale.NewScaleRepoPG(globalDB.Pool))
			var err error
			fetched, err = svc.GetScale(ctx, created.ID)
			return err
		})
		if err != nil {
			t.Fatalf("GetByID after deactivate: %v", err)
		}
		if fetched.Active {
			t.Error("expected scale to be inactive after deactivation")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		created := createTestScale(t, ctx, globalDB.Pool, tenantID, "Delete Screen", "DEL-3")

		err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			svc := scale.NewService(scale.NewScaleRepoPG(globalDB.Pool))
			return svc.DeleteScale(ctx, created.ID)
		})
		if err != nil {
			t.Fatalf("Delete: %v", err)
		}

		err = withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			svc := scale.NewService(scale.NewScaleRepoPG(globalDB.Pool))
			_, err := svc.GetScale(ctx, created.ID)
			return err
		})
		if err == nil {
			t.Fatal("expected error getting deleted scale")
		}
	})
}

func TestScaleSearch(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("scalesearch")
	createTenantSchema(t, ctx, tenantID)
	defer dropTenantSchema(t, ctx, tenantID)

	seed := func(name, abbreviation, category string) *scale.Scale {
		sc := testScaleDefinition(name, abbreviation)
		sc.Category = ptrStr(category)
		err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			svc := scale.NewService(scale.NewScaleRepoPG(globalDB.Pool))
			return svc.CreateScale(ctx, sc)
		})
		if err != nil {
			t.Fatalf("seed scale %s: %v", abbreviation, err)
		}
		return sc
	}

	seed("Geriatric Depression Screen", "GDS-T", "depression")
	seed("Alcohol Use Screen", "AUD-T", "substance_use")
	retired := seed("Legacy Anxiety Screen", "LGX-T", "anxiety")

	err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
		svc := scale.NewService(scale.NewScaleRepoPG(globalDB.Pool))
		return svc.DeactivateScale(ctx, retired.ID)
	})
	if err != nil {
		t.Fatalf("retire seed scale: %v", err)
	}

	search := func(params map[string]string) ([]*scale.Scale, int) {
		var results []*scale.Scale
		var total int
		err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			svc := scale.NewService(scale.NewScaleRepoPG(globalDB.Pool))
			var err error
			results, total, err = svc.SearchScales(ctx, params, 100, 0)
			return err
		})
		if err != nil {
			t.Fatalf("search %v: %v", params, err)
		}
		return results, total
	}

	t.Run("ByName_Prefix", func(t *testing.T) {
		results, total := search(map[string]string{"name": "geriatric"})
		if total != 1 {
			t.Fatalf("expected 1 result for name=geriatric, got %d", total)
		}
		if results[0].Abbreviation != "GDS-T" {
			t.Errorf("expected GDS-T, got %s", results[0].Abbreviation)
		}
	})

	t.Run("ByName_Contains", func(t *testing.T) {
		_, total := search(map[string]string{"name:contains": "screen"})
		if total != 3 {
			t.Errorf("expected 3 results for name:contains=screen, got %d", total)
		}
	})

	t.Run("ByCategory", func(t *testing.T) {
		results, total := search(map[string]string{"category": "substance_use"})
		if total != 1 {
			t.Fatalf("expected 1 result for category=substance_use, got %d", total)
		}
		if results[0].Abbreviation != "AUD-T" {
			t.Errorf("expected AUD-T, got %s", results[0].Abbreviation)
		}
	})

	t.Run("ByActive", func(t *testing.T) {
		results, total := search(map[string]string{"active": "false"})
		if total != 1 {
			t.Fatalf("expected 1 inactive scale, got %d", total)
		}
		if results[0].Abbreviation != "LGX-T" {
			t.Errorf("expected LGX-T, got %s", results[0].Abbreviation)
		}
	})

	t.Run("List_OrderedByAbbreviation", func(t *testing.T) {
		var results []*scale.Scale
		var total int
		err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			svc := scale.NewService(scale.NewScaleRepoPG(globalDB.Pool))
			var err error
			results, total, err = svc.ListScales(ctx, 100, 0)
			return err
		})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if total != 3 {
			t.Fatalf("expected 3 scales, got %d", total)
		}
		for i := 1; i < len(results); i++ {
			if results[i-1].Abbreviation > results[i].Abbreviation {
				t.Errorf("expected ordering by abbreviation, got %s before %s",
					results[i-1].Abbreviation, results[i].Abbreviation)
			}
		}
	})
}

func TestScaleImportUpsert(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("import")
	createTenantSchema(t, ctx, tenantID)
	defer dropTenantSchema(t, ctx, tenantID)

	var firstID uuid.UUID
	err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
		svc := scale.NewService(scale.NewScaleRepoPG(globalDB.Pool))
		sc := testScaleDefinition("Imported Screen", "IMP-3")
		created, err := svc.ImportScale(ctx, sc)
		if err != nil {
			return err
		}
		if !created {
			t.Error("expected first import to create")
		}
		firstID = sc.ID
		return nil
	})
	if err != nil {
		t.Fatalf("first import: %v", err)
	}

	// A second import with the same abbreviation, differing only in case and
	// content, must update the existing row in place.
	err = withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
		svc := scale.NewService(scale.NewScaleRepoPG(globalDB.Pool))
		sc := testScaleDefinition("Imported Screen v2", "imp-3")
		created, err := svc.ImportScale(ctx, sc)
		if err != nil {
			return err
		}
		if created {
			t.Error("expected second import to update, not create")
		}
		if sc.ID != firstID {
			t.Errorf("expected import to keep ID %s, got %s", firstID, sc.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("second import: %v", err)
	}

	var results []*scale.Scale
	var total int
	err = withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
		svc := scale.NewService(scale.NewScaleRepoPG(globalDB.Pool))
		var err error
		results, total, err = svc.ListScales(ctx, 100, 0)
		return err
	})
	if err != nil {
		t.Fatalf("List after imports: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected 1 scale after re-import, got %d", total)
	}
	if results[0].Name != "Imported Screen v2" {
		t.Errorf("expected updated name, got %s", results[0].Name)
	}
}

// TestScoreStoredScale exercises scoring against a definition that has been
// through the JSONB round-trip, including subscales and a reverse-scored item.
func TestScoreStoredScale(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("scoring")
	createTenantSchema(t, ctx, tenantID)
	defer dropTenantSchema(t, ctx, tenantID)

	options := []scale.ResponseOption{
		{Value: "0", Label: "Not at all", Score: 0},
		{Value: "1", Label: "Somewhat", Score: 1},
		{Value: "2", Label: "A lot", Score: 2},
	}
	sc := &scale.Scale{
		Name:         "Mood and Somatic Screen",
		Abbreviation: "MSS-4",
		Items: []scale.Item{
			{Number: 1, Prompt: "Headaches or muscle tension", ResponseType: scale.ResponseLikert, Options: options, Subscale: "somatic"},
			{Number: 2, Prompt: "Fatigue", ResponseType: scale.ResponseLikert, Options: options, Subscale: "somatic"},
			{Number: 3, Prompt: "Feeling down", ResponseType: scale.ResponseLikert, Options: options, Subscale: "mood"},
			{Number: 4, Prompt: "Feeling hopeful", ResponseType: scale.ResponseLikert, Options: options, ReverseScored: true, Subscale: "mood"},
		},
		MinScore: 0,
		MaxScore: 8,
		Subscales: []scale.Subscale{
			{ID: "somatic", Name: "Somatic", Items: []int{1, 2}, MinScore: 0, MaxScore: 4,
				Rules: []scale.InterpretationRule{
					{ID: "som_low", Label: "Low somatic load", MinScore: 0, MaxScore: 1},
					{ID: "som_elevated", Label: "Elevated somatic load", MinScore: 2, MaxScore: 4, Severity: scale.SeverityModerate},
				}},
			{ID: "mood", Name: "Mood", Items: []int{3, 4}, MinScore: 0, MaxScore: 4},
		},
		Rules: []scale.InterpretationRule{
			{ID: "mss_min", Label: "Minimal", MinScore: 0, MaxScore: 4, Severity: scale.SeverityMinimal},
			{ID: "mss_mod", Label: "Moderate", MinScore: 5, MaxScore: 8, Severity: scale.SeverityModerate},
		},
	}

	err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
		svc := scale.NewService(scale.NewScaleRepoPG(globalDB.Pool))
		return svc.CreateScale(ctx, sc)
	})
	if err != nil {
		t.Fatalf("create scale: %v", err)
	}

	// Item 4 reversed: raw 0 scores 2. Total = 1 + 2 + 0 + 2 = 5.
	var summary *scale.ScoreSummary
	err = withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
		svc := scale.NewService(scale.NewScaleRepoPG(globalDB.Pool))
		var err error
		summary, err = svc.Score(ctx, sc.ID, map[int]interface{}{1: 1, 2: 2, 3: 0, 4: 0})
		return err
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	if summary.TotalScore != 5 {
		t.Errorf("expected TotalScore=5, got %g", summary.TotalScore)
	}
	if summary.ValidResponses != 4 {
		t.Errorf("expected ValidResponses=4, got %d", summary.ValidResponses)
	}
	if summary.CompletionPercentage != 100 {
		t.Errorf("expected CompletionPercentage=100, got %d", summary.CompletionPercentage)
	}
	if got := summary.SubscaleScores["somatic"]; got != 3 {
		t.Errorf("expected somatic=3, got %g", got)
	}
	if got := summary.SubscaleScores["mood"]; got != 2 {
		t.Errorf("expected mood=2, got %g", got)
	}
	if summary.Interpretation == nil || summary.Interpretation.ID != "mss_mod" {
		t.Errorf("expected interpretation mss_mod, got %+v", summary.Interpretation)
	}
	if rule := summary.SubscaleInterpretations["somatic"]; rule == nil || rule.ID != "som_elevated" {
		t.Errorf("expected somatic interpretation som_elevated, got %+v", rule)
	}
}
