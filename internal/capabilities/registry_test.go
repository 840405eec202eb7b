package capabilities

import (
	"testing"

	"stagehand/internal/domain/models"
)

func TestNewRegistryLoadsAllProviders(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}

	providers := r.GetAllProviders()
	if len(providers) != 4 {
		t.Fatalf("got %d providers, want 4: %v", len(providers), providers)
	}

	want := []string{
		models.ProviderAnthropic,
		models.ProviderGemini,
		models.ProviderOpenAICompat,
		models.ProviderLorem,
	}
	for _, name := range want {
		if _, err := r.ListProviderModels(name); err != nil {
			t.Errorf("ListProviderModels(%q) error: %v", name, err)
		}
	}
}

func TestListProviderModelsPreservesOrder(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}

	loremModels, err := r.ListProviderModels(models.ProviderLorem)
	if err != nil {
		t.Fatalf("ListProviderModels error: %v", err)
	}

	wantOrder := []string{"lorem-fast", "lorem-medium", "lorem-slow", "lorem-fail"}
	if len(loremModels) != len(wantOrder) {
		t.Fatalf("got %d lorem models, want %d", len(loremModels), len(wantOrder))
	}
	for i, id := range wantOrder {
		if loremModels[i].ID != id {
			t.Errorf("model[%d].ID = %q, want %q", i, loremModels[i].ID, id)
		}
	}
}

func TestGetModelCapabilities(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}

	caps, err := r.GetModelCapabilities(models.ProviderGemini, "gemini-2.5-flash")
	if err != nil {
		t.Fatalf("GetModelCapabilities error: %v", err)
	}
	if caps.Streaming != StreamingModeSingleShot {
		t.Errorf("gemini streaming = %q, want %q", caps.Streaming, StreamingModeSingleShot)
	}
	if !caps.EnforcesJSONMode {
		t.Error("gemini-2.5-flash should enforce JSON mode")
	}
	if caps.DisplayName == "" {
		t.Error("display name should not be empty")
	}

	if _, err := r.GetModelCapabilities(models.ProviderLorem, "no-such-model"); err == nil {
		t.Error("unknown model should return an error")
	}
	if _, err := r.GetModelCapabilities("no-such-provider", "lorem-fast"); err == nil {
		t.Error("unknown provider should return an error")
	}
}
