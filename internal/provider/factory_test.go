package provider

import (
	"strings"
	"testing"

	"happin/internal/config"
)

func TestFactory_GetCachesProviders(t *testing.T) {
	cfg := config.Defaults()
	f := NewFactory(cfg, testLogger())

	p1, err := f.Get("groq")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	p2, _ := f.Get("")
	if p1 != p2 {
		t.Fatal("expected cached instance for the classifier default")
	}
	if p1.Name() != "groq" {
		t.Fatalf("expected groq, got %q", p1.Name())
	}
}

func TestFactory_DisabledAndUnknown(t *testing.T) {
	cfg := config.Defaults()
	f := NewFactory(cfg, testLogger())

	if _, err := f.Get("ollama"); err == nil || !strings.Contains(err.Error(), "disabled") {
		t.Fatalf("expected disabled error, got %v", err)
	}
	if _, err := f.Get("nope"); err == nil {
		t.Fatal("expected unknown provider error")
	}
}

func TestFactory_UnknownTypeTreatedAsOpenAICompatible(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["together"] = config.ProviderConfig{Enabled: true, APIBase: "https://api.together.xyz/v1", APIKey: "k"}
	f := NewFactory(cfg, testLogger())

	p, err := f.Get("together")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Name() != "together" {
		t.Fatalf("expected name together, got %q", p.Name())
	}
}

func TestFactory_ClassifierBuildsChain(t *testing.T) {
	cfg := config.Defaults()
	ollama := cfg.Providers["ollama"]
	ollama.Enabled = true
	cfg.Providers["ollama"] = ollama
	cfg.Classifier.FailoverChain = []string{"ollama", "groq"}
	f := NewFactory(cfg, testLogger())

	p, err := f.Classifier()
	if err != nil {
		t.Fatalf("Classifier: %v", err)
	}
	if p.Name() != "failover(groq→ollama)" {
		t.Fatalf("unexpected chain %q", p.Name())
	}
}

func TestFactory_ClassifierRateLimited(t *testing.T) {
	cfg := config.Defaults()
	cfg.Classifier.RequestsPerMinute = 30
	f := NewFactory(cfg, testLogger())

	p, err := f.Classifier()
	if err != nil {
		t.Fatalf("Classifier: %v", err)
	}
	if _, ok := p.(*RateLimited); !ok {
		t.Fatalf("expected rate limited provider, got %T", p)
	}
}

func TestFactory_ClassifierNoneAvailable(t *testing.T) {
	cfg := config.Defaults()
	cfg.Classifier.Provider = "ollama" // disabled by default
	f := NewFactory(cfg, testLogger())

	if _, err := f.Classifier(); err == nil {
		t.Fatal("expected error with no usable provider")
	}
}
