package registry

import (
	"errors"
	"testing"

	"github.com/isWangjianhua/GenPulse/pkg/provider"
)

func TestBuiltinNames(t *testing.T) {
	f := NewFactory(nil, 0)
	want := []provider.Name{"dashscope", "kling", "minimax", "mock", "tencent", "volcengine"}
	got := f.Names()
	if len(got) != len(want) {
		t.Fatalf("expected %d providers, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("names[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestMissingCredentialsFailConstruction(t *testing.T) {
	f := NewFactory(nil, 0)
	for _, name := range []provider.Name{"kling", "minimax", "volcengine", "dashscope", "tencent"} {
		if _, err := f.Get(name); err == nil {
			t.Errorf("%s: expected error without credentials", name)
		}
	}
	if _, err := f.Get("mock"); err != nil {
		t.Errorf("mock should build without config: %v", err)
	}
	if _, err := f.Get("nope"); !errors.Is(err, provider.ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestConfiguredProviderBuilds(t *testing.T) {
	settings, err := provider.ParseSettings([]byte(`
providers:
  kling:
    api_key: ak
    secret_key: sk
    rate_limit: 2
`))
	if err != nil {
		t.Fatal(err)
	}
	f := NewFactory(settings, 4)
	a, err := f.Get("kling")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if a.Name() != "kling" {
		t.Errorf("unexpected adapter %s", a.Name())
	}
	if f.RateFor("kling") != 2 {
		t.Errorf("expected configured rate 2, got %v", f.RateFor("kling"))
	}
}
