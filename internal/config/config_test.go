package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cutline/internal/domain"
	"cutline/internal/engine"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Timeline.FrameRate != 30 || cfg.History.Limit != 100 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.JournalEnabled() {
		t.Fatalf("journal should default to enabled")
	}
	sc := cfg.Session()
	if sc.OverlapPolicy != engine.OverlapCascade {
		t.Fatalf("expected cascade, got %s", sc.OverlapPolicy)
	}
	if sc.Directives.TextTrack != "Text Overlays" || sc.Directives.CanvasWidth != 1920 {
		t.Fatalf("unexpected directive settings %+v", sc.Directives)
	}
	if sc.Handlers != nil {
		t.Fatalf("no handler overrides expected")
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
timeline:
  frame_rate: 25
  overlap_policy: shallow
directives:
  disabled: [apply_effect]
rbac:
  roles:
    director:
      methods: ["*"]
webhooks:
  - url: http://127.0.0.1:9/hook
    events: [edit.add_media]
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Timeline.FrameRate != 25 {
		t.Fatalf("frame rate not applied")
	}
	if cfg.History.Limit != 100 {
		t.Fatalf("unset sections should keep defaults")
	}
	sc := cfg.Session()
	if sc.OverlapPolicy != engine.OverlapShallow {
		t.Fatalf("expected shallow policy")
	}
	if h, ok := sc.Handlers[domain.DirectiveApplyEffect]; !ok || h != nil {
		t.Fatalf("apply_effect should be disabled")
	}
	if cfg.Policy().Open() {
		t.Fatalf("policy should not be open with roles configured")
	}
	if len(cfg.Webhooks) != 1 {
		t.Fatalf("expected one webhook")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"frame rate":  "timeline:\n  frame_rate: 0\n",
		"policy":      "timeline:\n  overlap_policy: sideways\n",
		"history":     "history:\n  limit: -1\n",
		"track name":  "directives:\n  text_track: \"\"\n",
		"disabled":    "directives:\n  disabled: [explode]\n",
		"log level":   "logging:\n  level: loud\n",
		"base path":   "server:\n  base_path: v0\n",
		"webhook url": "webhooks:\n  - events: [x]\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if _, err := FromYAML([]byte("timeline: [")); err == nil || !strings.Contains(err.Error(), "invalid config yaml") {
		t.Fatalf("expected yaml error, got %v", err)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("missing file should yield defaults: %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatalf("Load should fail without a file")
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(dir); err != nil {
		t.Fatalf("load generated default: %v", err)
	}
}

func TestYAMLRoundTripIsValid(t *testing.T) {
	data, err := Default().YAML()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := FromYAML(data); err != nil {
		t.Fatalf("rendered config does not load: %v", err)
	}
}
