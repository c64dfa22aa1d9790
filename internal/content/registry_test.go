package content_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cantondev/canton-mcp-server/internal/content"
)

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testContentDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "resources", "patterns.md"), "# Authorization Patterns")
	writeFile(t, filepath.Join(dir, "resources", "transfer.daml"), "template AssetTransfer")
	writeFile(t, filepath.Join(dir, "prompts", "review.json"), `{
		"name": "review_daml",
		"description": "Review DAML code",
		"arguments": [
			{"name": "code", "description": "code to review", "required": true},
			{"name": "focus", "description": "optional focus area"}
		],
		"template": "Review this DAML code for {{focus}}:\n{{code}}"
	}`)
	return dir
}

func TestLoadCatalogues(t *testing.T) {
	reg, err := content.NewRegistry(testContentDir(t), zap.NewNop())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	resources := reg.Resources()
	if len(resources) != 2 {
		t.Fatalf("resources = %+v", resources)
	}
	// Sorted by URI.
	if resources[0].URI != "canton://docs/patterns.md" || resources[1].URI != "canton://docs/transfer.daml" {
		t.Errorf("order = [%s, %s]", resources[0].URI, resources[1].URI)
	}
	if resources[0].MimeType != "text/markdown" || resources[1].MimeType != "text/x-daml" {
		t.Errorf("mime types = [%s, %s]", resources[0].MimeType, resources[1].MimeType)
	}

	res, err := reg.ReadResource("canton://docs/patterns.md")
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if res.Text != "# Authorization Patterns" {
		t.Errorf("text = %q", res.Text)
	}

	if _, err := reg.ReadResource("canton://docs/nope.md"); err == nil {
		t.Error("missing resource read succeeded")
	}

	prompts := reg.Prompts()
	if len(prompts) != 1 || prompts[0].Name != "review_daml" {
		t.Fatalf("prompts = %+v", prompts)
	}
	if len(prompts[0].Arguments) != 2 || !prompts[0].Arguments[0].Required {
		t.Errorf("arguments = %+v", prompts[0].Arguments)
	}
}

func TestMissingDirYieldsEmptyCatalogues(t *testing.T) {
	reg, err := content.NewRegistry(filepath.Join(t.TempDir(), "absent"), zap.NewNop())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if len(reg.Resources()) != 0 || len(reg.Prompts()) != 0 {
		t.Errorf("catalogues not empty: %d resources, %d prompts", len(reg.Resources()), len(reg.Prompts()))
	}
}

func TestRenderPrompt(t *testing.T) {
	reg, err := content.NewRegistry(testContentDir(t), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	_, text, err := reg.RenderPrompt("review_daml", map[string]string{
		"code":  "template Foo",
		"focus": "authorization",
	})
	if err != nil {
		t.Fatalf("RenderPrompt: %v", err)
	}
	if !strings.Contains(text, "for authorization:") || !strings.Contains(text, "template Foo") {
		t.Errorf("rendered = %q", text)
	}

	// Optional argument may be omitted; its marker stays untouched.
	_, text, err = reg.RenderPrompt("review_daml", map[string]string{"code": "x"})
	if err != nil {
		t.Fatalf("optional omitted: %v", err)
	}
	if !strings.Contains(text, "{{focus}}") {
		t.Errorf("rendered = %q", text)
	}

	// Required argument missing is an error.
	if _, _, err := reg.RenderPrompt("review_daml", nil); err == nil {
		t.Error("missing required argument accepted")
	}

	if _, _, err := reg.RenderPrompt("ghost", nil); err == nil {
		t.Error("unknown prompt rendered")
	}
}

func TestReloadPicksUpNewContent(t *testing.T) {
	dir := testContentDir(t)
	reg, err := content.NewRegistry(dir, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, filepath.Join(dir, "resources", "new.md"), "# New")
	if err := reg.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if len(reg.Resources()) != 3 {
		t.Errorf("resources after reload = %d, want 3", len(reg.Resources()))
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := testContentDir(t)
	reg, err := content.NewRegistry(dir, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	defer close(done)
	if err := reg.Watch(done); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writeFile(t, filepath.Join(dir, "resources", "live.md"), "# Live")

	deadline := time.Now().Add(3 * time.Second)
	for {
		if len(reg.Resources()) == 3 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("watcher never reloaded; resources = %d", len(reg.Resources()))
		}
		time.Sleep(25 * time.Millisecond)
	}
}
