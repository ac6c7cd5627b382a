package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRender_SimpleVars(t *testing.T) {
	result, err := Render("{{author_name}}의 글: {{topic}}", Vars{
		"author_name": "홍길동",
		"topic":       "체육관 건립",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "홍길동의 글: 체육관 건립" {
		t.Errorf("got %q", result)
	}
}

func TestRender_MissingVarsSorted(t *testing.T) {
	_, err := Render("{{c}} {{a}} {{b}} {{a}}", Vars{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "a, b, c") {
		t.Errorf("error should list missing vars once, sorted: %v", err)
	}
}

func TestRender_Conditionals(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		vars Vars
		want string
	}{
		{"present", "A{{#if x}}[{{x}}]{{/if}}B", Vars{"x": "1"}, "A[1]B"},
		{"absent", "A{{#if x}}[{{x}}]{{/if}}B", Vars{}, "AB"},
		{"empty", "A{{#if x}}[{{x}}]{{/if}}B", Vars{"x": ""}, "AB"},
		{"nested", "{{#if a}}outer {{#if b}}inner{{/if}} end{{/if}}", Vars{"a": "y", "b": "y"}, "outer inner end"},
		{"nested outer absent", "S{{#if a}}outer {{#if b}}inner{{/if}} end{{/if}}F", Vars{"b": "y"}, "SF"},
		{"trailing space in tag", "{{#if x }}content{{/if}}", Vars{"x": "y"}, "content"},
		{"absent block hides missing var", "S{{#if x}}{{y}}{{/if}}F", Vars{}, "SF"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.tmpl, tt.vars)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRender_ValuesAreLiteral(t *testing.T) {
	got, err := Render("{{a}} / {{#if n}}{{n}}{{/if}}", Vars{"a": "{{b}}", "n": "use {{/if}} here"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "{{b}} / use {{/if}} here" {
		t.Errorf("got %q", got)
	}
}

func TestRender_Malformed(t *testing.T) {
	if _, err := Render("x{{/if}}", Vars{}); err == nil || !strings.Contains(err.Error(), "dangling") {
		t.Errorf("expected dangling error, got %v", err)
	}
	if _, err := Render("{{#if x}}never closed", Vars{"x": "y"}); err == nil || !strings.Contains(err.Error(), "unclosed") {
		t.Errorf("expected unclosed error, got %v", err)
	}
}

func writerVars() Vars {
	return Vars{
		"topic":          "동구 체육관 건립",
		"author_name":    "홍길동",
		"region":         "대전 동구",
		"campaign_stage": "예비 등록 전",
		"keywords":       "동구 체육관, 생활체육",
		"keyword_min":    "3",
		"keyword_max":    "4",
		"min_chars":      "1800",
		"max_chars":      "3000",
		"paragraph_min":  "5",
		"paragraph_max":  "10",
		"meta_min":       "40",
		"meta_max":       "160",
	}
}

func TestBuiltinTemplatesRender(t *testing.T) {
	l := Loader{}
	out, err := l.Render(WriterTemplate, writerVars())
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	if !strings.Contains(out, "동구 체육관, 생활체육") || strings.Contains(out, "참고 자료") {
		t.Errorf("unexpected writer prompt:\n%s", out)
	}

	_, err = l.Render(RewriteTemplate, Vars{
		"attempt": "1", "keywords": "동구 체육관", "title": "제목", "content": "본문",
		"legal": "- 금품 제공 문장 삭제",
	})
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	_, err = l.Render(TitleTemplate, Vars{
		"topic": "t", "author_name": "a", "region": "r", "title_min": "18", "title_max": "25",
		"primary_keyword": "동구 체육관", "excerpt": "요약",
	})
	if err != nil {
		t.Fatalf("title: %v", err)
	}

	v := writerVars()
	v["draft"] = "초안"
	if _, err := l.Render(ReviewTemplate, v); err != nil {
		t.Fatalf("review: %v", err)
	}
}

func TestLoader_Override(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, TitleTemplate), []byte("custom {{topic}}"), 0o644); err != nil {
		t.Fatal(err)
	}
	l := Loader{Dir: dir}
	got, err := l.Load(TitleTemplate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "custom {{topic}}" {
		t.Errorf("expected override, got %q", got)
	}
	got, err = l.Load(WriterTemplate)
	if err != nil || got != writerTemplate {
		t.Errorf("expected builtin fallback for writer, err=%v", err)
	}
}

func TestLoader_RejectsPaths(t *testing.T) {
	l := Loader{Dir: t.TempDir()}
	for _, name := range []string{"../secret.txt", "/etc/passwd", "", "..", "sub/x.md"} {
		if _, err := l.Load(name); err == nil {
			t.Errorf("Load(%q) should fail", name)
		}
	}
	if _, err := l.Load("missing.md"); err == nil {
		t.Error("expected not found error")
	}
}

func TestInstall(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "templates")
	written, err := Install(dir)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if len(written) != len(Names()) {
		t.Errorf("wrote %d templates, want %d", len(written), len(Names()))
	}

	custom := filepath.Join(dir, WriterTemplate)
	if err := os.WriteFile(custom, []byte("mine"), 0o644); err != nil {
		t.Fatal(err)
	}
	written, err = Install(dir)
	if err != nil {
		t.Fatalf("second Install: %v", err)
	}
	if len(written) != 0 {
		t.Errorf("second install should not overwrite, wrote %v", written)
	}
	data, _ := os.ReadFile(custom)
	if string(data) != "mine" {
		t.Error("existing template was overwritten")
	}
}
