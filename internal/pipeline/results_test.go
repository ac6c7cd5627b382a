package pipeline

import (
	"errors"
	"testing"
)

func TestResults_TypedAccessors(t *testing.T) {
	r := NewResults()
	if _, ok := r.Draft(); ok {
		t.Fatal("empty results should have no draft")
	}

	r.Append(SlotKeywords, AgentResult{Success: true, Data: KeywordData{Selected: []string{"동구 체육관"}}})
	r.Append(SlotWriter, AgentResult{Success: true, Data: DraftData{Content: "초안", Meta: "요약"}})
	r.Append(SlotTitle, AgentResult{Success: true, Data: TitleData{Title: "제목"}})

	kd, ok := r.Keywords()
	if !ok || kd.Selected[0] != "동구 체육관" {
		t.Errorf("Keywords() = %+v, %v", kd, ok)
	}
	d, ok := r.Draft()
	if !ok || d.Content != "초안" {
		t.Errorf("Draft() = %+v, %v", d, ok)
	}
	if _, ok := r.Compliance(); ok {
		t.Error("no compliance result recorded yet")
	}
}

func TestResults_FailedEntriesAreIgnored(t *testing.T) {
	r := NewResults()
	r.Append(SlotWriter, AgentResult{Success: true, Data: DraftData{Content: "v1"}})
	r.Append(SlotWriter, Failed("writer", errors.New("model down")))

	d, ok := r.Draft()
	if !ok || d.Content != "v1" {
		t.Errorf("Draft() = %+v, %v; want last successful v1", d, ok)
	}
	latest, ok := r.Latest(SlotWriter)
	if !ok || latest.Success || latest.Error != "model down" {
		t.Errorf("Latest() = %+v", latest)
	}
}

func TestResults_SnapshotIsStable(t *testing.T) {
	r := NewResults()
	r.Append(SlotWriter, AgentResult{Success: true, Data: DraftData{Content: "v1"}})
	snap := r.Snapshot()

	r.Append(SlotCompliance, AgentResult{Success: true, Data: ComplianceData{Article: Article{Content: "v2"}}})

	if got := snap.Article().Content; got != "v1" {
		t.Errorf("snapshot content = %q, want v1", got)
	}
	if got := r.Article().Content; got != "v2" {
		t.Errorf("live content = %q, want v2", got)
	}
	if len(snap.Entries()) != 1 {
		t.Errorf("snapshot has %d entries, want 1", len(snap.Entries()))
	}
}

func TestResults_ArticlePriority(t *testing.T) {
	r := NewResults()
	r.Append(SlotWriter, AgentResult{Success: true, Data: DraftData{Content: "draft", Meta: "draft meta"}})
	r.Append(SlotTitle, AgentResult{Success: true, Data: TitleData{Title: "draft title"}})
	r.Append(SlotCompliance, AgentResult{Success: true, Data: ComplianceData{Article: Article{Content: "fixed", Title: "fixed title"}}})

	a := r.Article()
	if a.Content != "fixed" || a.Title != "fixed title" || a.Meta != "draft meta" {
		t.Errorf("Article() after compliance = %+v", a)
	}

	r.Append(SlotSEO, AgentResult{Success: true, Data: SEOData{Article: Article{Content: "seo", Title: "fixed title", Meta: "seo meta"}}})
	a = r.Article()
	if a.Content != "seo" || a.Meta != "seo meta" {
		t.Errorf("Article() after seo = %+v", a)
	}
}

func TestContext_KeywordsFallback(t *testing.T) {
	r := NewResults()
	r.Append(SlotKeywords, AgentResult{Success: true, Data: KeywordData{Selected: []string{"a", "b"}}})
	pc := &Context{Previous: r.Snapshot()}
	if got := pc.PrimaryKeyword(); got != "a" {
		t.Errorf("PrimaryKeyword() = %q, want a", got)
	}

	pc.RequiredKeywords = []string{"x"}
	if got := pc.PrimaryKeyword(); got != "x" {
		t.Errorf("PrimaryKeyword() = %q, want caller keyword x", got)
	}

	empty := &Context{}
	if got := empty.PrimaryKeyword(); got != "" {
		t.Errorf("PrimaryKeyword() on empty = %q", got)
	}
}

func TestContext_Missing(t *testing.T) {
	pc := &Context{Topic: "체육관", Profile: UserProfile{Name: "홍길동"}}
	got := pc.Missing([]string{"topic", "profile.name", "profile.region", "draft", "unknown"})
	if len(got) != 2 || got[0] != "profile.region" || got[1] != "draft" {
		t.Errorf("Missing() = %v", got)
	}
}

func TestCountChars(t *testing.T) {
	if got := CountChars("동구 체육관\n\t건립 "); got != 7 {
		t.Errorf("CountChars = %d, want 7", got)
	}
}

func TestSeverityRank(t *testing.T) {
	order := []Severity{SeverityWarning, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("%s should outrank %s", order[i], order[i-1])
		}
	}
}

func TestUserProfileStageDefault(t *testing.T) {
	if got := (UserProfile{}).Stage(); got != StagePreRegistration {
		t.Errorf("default stage = %s", got)
	}
	if !IsValidCampaignStage("registered_candidate") || IsValidCampaignStage("mayor") {
		t.Error("IsValidCampaignStage mismatch")
	}
}
