package pipeline

// Logical slot names. Downstream stages only ever look results up by slot,
// never by the implementation that produced them.
const (
	SlotKeywords   = "keywords"
	SlotWriter     = "writer"
	SlotTitle      = "title"
	SlotCompliance = "compliance"
	SlotSEO        = "seo"
)

// KnownSlots lists every slot a pipeline definition may use, in canonical order.
var KnownSlots = []string{SlotKeywords, SlotWriter, SlotTitle, SlotCompliance, SlotSEO}

// IsKnownSlot reports whether s is a recognised slot name.
func IsKnownSlot(s string) bool {
	for _, k := range KnownSlots {
		if k == s {
			return true
		}
	}
	return false
}

// ResultMetadata is attached to every AgentResult.
type ResultMetadata struct {
	Stage      string `json:"stage"`
	DurationMs int64  `json:"duration_ms"`
	Skipped    bool   `json:"skipped,omitempty"`
}

// StageData is the typed payload of an AgentResult. Only the data types in
// this package implement it.
type StageData interface {
	stageData()
}

// AgentResult is what every stage returns.
type AgentResult struct {
	Success  bool           `json:"success"`
	Data     StageData      `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata ResultMetadata `json:"metadata"`
}

// Failed builds an unsuccessful AgentResult.
func Failed(stage string, err error) AgentResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return AgentResult{Success: false, Error: msg, Metadata: ResultMetadata{Stage: stage}}
}

// KeywordCandidate is one ranked keyword suggestion.
type KeywordCandidate struct {
	Keyword string   `json:"keyword"`
	Score   float64  `json:"score"`
	Sources []string `json:"sources"`
}

// KeywordData is produced by the keyword extraction slot.
type KeywordData struct {
	Candidates []KeywordCandidate `json:"candidates,omitempty"`
	Selected   []string           `json:"selected"`
}

// DraftData is produced by the writer slot.
type DraftData struct {
	Content   string `json:"content"`
	Meta      string `json:"meta,omitempty"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// TitleData is produced by the title slot.
type TitleData struct {
	Title      string   `json:"title"`
	Candidates []string `json:"candidates,omitempty"`
}

// ComplianceData is produced by the compliance slot.
type ComplianceData struct {
	Article       Article        `json:"article"`
	Report        QualityReport  `json:"report"`
	Risk          string         `json:"risk"`
	RulesVersion  string         `json:"rules_version,omitempty"`
	Substitutions []Substitution `json:"substitutions,omitempty"`
}

// SEOData is produced by the SEO slot.
type SEOData struct {
	Article      Article       `json:"article"`
	Report       QualityReport `json:"report"`
	KeywordStats []KeywordStat `json:"keyword_stats,omitempty"`
	BodyChars    int           `json:"body_chars"`
}

func (KeywordData) stageData()    {}
func (DraftData) stageData()      {}
func (TitleData) stageData()      {}
func (ComplianceData) stageData() {}
func (SEOData) stageData()        {}

// Entry is one recorded stage result.
type Entry struct {
	Slot   string      `json:"slot"`
	Result AgentResult `json:"result"`
}

// Results is the append-only accumulator threaded through a run. Entries are
// never rewritten; a re-validation appends a new entry for the same slot.
type Results struct {
	entries []Entry
}

// NewResults creates an empty accumulator.
func NewResults() *Results {
	return &Results{}
}

// Append records a stage result under its logical slot.
func (r *Results) Append(slot string, res AgentResult) {
	r.entries = append(r.entries, Entry{Slot: slot, Result: res})
}

// Snapshot returns a view of the results recorded so far. Appends made to r
// afterwards are not visible through the snapshot.
func (r *Results) Snapshot() *Results {
	if r == nil {
		return NewResults()
	}
	return &Results{entries: r.entries[:len(r.entries):len(r.entries)]}
}

// Entries returns a copy of all entries in append order.
func (r *Results) Entries() []Entry {
	if r == nil {
		return nil
	}
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Latest returns the most recent result recorded for slot.
func (r *Results) Latest(slot string) (AgentResult, bool) {
	if r == nil {
		return AgentResult{}, false
	}
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].Slot == slot {
			return r.entries[i].Result, true
		}
	}
	return AgentResult{}, false
}

// latestSuccess returns the most recent successful result for slot.
func (r *Results) latestSuccess(slot string) (AgentResult, bool) {
	if r == nil {
		return AgentResult{}, false
	}
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if e.Slot == slot && e.Result.Success && e.Result.Data != nil {
			return e.Result, true
		}
	}
	return AgentResult{}, false
}

// Keywords returns the latest successful keyword data.
func (r *Results) Keywords() (KeywordData, bool) {
	res, ok := r.latestSuccess(SlotKeywords)
	if !ok {
		return KeywordData{}, false
	}
	d, ok := res.Data.(KeywordData)
	return d, ok
}

// Draft returns the latest successful writer data.
func (r *Results) Draft() (DraftData, bool) {
	res, ok := r.latestSuccess(SlotWriter)
	if !ok {
		return DraftData{}, false
	}
	d, ok := res.Data.(DraftData)
	return d, ok
}

// Title returns the latest successful title data.
func (r *Results) Title() (TitleData, bool) {
	res, ok := r.latestSuccess(SlotTitle)
	if !ok {
		return TitleData{}, false
	}
	d, ok := res.Data.(TitleData)
	return d, ok
}

// Compliance returns the latest successful compliance data.
func (r *Results) Compliance() (ComplianceData, bool) {
	res, ok := r.latestSuccess(SlotCompliance)
	if !ok {
		return ComplianceData{}, false
	}
	d, ok := res.Data.(ComplianceData)
	return d, ok
}

// SEO returns the latest successful SEO data.
func (r *Results) SEO() (SEOData, bool) {
	res, ok := r.latestSuccess(SlotSEO)
	if !ok {
		return SEOData{}, false
	}
	d, ok := res.Data.(SEOData)
	return d, ok
}

// Article resolves the current artifact, preferring the stage furthest along
// the pipeline: SEO, then Compliance, then Writer (and TitleWriter for the title).
func (r *Results) Article() Article {
	var a Article
	if d, ok := r.Draft(); ok {
		a.Content = d.Content
		a.Meta = d.Meta
	}
	if t, ok := r.Title(); ok {
		a.Title = t.Title
	}
	if c, ok := r.Compliance(); ok {
		a = overlay(a, c.Article)
	}
	if s, ok := r.SEO(); ok {
		a = overlay(a, s.Article)
	}
	return a
}

// overlay replaces fields of base with the non-empty fields of top.
func overlay(base, top Article) Article {
	if top.Content != "" {
		base.Content = top.Content
	}
	if top.Title != "" {
		base.Title = top.Title
	}
	if top.Meta != "" {
		base.Meta = top.Meta
	}
	return base
}
