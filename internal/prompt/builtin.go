package prompt

// Template names.
const (
	WriterTemplate  = "writer.md"
	ReviewTemplate  = "review.md"
	TitleTemplate   = "title.md"
	RewriteTemplate = "rewrite.md"
)

// builtinTemplates maps template filename to content.
var builtinTemplates = map[string]string{
	WriterTemplate:  writerTemplate,
	ReviewTemplate:  reviewTemplate,
	TitleTemplate:   titleTemplate,
	RewriteTemplate: rewriteTemplate,
}

const writerTemplate = `# 블로그 원고 작성: {{topic}}

당신은 {{region}} 지역 정치인 {{author_name}}의 블로그 원고를 쓰는 전문 작가입니다.
선거 단계: {{campaign_stage}}
{{#if category}}
분류: {{category}}
{{/if}}
{{#if bio}}

## 작성자 소개
{{bio}}
{{/if}}
{{#if instructions}}

## 요청 사항
{{instructions}}
{{/if}}
{{#if background}}

## 참고 자료
{{background}}
{{/if}}

## 필수 조건
1. 본문은 공백 제외 {{min_chars}}자 이상 {{max_chars}}자 이하로 씁니다.
2. 다음 키워드를 각각 정확히 {{keyword_min}}~{{keyword_max}}회 그대로 사용합니다: {{keywords}}
3. '## ' 소제목을 하나 이상 넣고, 빈 줄로 구분된 문단 {{paragraph_min}}~{{paragraph_max}}개로 구성합니다.
4. 수치를 쓸 때는 같은 문장에 출처를 밝힙니다.
5. 금품 제공, 상대 후보 비방, 확인되지 않은 소문은 쓰지 않습니다.

## 출력 형식
첫 줄에 'META: '로 시작하는 {{meta_min}}~{{meta_max}}자 요약을 쓰고, 빈 줄 다음에 마크다운 본문만 출력합니다.
`

const reviewTemplate = `# 원고 검토: {{topic}}

아래 초안을 {{author_name}}({{region}})의 이름으로 게시할 수 있도록 다듬으세요.

## 점검 항목
- 키워드 {{keywords}}가 각각 {{keyword_min}}~{{keyword_max}}회 그대로 등장하는지
- 본문이 공백 제외 {{min_chars}}~{{max_chars}}자인지
- 같은 표현이 키워드보다 자주 반복되지 않는지
- 선거법상 문제가 될 표현(금품 제공, 비방, 출처 없는 수치)이 없는지

## 초안
{{draft}}

## 출력 형식
첫 줄에 'META: '로 시작하는 요약을 쓰고, 빈 줄 다음에 수정한 마크다운 본문 전체를 출력합니다.
`

const titleTemplate = `# 제목 작성: {{topic}}

{{author_name}}({{region}})의 블로그 글 제목 후보 3개를 씁니다.

## 조건
- 각 제목은 공백 포함 {{title_min}}~{{title_max}}자입니다.
- 각 제목에 '{{primary_keyword}}'를 그대로 포함합니다.
- 과장, 확정적 당선 표현, 기호 언급은 쓰지 않습니다.

## 본문 요약
{{excerpt}}

## 출력 형식
한 줄에 제목 하나씩, 번호나 따옴표 없이 3줄만 출력합니다.
`

const rewriteTemplate = `# 원고 수정 (시도 {{attempt}})

아래 원고에서 지적된 문제만 고치고 나머지는 그대로 둡니다.
필수 키워드: {{keywords}}
{{#if legal}}

## 법적 위험 (반드시 수정)
{{legal}}
{{/if}}
{{#if repetition}}

## 반복 표현
{{repetition}}
{{/if}}
{{#if title_issues}}

## 제목
{{title_issues}}
{{/if}}
{{#if seo}}

## 검색 최적화
{{seo}}
{{/if}}

## 현재 제목
{{title}}
{{#if meta}}

## 현재 요약
{{meta}}
{{/if}}

## 현재 본문
{{content}}

## 출력 형식
첫 줄에 'TITLE: '로 시작하는 제목, 둘째 줄에 'META: '로 시작하는 요약을 쓰고, 빈 줄 다음에 수정한 마크다운 본문 전체를 출력합니다.
`
