package prompt

import (
	"reflect"
	"testing"
)

func TestParseOutput(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Output
	}{
		{
			name: "meta and body",
			in:   "META: 동구 체육관 이야기\n\n## 소제목\n\n본문입니다.",
			want: Output{Meta: "동구 체육관 이야기", Body: "## 소제목\n\n본문입니다."},
		},
		{
			name: "title and meta",
			in:   "TITLE: \"새 제목\"\nMETA: 요약\n\n본문",
			want: Output{Title: "새 제목", Meta: "요약", Body: "본문"},
		},
		{
			name: "fenced",
			in:   "```markdown\nMETA: 요약\n\n본문\n```",
			want: Output{Meta: "요약", Body: "본문"},
		},
		{
			name: "plain",
			in:   "본문만 있습니다.",
			want: Output{Body: "본문만 있습니다."},
		},
		{
			name: "lowercase label",
			in:   "meta: 요약\r\n본문",
			want: Output{Meta: "요약", Body: "본문"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseOutput(tt.in); got != tt.want {
				t.Errorf("ParseOutput() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseLines(t *testing.T) {
	in := "1. \"동구 체육관, 주민의 꿈을 짓다\"\n\n2) 동구 체육관 건립으로 여는 생활체육\n- 세 번째 제목"
	want := []string{"동구 체육관, 주민의 꿈을 짓다", "동구 체육관 건립으로 여는 생활체육", "세 번째 제목"}
	if got := ParseLines(in); !reflect.DeepEqual(got, want) {
		t.Errorf("ParseLines() = %q, want %q", got, want)
	}
}
