// Package compose assembles draft text from a fixed template.
package compose

import (
	"fmt"
	"strings"
)

// Tone selects the closing line of a draft
type Tone string

const (
	ToneNeutral  Tone = "neutral"
	ToneFormal   Tone = "formal"
	ToneFriendly Tone = "friendly"
)

// ParseTone maps free input to a known tone; empty or unknown input is neutral
func ParseTone(s string) Tone {
	switch Tone(strings.ToLower(strings.TrimSpace(s))) {
	case ToneFormal:
		return ToneFormal
	case ToneFriendly:
		return ToneFriendly
	default:
		return ToneNeutral
	}
}

var toneLines = map[Tone]string{
	ToneNeutral:  "문제를 구조적으로 분석하고 빠르게 실행합니다.",
	ToneFormal:   "정확성과 책임감을 바탕으로 결과를 약속드립니다.",
	ToneFriendly: "협업을 중시하고, 명확한 커뮤니케이션으로 팀에 기여하겠습니다.",
}

const strengthsLine = "관련 경험과 강점: 핵심 지표를 정의하고 개선한 경험, 자동화로 처리시간 단축, 협업 기반 품질 향상."

// Input is what a draft is composed from
type Input struct {
	Company        string
	Position       string
	JobDescription string
	Tone           Tone
}

// Compose renders the five-paragraph draft, paragraphs separated by a blank line
func Compose(in Input) string {
	line, ok := toneLines[in.Tone]
	if !ok {
		line = toneLines[ToneNeutral]
	}

	return strings.Join([]string{
		fmt.Sprintf("안녕하세요. %s의 %s 포지션 지원자입니다.", in.Company, in.Position),
		"JD 요약: " + in.JobDescription,
		strengthsLine,
		line,
		"감사합니다.",
	}, "\n\n")
}
