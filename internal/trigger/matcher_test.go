package trigger

import (
	"reflect"
	"testing"

	"vtt-keyboard/internal/domain"
)

func card(id, keyword string, variables ...string) domain.TriggerCard {
	return domain.TriggerCard{
		ID:             id,
		Title:          "Card " + id,
		Enabled:        true,
		Keyword:        keyword,
		PromptTemplate: "template " + ValuePlaceholder,
		Variables:      variables,
	}
}

func TestSplitSentencesMixedPunctuation(t *testing.T) {
	got := splitSentences("请润色：这句话；翻译，英文。谢谢!")
	want := []string{"请润色", "这句话", "翻译", "英文", "谢谢"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("sentences = %v, want %v", got, want)
	}
}

func TestResolvePlaceholderCapture(t *testing.T) {
	c := card("email", "email to {value}")
	c.Variables = []string{"colleague"}
	c.PromptTemplate = "Draft an email to {value}"

	res := Resolve("please send email to boss", []domain.TriggerCard{c})
	if len(res.Matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(res.Matches))
	}
	if res.Matches[0].MatchedValue != "boss" {
		t.Fatalf("captured = %q, want boss", res.Matches[0].MatchedValue)
	}
	if res.Matches[0].Mode != domain.TriggerMatchKeyword {
		t.Fatalf("mode = %s", res.Matches[0].Mode)
	}
	if res.FinalText != "Draft an email to boss" {
		t.Fatalf("final = %q", res.FinalText)
	}
}

func TestResolvePlainKeywordFallsBackToVariables(t *testing.T) {
	c := card("polish", "润色", "口语", "书面")
	res := Resolve("请帮我润色一下", []domain.TriggerCard{c})
	if len(res.Matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(res.Matches))
	}
	if res.Matches[0].MatchedValue != "口语" {
		t.Fatalf("value = %q, want first variable", res.Matches[0].MatchedValue)
	}
}

func TestResolveVariablePrefersEarliestMention(t *testing.T) {
	c := card("polish", "润色", "口语", "书面", "书面版")
	res := Resolve("请润色为书面，再补充口语版本", []domain.TriggerCard{c})
	if len(res.Matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(res.Matches))
	}
	if res.Matches[0].MatchedValue != "书面" {
		t.Fatalf("value = %q, want 书面", res.Matches[0].MatchedValue)
	}
}

func TestResolveFullWidthAndCaseNormalization(t *testing.T) {
	c := card("translate", "翻译为{value}", "英文", "日文")
	res := Resolve("帮我翻译为日文", []domain.TriggerCard{c})
	if len(res.Matches) != 1 || res.Matches[0].MatchedValue != "日文" {
		t.Fatalf("matches = %+v", res.Matches)
	}

	c2 := card("t2", "Translate To {value}")
	c2.Variables = []string{"English"}
	res2 := Resolve("please TRANSLATE  to french", []domain.TriggerCard{c2})
	if len(res2.Matches) != 1 || res2.Matches[0].MatchedValue != "french" {
		t.Fatalf("matches = %+v", res2.Matches)
	}
}

func TestResolveFirstMatchWinsAllMatchesRecorded(t *testing.T) {
	first := card("a", "email to {value}")
	first.Variables = []string{"x"}
	first.PromptTemplate = "first {value}"
	second := card("b", "email")
	second.Variables = []string{"fallback"}
	second.PromptTemplate = "second {value}"

	res := Resolve("send email to boss", []domain.TriggerCard{first, second})
	if len(res.Matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(res.Matches))
	}
	if res.FinalText != "first boss" {
		t.Fatalf("final = %q, want the first card's template", res.FinalText)
	}
}

func TestResolveAutoApply(t *testing.T) {
	c := card("auto", "nevermatches")
	c.AutoApply = true
	c.Variables = []string{"unused"}
	c.PromptTemplate = "Summarize: {value}"

	res := Resolve("meeting notes from today", []domain.TriggerCard{c})
	if len(res.Matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(res.Matches))
	}
	if res.Matches[0].Mode != domain.TriggerMatchAuto {
		t.Fatalf("mode = %s", res.Matches[0].Mode)
	}
	if res.FinalText != "Summarize: meeting notes from today" {
		t.Fatalf("final = %q", res.FinalText)
	}
}

func TestResolveDisabledCardIgnored(t *testing.T) {
	c := card("off", "email to {value}")
	c.Enabled = false
	c.Variables = []string{"x"}

	res := Resolve("send email to boss", []domain.TriggerCard{c})
	if len(res.Matches) != 0 {
		t.Fatalf("matches = %+v, want none", res.Matches)
	}
	if res.FinalText != "send email to boss" {
		t.Fatalf("final = %q, want passthrough", res.FinalText)
	}
}

func TestResolveNoMatchPassesThrough(t *testing.T) {
	c := card("email", "email to {value}", "x")
	res := Resolve("just a plain note", []domain.TriggerCard{c})
	if len(res.Matches) != 0 {
		t.Fatalf("matches = %+v", res.Matches)
	}
	if res.FinalText != "just a plain note" {
		t.Fatalf("final = %q", res.FinalText)
	}
}
