package chat

import (
	"strings"
	"testing"
)

func TestBuildSystemPromptWithoutSnapshot(t *testing.T) {
	got := BuildSystemPrompt(nil, "", nil)

	if !strings.HasPrefix(got, basePrompt) {
		t.Fatal("prompt must open with the base instructions")
	}
	if !strings.HasSuffix(got, promptFooter) {
		t.Fatal("prompt must close with the footer")
	}
	if strings.Contains(got, "CURRENT CRM DATA SUMMARY") {
		t.Fatal("no CRM block expected without a snapshot")
	}
	if strings.Contains(got, "PREVIOUS CONVERSATION SUMMARY") {
		t.Fatal("no summary block expected for an empty summary")
	}
}

func TestBuildSystemPromptSummaryBlock(t *testing.T) {
	got := BuildSystemPrompt(nil, "earlier they compared pricing tiers", nil)

	want := "PREVIOUS CONVERSATION SUMMARY:\nearlier they compared pricing tiers"
	if !strings.Contains(got, want) {
		t.Fatalf("prompt missing summary block, got %q", got)
	}
}

func TestBuildSystemPromptWhitespaceSummarySkipped(t *testing.T) {
	got := BuildSystemPrompt(nil, "   \n ", nil)
	if strings.Contains(got, "PREVIOUS CONVERSATION SUMMARY") {
		t.Fatal("whitespace-only summary must not produce a block")
	}
}

func TestBuildSystemPromptOrdering(t *testing.T) {
	snap := &CRMSnapshot{TotalContacts: 1, CompaniesCount: 1, TagsCount: 0}
	got := BuildSystemPrompt(snap, "a summary", []string{"a note"})

	crm := strings.Index(got, "CURRENT CRM DATA SUMMARY")
	sum := strings.Index(got, "PREVIOUS CONVERSATION SUMMARY")
	notes := strings.Index(got, "RELEVANT NOTES")
	if crm < 0 || sum < 0 || notes < 0 {
		t.Fatalf("missing block in %q", got)
	}
	if !(crm < sum && sum < notes) {
		t.Fatal("blocks out of order: CRM data, then summary, then notes")
	}
}
