package cluster

import (
	"strings"
	"testing"
)

func TestGenerateClusterTitleCentralHeadline(t *testing.T) {
	members := []Member{
		{Title: "Michigan Church Shooting Leaves Four Dead", Text: "A gunman opened fire at a church in Grand Rapids."},
		{Title: "Four Dead in Michigan Church Shooting", Text: "Police said four people died in the shooting."},
		{Title: "Gunman Attacks Michigan Church During Service", Text: "Worshippers fled as a gunman attacked the church."},
	}

	title := GenerateClusterTitle(members)
	if title == "" {
		t.Fatal("empty cluster title")
	}
	if !strings.Contains(title, "Michigan") {
		t.Errorf("title = %q, want the shared subject present", title)
	}
	if len(title) > 90 {
		t.Errorf("title too long: %d chars", len(title))
	}
}

func TestGenerateClusterTitleComposition(t *testing.T) {
	// Headlines share no tokens, so composition from location and event
	// vocabulary takes over.
	members := []Member{
		{
			Title: "Blaze Forces Evacuations",
			Text:  "A wildfire near Athens forced thousands to evacuate as the fire spread across Greece overnight.",
		},
		{
			Title: "Thousands Flee Overnight",
			Text:  "Emergency crews in Greece battled a wildfire that threatened villages, and the fire burned for hours.",
		},
	}

	title := GenerateClusterTitle(members)
	if title == "" {
		t.Fatal("empty cluster title")
	}
	lower := strings.ToLower(title)
	if !strings.Contains(lower, "greece") && !strings.Contains(lower, "fire") {
		t.Errorf("composed title %q carries neither location nor topic", title)
	}
}

func TestGenerateClusterTitleEmpty(t *testing.T) {
	if title := GenerateClusterTitle(nil); title != "News Story" {
		t.Errorf("title = %q, want default", title)
	}
}

func TestNormalizeTitleCase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"michigan church shooting", "Michigan Church Shooting"},
		{"EU summit on energy", "EU Summit on Energy"},
		{"the long road to peace", "The Long Road to Peace"},
	}
	for _, tc := range cases {
		if got := normalizeTitleCase(tc.in); got != tc.want {
			t.Errorf("normalizeTitleCase(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestGenerateClusterSummary(t *testing.T) {
	members := []Member{
		{Text: "A gunman opened fire at a church in Grand Rapids on Sunday, killing four people. The attack happened during morning services."},
		{Text: "Police arrested a suspect after the Michigan church shooting left four worshippers dead."},
		{Text: "Subscribe to our newsletter. Javascript required. {display:none}"},
	}

	summary := GenerateClusterSummary(members)
	if summary == "" {
		t.Fatal("empty summary")
	}
	if !strings.HasSuffix(summary, ".") {
		t.Errorf("summary lacks terminal punctuation: %q", summary)
	}
	if strings.Contains(summary, "Subscribe") || strings.Contains(summary, "display") {
		t.Errorf("noise sentence leaked into summary: %q", summary)
	}
	if words := len(strings.Fields(summary)); words > 140 {
		t.Errorf("summary too long: %d words", words)
	}
}

func TestGenerateClusterSummaryDeduplicates(t *testing.T) {
	sentence := "Police arrested a suspect after the church shooting on Sunday morning."
	members := []Member{{Text: sentence}, {Text: sentence}}

	summary := GenerateClusterSummary(members)
	if got := strings.Count(summary, "arrested"); got != 1 {
		t.Errorf("duplicate sentence repeated %d times: %q", got, summary)
	}
}
