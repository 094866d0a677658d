package chunker

import (
	"strings"
	"testing"
)

const registrationAct = `THE REGISTRATION ACT, 1908
An Act to consolidate the enactments relating to the Registration of Documents.

17. Documents of which registration is compulsory.—(1) The following documents shall be registered, namely:—
(a) instruments of gift of immovable property;
(b) other non-testamentary instruments which purport or operate to create, declare, assign, limit or extinguish any right, title or interest in immovable property;
(2) Nothing in clauses (b) and (c) of sub-section (1) applies to any composition deed.
49. Effect of non-registration of documents required to be registered.—No document required by section 17 to be registered shall affect any immovable property comprised therein.
53A. Part performance.—Where any person contracts to transfer for consideration any immovable property by writing signed by him.
`

func TestSplitSections(t *testing.T) {
	c := New(Config{MaxTokens: 1000})
	ps := c.Split(registrationAct)

	want := []string{"Preamble", "Section 17", "Section 49", "Section 53A"}
	if len(ps) != len(want) {
		t.Fatalf("got %d passages, want %d: %+v", len(ps), len(want), ps)
	}
	for i, w := range want {
		if ps[i].Locator != w {
			t.Errorf("passage %d locator = %q, want %q", i, ps[i].Locator, w)
		}
	}
	if !strings.HasPrefix(ps[3].Text, "53A. Part performance") {
		t.Errorf("section text should start at its number, got %q", ps[3].Text)
	}
	if ps[2].Section != "49" {
		t.Errorf("Section = %q, want 49", ps[2].Section)
	}
}

func TestSplitLongSectionAtSubSections(t *testing.T) {
	c := New(Config{MaxTokens: 20})
	ps := c.Split(registrationAct)

	var locs []string
	for _, p := range ps {
		if p.Section == "17" {
			locs = append(locs, p.Locator)
		}
	}
	want := []string{"Section 17(1)", "Section 17(2)"}
	if strings.Join(locs, ",") != strings.Join(want, ",") {
		t.Fatalf("locators = %v, want %v", locs, want)
	}

	for _, p := range ps {
		if p.Locator != "Section 17(1)" {
			continue
		}
		// Sub-section (1) keeps both of its clauses.
		if !strings.Contains(p.Text, "(a) instruments of gift") || !strings.Contains(p.Text, "(b) other non-testamentary") {
			t.Errorf("sub-section was cut: %q", p.Text)
		}
		if !strings.HasPrefix(p.Text, "17. Documents of which registration is compulsory") {
			t.Errorf("sub-section passage should carry the section title, got %q", p.Text)
		}
	}
}

func TestSplitFallsBackToClauses(t *testing.T) {
	text := "2. Definitions.—In this Act, unless the context otherwise requires,\n" +
		"(a) \"addition\" means the place of residence and the profession or trade;\n" +
		"(b) \"book\" includes a portion of a book and also any number of sheets;\n"
	ps := New(Config{MaxTokens: 10}).Split(text)
	if len(ps) != 2 {
		t.Fatalf("got %d passages, want 2: %+v", len(ps), ps)
	}
	if ps[0].Locator != "Section 2(a)" || ps[1].Locator != "Section 2(b)" {
		t.Errorf("locators = %q %q", ps[0].Locator, ps[1].Locator)
	}
	if !strings.HasPrefix(ps[1].Text, "2. Definitions") {
		t.Errorf("clause passage should carry the section title, got %q", ps[1].Text)
	}
}

func TestSplitNoSections(t *testing.T) {
	ps := New(Config{}).Split("Just some text without numbering.")
	if len(ps) != 1 || ps[0].Locator != "Preamble" {
		t.Fatalf("got %+v", ps)
	}
	if len(New(Config{}).Split("   \n ")) != 0 {
		t.Error("blank input should yield no passages")
	}
}

func TestSectionNumber(t *testing.T) {
	tests := []struct {
		line string
		want string
		ok   bool
	}{
		{"17. Documents of which registration is compulsory", "17", true},
		{"53A. Part performance", "53A", true},
		{"53-A. Part performance", "53A", true},
		{"Section 49 Effect of non-registration", "49", true},
		{"Sec. 58 Mortgage defined", "58", true},
		{"(1) The following documents", "", false},
		{"1908 was a busy year", "", false},
	}
	for _, tt := range tests {
		got, ok := SectionNumber(tt.line)
		if got != tt.want || ok != tt.ok {
			t.Errorf("SectionNumber(%q) = %q, %v; want %q, %v", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

func TestStatuteRefs(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"mortgage release under Section 58 of the TP Act", []string{"58"}},
		{"see s. 49 and Sec 53A; also u/s 53-a", []string{"49", "53A"}},
		{"Section 17 of the Act and section 17(1)", []string{"17"}},
		{"Rs. 500 paid in sections", nil},
	}
	for _, tt := range tests {
		got := StatuteRefs(tt.text)
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("StatuteRefs(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestLocatorSection(t *testing.T) {
	if n, ok := LocatorSection("Section 17(1)"); !ok || n != "17" {
		t.Errorf("got %q, %v", n, ok)
	}
	if n, ok := LocatorSection("Section 53A"); !ok || n != "53A" {
		t.Errorf("got %q, %v", n, ok)
	}
	if _, ok := LocatorSection("Preamble"); ok {
		t.Error("Preamble has no section")
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := estimateTokens("one two"); got != 3 {
		t.Errorf("estimateTokens = %d, want 3", got)
	}
	if estimateTokens("") != 0 {
		t.Error("empty text should be 0 tokens")
	}
}

func TestContentHash(t *testing.T) {
	if ContentHash("a") == ContentHash("b") {
		t.Error("different text should hash differently")
	}
	if len(ContentHash("a")) != 64 {
		t.Error("hash should be hex sha256")
	}
}
