// Package governance implements the decision core of the pipeline: claim
// validation against evidence, risk and bias scoring, and the policy gate.
//
// All keyword data (stop-words, synonym table, risk cues, bias term lists,
// domain keywords) lives in a Lexicon so it can be extended from a YAML file
// without touching the algorithms that consume it.
package governance

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// TermList is a named list of lowercase cue terms matched by
// case-insensitive substring.
type TermList []string

// Hits returns the terms found in text, in list order, without duplicates.
func (l TermList) Hits(text string) []string {
	lower := strings.ToLower(text)
	hits := []string{}
	seen := make(map[string]struct{}, len(l))
	for _, term := range l {
		t := strings.ToLower(strings.TrimSpace(term))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		if strings.Contains(lower, t) {
			seen[t] = struct{}{}
			hits = append(hits, t)
		}
	}
	return hits
}

// Any reports whether any term occurs in text.
func (l TermList) Any(text string) bool {
	return len(l.Hits(text)) > 0
}

// CanonicalTable maps surface tokens to a canonical form so that synonyms
// and Indonesian/English translations compare equal. Tables are immutable;
// Extend returns a new table.
type CanonicalTable struct {
	version string
	entries map[string]string
}

// NewCanonicalTable copies entries into a new table.
func NewCanonicalTable(version string, entries map[string]string) *CanonicalTable {
	m := make(map[string]string, len(entries))
	for k, v := range entries {
		m[strings.ToLower(k)] = strings.ToLower(v)
	}
	return &CanonicalTable{version: version, entries: m}
}

// Version identifies the table contents.
func (t *CanonicalTable) Version() string { return t.version }

// Len is the number of mapped tokens.
func (t *CanonicalTable) Len() int { return len(t.entries) }

// Canonical returns the canonical form of tok, or tok itself.
func (t *CanonicalTable) Canonical(tok string) string {
	if c, ok := t.entries[tok]; ok {
		return c
	}
	return tok
}

// Extend returns a table with extra entries layered over t.
func (t *CanonicalTable) Extend(version string, extra map[string]string) *CanonicalTable {
	merged := make(map[string]string, len(t.entries)+len(extra))
	for k, v := range t.entries {
		merged[k] = v
	}
	for k, v := range extra {
		merged[strings.ToLower(k)] = strings.ToLower(v)
	}
	return &CanonicalTable{version: version, entries: merged}
}

// DomainKeywords is one prompt-analysis domain.
type DomainKeywords struct {
	Name     string   `yaml:"name"`
	Keywords TermList `yaml:"keywords"`
}

// Lexicon groups every keyword list used by governance.
type Lexicon struct {
	Version   string
	Stopwords TermList
	Canonical *CanonicalTable

	// Risk cues, evaluated HIGH first.
	RiskHigh   TermList
	RiskMedium TermList

	// BiasFlagTerms are the protected categories the risk scorer flags.
	BiasFlagTerms TermList

	Protected      TermList
	Restriction    TermList
	Generalization TermList
	Decision       TermList

	Domains []DomainKeywords
}

const defaultLexiconVersion = "2025.1"

var defaultCanonical = map[string]string{
	"audit":         "audit",
	"log":           "log",
	"auditlog":      "auditlog",
	"retensi":       "retention",
	"retention":     "retention",
	"retain":        "retention",
	"retained":      "retention",
	"retaining":     "retention",
	"keputusan":     "decision",
	"decision":      "decision",
	"regulasi":      "regulation",
	"regulation":    "regulation",
	"regulatory":    "regulation",
	"lima":          "five",
	"five":          "five",
	"tahun":         "year",
	"year":          "year",
	"years":         "year",
	"minimum":       "minimum",
	"minimal":       "minimum",
	"organisasi":    "organization",
	"organization":  "organization",
	"organisations": "organization",
	"bukti":         "evidence",
	"evidence":      "evidence",
	"sumber":        "source",
	"source":        "source",
	"dokumen":       "document",
	"document":      "document",
	"data":          "data",
	"record":        "record",
	"records":       "record",
	"regulated":     "regulated",
	"undangundang":  "law",
	"undang-undang": "law",
	"law":           "law",
}

// DefaultLexicon returns the built-in bilingual lexicon.
func DefaultLexicon() *Lexicon {
	return &Lexicon{
		Version: defaultLexiconVersion,
		Stopwords: TermList{
			"yang", "dan", "atau", "tidak", "untuk", "dengan", "pada", "dari",
			"sebagai", "adalah", "harus", "akan", "bisa", "dapat", "di", "ke", "para",
			"the", "and", "or", "not", "for", "with", "from", "as", "is", "are",
			"was", "were", "be", "must", "should", "shall",
		},
		Canonical:     NewCanonicalTable(defaultLexiconVersion, defaultCanonical),
		RiskHigh:      TermList{"penalty", "sanction", "criminal"},
		RiskMedium:    TermList{"must", "shall", "non-compliance"},
		BiasFlagTerms: TermList{"race", "gender", "religion", "ethnicity", "nationality", "disability"},
		Protected: TermList{
			"race", "ethnicity", "gender", "sex", "religion", "nationality", "disability",
			"age", "pregnant", "sexual orientation", "indigenous", "minority", "immigrant",
		},
		Restriction: TermList{
			"deny", "refuse", "ban", "exclude", "prohibit", "not allowed", "ineligible",
			"disqualify", "reject",
		},
		Generalization: TermList{"always", "never", "all", "none", "inherently", "typically", "most"},
		Decision:       TermList{"approve", "deny", "grant", "reject", "eligible", "ineligible", "must", "shall"},
		Domains: []DomainKeywords{
			{Name: "Education Policy", Keywords: TermList{"sekolah", "pendidikan", "bantuan pendidikan", "siswa", "kurikulum"}},
			{Name: "Legal", Keywords: TermList{"undang-undang", "peraturan", "regulasi", "pidana", "perdata"}},
			{Name: "Public Policy", Keywords: TermList{"kebijakan", "pemerintah", "publik", "program", "subsidi"}},
		},
	}
}

// lexiconFile is the YAML shape of a lexicon override. Lists present in the
// file replace the defaults; canonical entries are merged into them.
type lexiconFile struct {
	Version        string            `yaml:"version"`
	Stopwords      TermList          `yaml:"stopwords"`
	Canonical      map[string]string `yaml:"canonical"`
	RiskHigh       TermList          `yaml:"risk_high"`
	RiskMedium     TermList          `yaml:"risk_medium"`
	BiasFlagTerms  TermList          `yaml:"bias_flag_terms"`
	Protected      TermList          `yaml:"protected"`
	Restriction    TermList          `yaml:"restriction"`
	Generalization TermList          `yaml:"generalization"`
	Decision       TermList          `yaml:"decision"`
	Domains        []DomainKeywords  `yaml:"domains"`
}

// ParseLexicon layers a YAML override onto the default lexicon.
func ParseLexicon(data []byte) (*Lexicon, error) {
	var f lexiconFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse lexicon: %w", err)
	}

	lex := DefaultLexicon()
	if f.Version != "" {
		lex.Version = f.Version
	}
	replace := func(dst *TermList, src TermList) {
		if src != nil {
			*dst = src
		}
	}
	replace(&lex.Stopwords, f.Stopwords)
	replace(&lex.RiskHigh, f.RiskHigh)
	replace(&lex.RiskMedium, f.RiskMedium)
	replace(&lex.BiasFlagTerms, f.BiasFlagTerms)
	replace(&lex.Protected, f.Protected)
	replace(&lex.Restriction, f.Restriction)
	replace(&lex.Generalization, f.Generalization)
	replace(&lex.Decision, f.Decision)
	if f.Domains != nil {
		lex.Domains = f.Domains
	}
	if len(f.Canonical) > 0 {
		lex.Canonical = lex.Canonical.Extend(lex.Version, f.Canonical)
	}
	return lex, nil
}

// LoadLexicon reads a YAML override from path. An empty path yields the default.
func LoadLexicon(path string) (*Lexicon, error) {
	if path == "" {
		return DefaultLexicon(), nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("read lexicon %s: %w", path, err)
	}
	return ParseLexicon(data)
}
