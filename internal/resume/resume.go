// Package resume pulls structured profile fields and contact details out of
// free-form resume text using fixed keyword lists.
package resume

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	yearRe  = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)
	emailRe = regexp.MustCompile(`[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+`)
	phoneRe = regexp.MustCompile(`\+?\d{10,15}`)
	btechRe = regexp.MustCompile(`\bb\.tech\b`)
)

var skillKeywords = []string{
	"python", "java", "c++", "c#", "javascript", "typescript", "react", "node",
	"django", "flask", "sql", "postgres", "mysql", "aws", "azure", "gcp",
	"docker", "kubernetes",
}

var courseKeywords = []string{
	"btech", "b.e.", "b.e", "b.sc", "bachelor", "ms", "m.tech", "m.sc", "mba",
}

var branchKeywords = []string{
	"computer", "electrical", "mechanical", "civil", "ece", "it",
	"information technology",
}

// Parsed holds the fields found in a resume. Zero values mean not found.
type Parsed struct {
	GraduationYear *int     `json:"graduationYear"`
	Years          []int    `json:"years,omitempty"`
	Skills         []string `json:"skills"`
	Course         string   `json:"course"`
	Branch         string   `json:"branch"`
}

// Empty reports whether nothing usable was extracted.
func (p Parsed) Empty() bool {
	return p.GraduationYear == nil && len(p.Skills) == 0 && p.Course == "" && p.Branch == ""
}

// Changes returns a change-set holding only the fields that were found.
func (p Parsed) Changes() map[string]any {
	changes := make(map[string]any)
	if p.GraduationYear != nil {
		changes["graduationYear"] = *p.GraduationYear
	}
	if len(p.Skills) > 0 {
		skills := make([]any, len(p.Skills))
		for i, s := range p.Skills {
			skills[i] = s
		}
		changes["skills"] = skills
	}
	if p.Course != "" {
		changes["course"] = p.Course
	}
	if p.Branch != "" {
		changes["branch"] = p.Branch
	}
	return changes
}

// Extract scans text for years, skills, course and branch. Skills keep
// keyword-list order; course and branch take the first keyword that matches.
func Extract(text string) Parsed {
	text = norm.NFKC.String(text)
	lower := strings.ToLower(text)

	var p Parsed
	p.Years = years(text)
	if n := len(p.Years); n > 0 {
		grad := p.Years[n-1]
		p.GraduationYear = &grad
	}
	for _, k := range skillKeywords {
		if strings.Contains(lower, k) {
			p.Skills = append(p.Skills, k)
		}
	}
	// "B.Tech" and "BTech" name the same degree.
	p.Course = first(courseKeywords, btechRe.ReplaceAllString(lower, "btech"))
	p.Branch = first(branchKeywords, lower)
	return p
}

func years(text string) []int {
	seen := make(map[int]struct{})
	var out []int
	for _, m := range yearRe.FindAllString(text, -1) {
		y, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		if _, ok := seen[y]; ok {
			continue
		}
		seen[y] = struct{}{}
		out = append(out, y)
	}
	sort.Ints(out)
	return out
}

func first(keywords []string, text string) string {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return k
		}
	}
	return ""
}

// Contacts are the addresses and phone numbers found in a document.
type Contacts struct {
	Emails []string `json:"emails"`
	Phones []string `json:"phones"`
}

// ExtractContacts finds every email address and phone number in text, in
// order of appearance.
func ExtractContacts(text string) Contacts {
	c := Contacts{
		Emails: emailRe.FindAllString(text, -1),
		Phones: phoneRe.FindAllString(text, -1),
	}
	if c.Emails == nil {
		c.Emails = []string{}
	}
	if c.Phones == nil {
		c.Phones = []string{}
	}
	return c
}

// Map converts the contacts to a document value.
func (c Contacts) Map() map[string]any {
	emails := make([]any, len(c.Emails))
	for i, e := range c.Emails {
		emails[i] = e
	}
	phones := make([]any, len(c.Phones))
	for i, p := range c.Phones {
		phones[i] = p
	}
	return map[string]any{"emails": emails, "phones": phones}
}
