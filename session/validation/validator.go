// Package validation provides structural validation for agent-generated
// documents. Validate-class steps parse the generated artifact against a
// per-document-type schema; failures produce feedback text that routes the
// workflow into its revise loop instead of terminal failure.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// nextSectionRe matches markdown section headers (# or ##).
	nextSectionRe = regexp.MustCompile(`(?m)^#{1,2}\s+`)
	// emptySectionRe matches a ## header immediately followed by another ##.
	emptySectionRe = regexp.MustCompile(`(?m)^##\s+[^\n]+\n\s*\n##`)
)

// DocumentType identifies the kind of artifact being validated.
type DocumentType string

const (
	// DocumentTypeDesign identifies a component design document.
	DocumentTypeDesign DocumentType = "design"
	// DocumentTypeSpec identifies a context specification document.
	DocumentTypeSpec DocumentType = "spec"
	// DocumentTypeReview identifies a code review summary document.
	DocumentTypeReview DocumentType = "review"
)

// SectionRequirement defines one required section of a document type.
type SectionRequirement struct {
	Name        string         // Human-readable name
	Pattern     *regexp.Regexp // Regex matching the section header
	MinContent  int            // Minimum content length after the header
	Description string         // Description used in feedback
}

// Result reports the outcome of validating one document.
type Result struct {
	Valid           bool              `json:"valid"`
	DocumentType    DocumentType      `json:"document_type"`
	MissingSections []string          `json:"missing_sections,omitempty"`
	Warnings        []string          `json:"warnings,omitempty"`
	SectionDetails  map[string]string `json:"section_details,omitempty"`
}

// Validator validates generated documents against structural schemas.
type Validator struct {
	// RequiredSections maps document types to their required sections.
	RequiredSections map[DocumentType][]SectionRequirement
}

// NewValidator creates a validator with the default document schemas.
func NewValidator() *Validator {
	return &Validator{
		RequiredSections: map[DocumentType][]SectionRequirement{
			DocumentTypeDesign: {
				{
					Name:        "Title",
					Pattern:     regexp.MustCompile(`(?m)^#\s+.+`),
					MinContent:  0,
					Description: "Document title (# heading)",
				},
				{
					Name:        "Purpose",
					Pattern:     regexp.MustCompile(`(?mi)^##\s+purpose\b`),
					MinContent:  40,
					Description: "Purpose section stating what the component does",
				},
				{
					Name:        "Interfaces",
					Pattern:     regexp.MustCompile(`(?mi)^##\s+interfaces?\b`),
					MinContent:  50,
					Description: "Interfaces section describing the public surface",
				},
				{
					Name:        "Behavior",
					Pattern:     regexp.MustCompile(`(?mi)^##\s+behavior\b`),
					MinContent:  50,
					Description: "Behavior section covering the component's semantics",
				},
			},
			DocumentTypeSpec: {
				{
					Name:        "Title",
					Pattern:     regexp.MustCompile(`(?m)^#\s+.+`),
					MinContent:  0,
					Description: "Specification title",
				},
				{
					Name:        "Overview",
					Pattern:     regexp.MustCompile(`(?mi)^##\s+overview\b`),
					MinContent:  30,
					Description: "Overview section",
				},
				{
					Name:        "Requirements",
					Pattern:     regexp.MustCompile(`(?mi)^##\s+requirements?\b`),
					MinContent:  80,
					Description: "Requirements section with testable statements",
				},
				{
					Name:        "Acceptance Criteria",
					Pattern:     regexp.MustCompile(`(?mi)^##\s+acceptance\s+criteria\b`),
					MinContent:  40,
					Description: "Acceptance criteria section",
				},
			},
			DocumentTypeReview: {
				{
					Name:        "Title",
					Pattern:     regexp.MustCompile(`(?m)^#\s+.+`),
					MinContent:  0,
					Description: "Review title",
				},
				{
					Name:        "Findings",
					Pattern:     regexp.MustCompile(`(?mi)^##\s+findings?\b`),
					MinContent:  30,
					Description: "Findings section listing issues found",
				},
				{
					Name:        "Verdict",
					Pattern:     regexp.MustCompile(`(?mi)^##\s+verdict\b`),
					MinContent:  0,
					Description: "Verdict section (approved or needs changes)",
				},
			},
		},
	}
}

// Validate validates a document against its type requirements.
func (v *Validator) Validate(content string, docType DocumentType) *Result {
	result := &Result{
		Valid:          true,
		DocumentType:   docType,
		SectionDetails: make(map[string]string),
	}

	requirements, ok := v.RequiredSections[docType]
	if !ok {
		result.Warnings = append(result.Warnings, fmt.Sprintf("Unknown document type: %s", docType))
		return result
	}

	for _, req := range requirements {
		match := req.Pattern.FindStringIndex(content)
		if match == nil {
			result.Valid = false
			result.MissingSections = append(result.MissingSections,
				fmt.Sprintf("%s: %s", req.Name, req.Description))
			continue
		}

		if req.MinContent > 0 {
			sectionStart := match[1]
			sectionContent := content[sectionStart:]
			if next := nextSectionRe.FindStringIndex(sectionContent); next != nil {
				sectionContent = sectionContent[:next[0]]
			}
			trimmed := strings.TrimSpace(sectionContent)
			if len(trimmed) < req.MinContent {
				result.Valid = false
				result.MissingSections = append(result.MissingSections,
					fmt.Sprintf("%s: Section too short (min %d chars, got %d)",
						req.Name, req.MinContent, len(trimmed)))
				continue
			}
			result.SectionDetails[req.Name] = fmt.Sprintf("OK (%d chars)", len(trimmed))
			continue
		}

		result.SectionDetails[req.Name] = "OK"
	}

	if emptySectionRe.MatchString(content) {
		result.Warnings = append(result.Warnings, "Contains empty sections")
	}

	return result
}

// FormatFeedback formats a failed result as correction feedback for the
// revise step's prompt. Returns "" for valid results.
func (r *Result) FormatFeedback() string {
	if r.Valid {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Validation Failed\n\n")
	sb.WriteString("The generated document is missing required sections or content.\n\n")

	if len(r.MissingSections) > 0 {
		sb.WriteString("### Missing or Incomplete Sections\n\n")
		for _, section := range r.MissingSections {
			sb.WriteString(fmt.Sprintf("- %s\n", section))
		}
		sb.WriteString("\n")
	}

	if len(r.Warnings) > 0 {
		sb.WriteString("### Warnings\n\n")
		for _, warning := range r.Warnings {
			sb.WriteString(fmt.Sprintf("- %s\n", warning))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Revise the document to address every item above, keeping existing valid content.\n")
	return sb.String()
}
