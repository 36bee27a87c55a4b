package ingest

import (
	"strings"

	"docchat/internal/job"
	"docchat/internal/pkg/pdfextract"
)

// MinConfidence is the floor below which an extracted value counts as
// missing and must be asked for.
const MinConfidence = 0.6

// RequiredMetadata are the keys a document needs before it can be indexed.
var RequiredMetadata = []string{job.KeyDocumentType, job.KeyRevisionCode}

type Candidate struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// ExtractMetadata scans the first page only. Values in supplied override
// anything detected and carry full confidence.
func ExtractMetadata(pages []pdfextract.Page, supplied map[string]string) map[string]Candidate {
	out := make(map[string]Candidate, len(RequiredMetadata))
	for _, key := range RequiredMetadata {
		out[key] = Candidate{}
	}

	if len(pages) > 0 && pages[0].Number == 1 {
		lower := strings.ToLower(pages[0].Text())
		switch {
		case strings.Contains(lower, "basis of design"):
			out[job.KeyDocumentType] = Candidate{Value: "Basis of Design", Confidence: 0.9}
		case strings.Contains(lower, "design basis"):
			out[job.KeyDocumentType] = Candidate{Value: "Basis of Design", Confidence: 0.8}
		}
	}

	for _, key := range RequiredMetadata {
		if v := strings.TrimSpace(supplied[key]); v != "" {
			out[key] = Candidate{Value: v, Confidence: 1.0}
		}
	}
	return out
}

// Accepted keeps the candidates confident enough to use as job metadata.
func Accepted(candidates map[string]Candidate) map[string]string {
	out := make(map[string]string, len(candidates))
	for k, c := range candidates {
		if c.Confidence >= MinConfidence && strings.TrimSpace(c.Value) != "" {
			out[k] = c.Value
		}
	}
	return out
}
