package plan

import "strings"

// Allow-listed API routes a binding may target.
const (
	EndpointResearch     = "/api/research"
	EndpointDeepSearch   = "/api/deep-search"
	EndpointExtract      = "/api/extract"
	EndpointAggregate    = "/api/aggregate"
	EndpointAnalyze      = "/api/analyze"
	EndpointStatistics   = "/api/statistics"
	EndpointReview       = "/api/review"
	EndpointSearch       = "/api/search"
	EndpointWrite        = "/api/write"
	EndpointSummarize    = "/api/summarize"
	EndpointHypothesis   = "/api/hypothesis"
	EndpointChat         = "/api/chat"
	EndpointGenerate     = "/api/generate"
	EndpointQualityCheck = "/api/quality-check"
	EndpointExport       = "/api/export"
)

// AllowedEndpoints is the explicit allow-list of binding endpoints.
var AllowedEndpoints = map[string]bool{
	EndpointResearch:     true,
	EndpointDeepSearch:   true,
	EndpointExtract:      true,
	EndpointAggregate:    true,
	EndpointAnalyze:      true,
	EndpointStatistics:   true,
	EndpointReview:       true,
	EndpointSearch:       true,
	EndpointWrite:        true,
	EndpointSummarize:    true,
	EndpointHypothesis:   true,
	EndpointChat:         true,
	EndpointGenerate:     true,
	EndpointQualityCheck: true,
	EndpointExport:       true,
}

// IsAllowedEndpoint reports whether endpoint is on the allow-list.
func IsAllowedEndpoint(endpoint string) bool {
	return AllowedEndpoints[endpoint]
}

// Category groups wants by the kind of preparatory work they need.
type Category string

const (
	CategoryResearch Category = "research"
	CategoryAnalysis Category = "analysis"
	CategoryWriting  Category = "writing"
	CategoryUnknown  Category = "unknown"
)

type wantInfo struct {
	label    string
	category Category
	endpoint string
}

var wants = map[string]wantInfo{
	"search_papers":        {"Search papers", CategoryResearch, EndpointSearch},
	"literature_review":    {"Literature review", CategoryResearch, EndpointReview},
	"generate_hypothesis":  {"Generate hypothesis", CategoryResearch, EndpointHypothesis},
	"analyze_data":         {"Analyze dataset", CategoryAnalysis, EndpointAnalyze},
	"statistical_analysis": {"Statistical analysis", CategoryAnalysis, EndpointStatistics},
	"write_paper":          {"Write paper", CategoryWriting, EndpointWrite},
	"summarize":            {"Summarize findings", CategoryWriting, EndpointSummarize},
	"peer_review":          {"Peer review", CategoryWriting, EndpointReview},
}

type sourceInfo struct {
	label    string
	endpoint string
}

var sources = map[string]sourceInfo{
	"arxiv":            {"arXiv", EndpointResearch},
	"pubmed":           {"PubMed", EndpointResearch},
	"semantic_scholar": {"Semantic Scholar", EndpointResearch},
	"google_scholar":   {"Google Scholar", EndpointResearch},
	"web":              {"the web", EndpointResearch},
	"deep_review":      {"deep literature review", EndpointDeepSearch},
	"uploaded_files":   {"uploaded files", EndpointExtract},
}

// requiredCapabilities maps a data source to the endpoint that must appear
// somewhere in a plan that uses it.
var requiredCapabilities = map[string]string{
	"deep_review":    EndpointDeepSearch,
	"uploaded_files": EndpointExtract,
}

type outputStage struct {
	title string
	phase string
}

type outputInfo struct {
	label  string
	stages []outputStage
}

var outputs = map[string]outputInfo{
	"pdf_report": {"PDF report", []outputStage{
		{"Generate PDF report", "render"},
	}},
	"slides": {"slide deck", []outputStage{
		{"Outline slide deck", "outline"},
		{"Render slide deck", "render"},
	}},
	"latex": {"LaTeX document", []outputStage{
		{"Draft LaTeX document", "draft"},
		{"Compile LaTeX document", "compile"},
	}},
	"interactive_app": {"interactive app", []outputStage{
		{"Design interactive app", "design"},
		{"Code interactive app", "code"},
	}},
	"markdown": {"Markdown document", []outputStage{
		{"Generate Markdown document", "render"},
	}},
	"chart": {"data chart", []outputStage{
		{"Generate data chart", "render"},
	}},
}

// WantLabel returns the human label for a want key; unknown keys are returned as-is.
func WantLabel(key string) string {
	if w, ok := wants[key]; ok {
		return w.label
	}
	return key
}

// WantCategory returns the category of a want key.
func WantCategory(key string) Category {
	if w, ok := wants[key]; ok {
		return w.category
	}
	return CategoryUnknown
}

func wantEndpoint(key string) string {
	if w, ok := wants[key]; ok {
		return w.endpoint
	}
	return EndpointChat
}

// SourceLabel returns the human label for a data source key.
func SourceLabel(key string) string {
	if s, ok := sources[key]; ok {
		return s.label
	}
	return key
}

func sourceEndpoint(key string) string {
	if s, ok := sources[key]; ok {
		return s.endpoint
	}
	return EndpointResearch
}

// RequiredCapability returns the endpoint a data source requires, if any.
func RequiredCapability(source string) (string, bool) {
	ep, ok := requiredCapabilities[source]
	return ep, ok
}

// OutputLabel returns the human label for an output format key.
func OutputLabel(key string) string {
	if o, ok := outputs[key]; ok {
		return o.label
	}
	return key
}

func outputStages(key string) []outputStage {
	if o, ok := outputs[key]; ok {
		return o.stages
	}
	return []outputStage{{"Generate " + key, "render"}}
}

// mentions reports whether text contains label, ignoring case.
func mentions(text, label string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(label))
}
