package agent

import "google.golang.org/genai"

// FeedbackSchema returns the Gemini schema for the evaluation verdict.
func FeedbackSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"grade": {
				Type:        genai.TypeString,
				Enum:        []string{"pass", "fail"},
				Description: "Evaluation result. 'pass' if the research is sufficient, 'fail' if it needs revision.",
			},
			"comment": {
				Type:        genai.TypeString,
				Description: "Detailed explanation of the evaluation, highlighting strengths and/or weaknesses of the research.",
			},
			"follow_up_queries": {
				Type:        genai.TypeArray,
				Description: "A list of specific, targeted follow-up search queries needed to fix research gaps. This should be null or empty if the grade is 'pass'.",
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"search_query": {
							Type:        genai.TypeString,
							Description: "A highly specific and targeted query for web search.",
						},
					},
					Required: []string{"search_query"},
				},
			},
		},
		Required: []string{"grade", "comment"},
	}
}
