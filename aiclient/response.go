package aiclient

type chatCompletionResponse struct {
	Choices []choice `json:"choices"`
	Usage   *usage   `json:"usage,omitempty"`
}

type choice struct {
	Message      chatResponseMessage `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

type chatResponseMessage struct {
	Content string `json:"content"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Verdict is the analysis result for one listing.
type Verdict struct {
	// Text is the model's analysis.
	Text string

	// FinishReason reports why generation stopped.
	FinishReason string

	// TotalTokens is the token usage for the call, 0 when the backend
	// omits usage.
	TotalTokens int
}

func toVerdict(resp *chatCompletionResponse) (*Verdict, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	first := resp.Choices[0]
	v := &Verdict{
		Text:         first.Message.Content,
		FinishReason: first.FinishReason,
	}
	if resp.Usage != nil {
		v.TotalTokens = resp.Usage.TotalTokens
	}
	return v, nil
}
