package extract

import "encoding/json"

// apiEnvelope covers the two known response shapes of the text-generation
// API: completion-style (choices[0].text) and chat-style
// (choices[0].message.content).
type apiEnvelope struct {
	Choices []struct {
		Text    string `json:"text"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Unwrap detects a full API response envelope and returns the generated
// text nested inside it. If the input is not an envelope it is returned
// unchanged.
func Unwrap(raw string) string {
	var env apiEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil || len(env.Choices) == 0 {
		return raw
	}
	if c := env.Choices[0]; c.Message.Content != "" {
		return c.Message.Content
	} else if c.Text != "" {
		return c.Text
	}
	return raw
}
