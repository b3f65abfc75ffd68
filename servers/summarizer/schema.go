package summarizer

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// SummarizeArgs is the arguments for the summarize tool.
type SummarizeArgs struct {
	Text string `json:"text"`
}

// GreetArgs is the arguments for the greet and multi-greet tools.
type GreetArgs struct {
	Name string `json:"name"`
}

// CollectUserInfoArgs is the arguments for the collect-user-info tool.
type CollectUserInfoArgs struct {
	InfoType string `json:"infoType"`
}

// NotificationStreamArgs is the arguments for the start-notification-stream tool. A zero
// Count streams until the call is cancelled.
type NotificationStreamArgs struct {
	Interval int `json:"interval"`
	Count    int `json:"count"`
}

type contactInfo struct {
	Name  string `json:"name" mapstructure:"name"`
	Email string `json:"email" mapstructure:"email"`
	Phone string `json:"phone,omitempty" mapstructure:"phone"`
}

type preferencesInfo struct {
	Theme         string `json:"theme" mapstructure:"theme"`
	Language      string `json:"language,omitempty" mapstructure:"language"`
	Notifications bool   `json:"notifications" mapstructure:"notifications"`
}

type feedbackInfo struct {
	Rating    int    `json:"rating" mapstructure:"rating"`
	Comments  string `json:"comments,omitempty" mapstructure:"comments"`
	Recommend bool   `json:"recommend" mapstructure:"recommend"`
}

var summarizeSchema = []byte(`{
  "type": "object",
  "properties": {
    "text": { "type": "string", "description": "Text to summarize" }
  },
  "required": ["text"]
}`)

var greetSchema = []byte(`{
  "type": "object",
  "properties": {
    "name": { "type": "string", "description": "Name to greet" }
  },
  "required": ["name"]
}`)

var collectUserInfoSchema = []byte(`{
  "type": "object",
  "properties": {
    "infoType": {
      "type": "string",
      "enum": ["contact", "preferences", "feedback"],
      "description": "Type of information to collect"
    }
  },
  "required": ["infoType"]
}`)

var notificationStreamSchema = []byte(`{
  "type": "object",
  "properties": {
    "interval": { "type": "number", "description": "Interval in milliseconds between notifications", "default": 100 },
    "count": { "type": "number", "description": "Number of notifications to send (0 for unlimited)", "default": 10 }
  }
}`)

var contactSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "name": { "type": "string", "title": "Full Name" },
    "email": { "type": "string", "title": "Email Address", "format": "email" },
    "phone": { "type": "string", "title": "Phone Number" }
  },
  "required": ["name", "email"]
}`)

var preferencesSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "theme": { "type": "string", "title": "Theme", "enum": ["light", "dark", "auto"] },
    "language": { "type": "string", "title": "Language" },
    "notifications": { "type": "boolean", "title": "Enable Notifications", "default": true }
  },
  "required": ["theme"]
}`)

var feedbackSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "rating": { "type": "integer", "title": "Rating", "minimum": 1, "maximum": 5 },
    "comments": { "type": "string", "title": "Comments" },
    "recommend": { "type": "boolean", "title": "Would you recommend this?" }
  },
  "required": ["rating", "recommend"]
}`)

// decodeArgs decodes tool arguments into v. Fields missing from raw keep the values v already
// holds, so defaults can be set before decoding.
func decodeArgs(raw json.RawMessage, v any) error {
	var m map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("failed to unmarshal arguments: %w", err)
		}
	}
	return decodeMap(m, v, "json")
}

func decodeMap(m map[string]any, v any, tag string) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          tag,
		Result:           v,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return fmt.Errorf("failed to decode arguments: %w", err)
	}
	return nil
}
