package httprequest

import (
	"github.com/nexocrm/flowd/pkg/protocol"
)

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (h *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}

func (h *ActionFactory) ID() string {
	return "http_request"
}

func (h *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to send the HTTP request to. Supports templating.",
				"examples": []string{
					"https://api.example.com/leads",
					"https://api.example.com/leads/{{steps.create.id}}",
				},
			},
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method to use",
				"default":     "GET",
				"enum":        []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"},
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "HTTP headers to include. Values support templating.",
				"additionalProperties": map[string]any{
					"type": "string",
				},
			},
			"body": map[string]any{
				"type":        "string",
				"format":      "code",
				"description": "Request body content. Supports templating.",
			},
			"retries": map[string]any{
				"type":        "object",
				"description": "Retry configuration for failed requests",
				"properties": map[string]any{
					"attempts": map[string]any{
						"type":    "integer",
						"default": 1,
						"minimum": 1,
						"maximum": 5,
					},
					"delay": map[string]any{
						"type":        "integer",
						"description": "Delay between attempts in milliseconds",
						"default":     1000,
						"minimum":     0,
						"maximum":     30000,
					},
				},
			},
		},
		"required": []string{"url"},
	}
}
