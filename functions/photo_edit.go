package functions

import "github.com/pixvoice/pixvoice/messages"

// PhotoEditFunctionName is the tool the model calls when the user asks to
// change the photo under discussion.
const PhotoEditFunctionName = "request_photo_edit"

// PhotoEditFunctionDeclaration returns the function declaration announced in
// the session setup frame.
func PhotoEditFunctionDeclaration() messages.FunctionDeclaration {
	return messages.FunctionDeclaration{
		Name:        PhotoEditFunctionName,
		Description: "Request an edit to the photo currently being discussed. Call this whenever the user asks to change, adjust, or transform the image.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"instruction": map[string]any{
					"type":        "string",
					"description": "What to change in the photo, in plain language.",
				},
			},
			"required": []string{"instruction"},
		},
	}
}

// PhotoEditTools wraps the declaration in the tools list shape the setup
// frame expects.
func PhotoEditTools() []messages.Tool {
	return []messages.Tool{
		{FunctionDeclarations: []messages.FunctionDeclaration{PhotoEditFunctionDeclaration()}},
	}
}

// PhotoEditAck builds the tool response acknowledging that the edit request
// was surfaced to the user. The actual edit runs only after the user
// confirms.
func PhotoEditAck(callID string) messages.FunctionResponse {
	return messages.FunctionResponse{
		ID:   callID,
		Name: PhotoEditFunctionName,
		Response: map[string]any{
			"status": "awaiting_user_confirmation",
		},
	}
}
