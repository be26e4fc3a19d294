package server

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func codeReviewPrompt() mcp.Prompt {
	return mcp.NewPrompt("code_review",
		mcp.WithPromptDescription("Review a code snippet for bugs, style and maintainability"),
		mcp.WithArgument("code",
			mcp.ArgumentDescription("The code to review"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("language",
			mcp.ArgumentDescription("Programming language (default: python)"),
		),
		mcp.WithArgument("focus",
			mcp.ArgumentDescription("Review focus, e.g. security or performance (default: general)"),
		),
	)
}

func handleCodeReview(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	args := req.Params.Arguments
	code := args["code"]
	if code == "" {
		return nil, fmt.Errorf("code_review: missing required argument code")
	}
	language := args["language"]
	if language == "" {
		language = "python"
	}
	focus := args["focus"]
	if focus == "" {
		focus = "general"
	}

	text := fmt.Sprintf(`Please review the following %s code with a focus on %s aspects.

Code:
`+"```%s\n%s\n```"+`

Cover potential bugs and edge cases, readability, performance and security
concerns, and suggest concrete improvements.`, language, focus, language, code)

	return mcp.NewGetPromptResult(
		fmt.Sprintf("Code review (%s, %s)", language, focus),
		[]mcp.PromptMessage{mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(text))},
	), nil
}
