package codegen

import (
	"fmt"
	"strings"
)

const (
	appSystemPrompt    = "You are an expert web developer. You write clean, functional, production-ready single-file HTML applications."
	readmeSystemPrompt = "You are an expert technical writer. You write clear, well-structured project documentation in Markdown."
)

func appPrompt(req AppRequest) string {
	var b strings.Builder
	if req.ExistingCode != "" {
		fmt.Fprintf(&b, "Revise the existing single-page web application for round %d so that it satisfies this brief:\n\n", req.Round)
	} else {
		b.WriteString("Generate a complete, minimal single-page web application for this brief:\n\n")
	}
	fmt.Fprintf(&b, "Brief: %s\n\n", req.Brief)

	b.WriteString("Evaluation checks:\n")
	for _, c := range req.Checks {
		fmt.Fprintf(&b, "- %s\n", c)
	}

	if len(req.Attachments) > 0 {
		b.WriteString("\nAttachments:\n")
		for _, a := range req.Attachments {
			name := a.Name
			if name == "" {
				name = "unknown"
			}
			fmt.Fprintf(&b, "- %s\n", name)
		}
	}

	if req.ExistingCode != "" {
		b.WriteString("\nExisting code from the previous round:\n```html\n")
		b.WriteString(req.ExistingCode)
		if !strings.HasSuffix(req.ExistingCode, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("```\n\nKeep what already works, change what the brief asks for and return the full updated file.\n")
	}

	b.WriteString(`
Requirements:
1. A single HTML file with embedded CSS and JavaScript.
2. Fully functional when served from GitHub Pages.
3. Handle errors and give the user feedback.
4. Clean, professional look.
5. Honor any URL parameters described in the brief.

Return ONLY the HTML code, no explanations.`)
	return b.String()
}

func readmePrompt(req ReadmeRequest) string {
	return fmt.Sprintf(`Write a professional README.md for this project.

Task: %s
Brief: %s
Repository: %s
Live demo: %s

Include a title and short description, a features overview, setup and usage
instructions, technical implementation notes and a License section (MIT).
Use proper Markdown formatting.`, req.Task, req.Brief, req.RepoURL, req.PagesURL)
}
