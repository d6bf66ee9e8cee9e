package drafting

import (
	"fmt"
	"strings"

	"draftdesk/internal/models"
)

const promptTextRunes = 250

const memoryFraming = `You are a Twitter growth AI with access to this user's behavioral intelligence:

%s

Use this data to make optimal decisions for content selection, drafting, and engagement.`

const personaFraming = `You are a Twitter growth AI. Use this persona to guide your decisions:

%s

Focus on authentic, valuable content that matches this persona.`

// BuildPrompt renders the selection and drafting prompt for req.
func BuildPrompt(req Request) string {
	var b strings.Builder
	if req.Context.FromMemory {
		fmt.Fprintf(&b, memoryFraming, req.Context.Text)
	} else {
		fmt.Fprintf(&b, personaFraming, req.Context.Text)
	}
	b.WriteString("\n\n")

	if req.Kind == models.KindAccount {
		fmt.Fprintf(&b, "TWEETS FROM @%s:\n", strings.TrimPrefix(req.Query, "@"))
	} else {
		fmt.Fprintf(&b, "TWEETS FOR KEYWORD \"%s\":\n", req.Query)
	}
	for i, c := range req.Candidates {
		author := c.AuthorHandle
		if author == "" {
			author = "unknown"
		}
		fmt.Fprintf(&b, "%d. @%s: \"%s\"\n", i+1, author, truncateRunes(c.BodyText, promptTextRunes))
	}

	b.WriteString("\nREQUIREMENTS:\n")
	fmt.Fprintf(&b, "- Select exactly %d tweets from your areas of expertise\n", MaxProposals)
	b.WriteString("- Provide genuine value, avoid promotional content\n")
	b.WriteString("- Replies: Under 20 words, NO emojis, authentic style\n")
	if req.WantRewrite {
		b.WriteString("- Repurposed content: Under 25 words, NO hashtags, NO emojis\n")
	}

	fmt.Fprintf(&b, "\nOUTPUT FORMAT (EXACTLY %d ENTRIES):\n", MaxProposals)
	for i, n := range []int{3, 7, 12, 15, 18} {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Tweet %d:\nReply: [Your reply draft]\n", n)
		if req.WantRewrite {
			b.WriteString("Repurpose: [Your repurposed version]\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
