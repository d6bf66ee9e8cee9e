package persona

import "strings"

const promptHeader = `Analyze these posts from one account and write a compressed persona profile.
The profile is used to decide which posts this user should engage with, to draft replies
in their style, and to rewrite content in their voice.

USER'S POSTS:
`

const promptFormat = `
Write the profile in this structure, at most 2,400 characters:

## [USER TYPE] - COMPRESSED PERSONA

## EXPERTISE & TOPICS
**Primary**: [main expertise areas]
**Secondary**: [secondary interests]
**Level**: [technical complexity level]
**Experience**: [professional experience level]

## ENGAGEMENT RULES
**HIGH ENGAGEMENT**: [five topics they engage with]
**AVOID**: [four topics they avoid]
**AUTHORITY AREAS**: [four areas they give advice on]

## VOICE & TONE
**Style**: [communication style]
**Structure**: [sentence patterns]
**Vocabulary**: [language complexity]
**Personality**: [key traits]
**Emotional**: [how they express emotions]

## CONTENT STYLE
**Length**: [typical post length]
**Key Phrases**: [common expressions]
**Format**: [formatting preferences]
**Approach**: [how they explain things]
**CTA Style**: [call-to-action approach]
**Value**: [what value they provide]

Return only the profile.`

// BuildPrompt renders the persona prompt for posts, one "- text" line each.
func BuildPrompt(posts []string) string {
	var b strings.Builder
	b.WriteString(promptHeader)
	for _, p := range posts {
		b.WriteString("- ")
		b.WriteString(p)
		b.WriteString("\n")
	}
	b.WriteString(promptFormat)
	return b.String()
}
