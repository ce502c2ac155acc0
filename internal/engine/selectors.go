// internal/engine/selectors.go
package engine

import "github.com/hxkal/stagehand/api/schemas"

// Selectors holds the ordered candidate chains for every UI element the
// engagement loop touches. Each chain is tried front to back; platform
// markup churns, so the fallbacks matter.
type Selectors struct {
	PostCards     schemas.SelectorSet
	PostText      schemas.SelectorSet
	LikeButtons   schemas.SelectorSet
	ReplyButtons  schemas.SelectorSet
	FollowButtons schemas.SelectorSet
	ReplyBox      schemas.SelectorSet
	ReplySubmit   schemas.SelectorSet
	// ReplySubmitAlternate is tried once after the primary submit chain
	// exhausts its polling budget.
	ReplySubmitAlternate schemas.SelectorSet
}

// DefaultSelectors targets the X/Twitter web UI.
func DefaultSelectors() Selectors {
	return Selectors{
		PostCards: schemas.SelectorSet{
			`article[data-testid="tweet"]`,
			`article[role="article"]`,
		},
		PostText: schemas.SelectorSet{
			`[data-testid="tweetText"]`,
			`article[role="article"] div[lang]`,
		},
		LikeButtons: schemas.SelectorSet{
			`[data-testid="like"]`,
			`button[aria-label*="Like"]`,
		},
		ReplyButtons: schemas.SelectorSet{
			`[data-testid="reply"]`,
			`button[aria-label*="Reply"]`,
		},
		FollowButtons: schemas.SelectorSet{
			`[data-testid$="-follow"]`,
			`button[aria-label^="Follow"]`,
		},
		ReplyBox: schemas.SelectorSet{
			`[data-testid="tweetTextarea_0"]`,
			`div[role="textbox"][contenteditable="true"]`,
		},
		ReplySubmit: schemas.SelectorSet{
			`[data-testid="tweetButton"]`,
		},
		ReplySubmitAlternate: schemas.SelectorSet{
			`[data-testid="tweetButtonInline"]`,
			`button[type="submit"]`,
		},
	}
}
