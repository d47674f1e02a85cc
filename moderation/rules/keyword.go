package rules

import (
	"fmt"

	"github.com/bluesky-social/flagd/models"
	"github.com/bluesky-social/flagd/moderation/keyword"
)

var _ RuleFunc = HateSpeechWordRule

func wordSetRule(c *RuleContext, set string, reason models.Reason) {
	if c.Subject.Text == "" {
		return
	}
	tok := keyword.FirstMatch(keyword.TokenizeText(c.Subject.Text), func(tok string) bool {
		return c.InSet(set, tok)
	})
	if tok != "" {
		c.Flag(reason, fmt.Sprintf("%s: %s", set, tok))
	}
}

func HateSpeechWordRule(c *RuleContext) error {
	wordSetRule(c, "hate-words", models.ReasonHateSpeech)
	return nil
}

var _ RuleFunc = HateSpeechIdentifierRule

func HateSpeechIdentifierRule(c *RuleContext) error {
	if c.Subject.Ident == "" {
		return nil
	}
	for _, tok := range keyword.TokenizeIdentifier(c.Subject.Ident) {
		if c.InSet("hate-words", tok) {
			c.Flag(models.ReasonHateSpeech, fmt.Sprintf("hate-words identifier: %s", tok))
			break
		}
	}
	return nil
}

var _ RuleFunc = InappropriateWordRule

func InappropriateWordRule(c *RuleContext) error {
	wordSetRule(c, "inappropriate-words", models.ReasonInappropriate)
	return nil
}

var _ RuleFunc = SpamWordRule

func SpamWordRule(c *RuleContext) error {
	wordSetRule(c, "spam-words", models.ReasonSpam)
	return nil
}
