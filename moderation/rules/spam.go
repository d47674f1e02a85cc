package rules

import (
	"fmt"
	"strings"

	"github.com/bluesky-social/flagd/models"
	"github.com/bluesky-social/flagd/moderation/keyword"
)

// https://en.wikipedia.org/wiki/GTUBE
var gtubeString = "XJS*C4JDBQADN1.NSBN3*2IDNEN*GTUBE-STANDARD-ANTI-UBE-TEST-EMAIL*C.34X"

var _ RuleFunc = GtubeRule

func GtubeRule(c *RuleContext) error {
	if strings.Contains(c.Subject.Text, gtubeString) {
		c.Flag(models.ReasonSpam, "gtube")
	}
	return nil
}

// posts with at least this many links are treated as link spam
var linkSpamThreshold = 3

var _ RuleFunc = LinkSpamRule

func LinkSpamRule(c *RuleContext) error {
	if n := keyword.CountURLs(c.Subject.Text); n >= linkSpamThreshold {
		c.Flag(models.ReasonSpam, fmt.Sprintf("link-spam: %d links", n))
	}
	return nil
}
