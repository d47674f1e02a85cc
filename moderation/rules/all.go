package rules

// Rules applied by default, in precedence order.
func DefaultRules() RuleSet {
	return RuleSet{
		Rules: []RuleFunc{
			HateSpeechWordRule,
			HateSpeechIdentifierRule,
			InappropriateWordRule,
			GtubeRule,
			SpamWordRule,
			LinkSpamRule,
		},
	}
}

// Built-in word sets. Deployments extend or replace these with a sets file.
func DefaultSets() map[string][]string {
	return map[string][]string{
		"spam-words": {
			"casino",
			"giveaway",
			"airdrop",
			"viagra",
			"followback",
			"f4f",
		},
		"inappropriate-words": {
			"nsfw",
			"porn",
			"xxx",
			"onlyfans",
		},
		// intentionally empty; populated from the sets file
		"hate-words": {},
	}
}
