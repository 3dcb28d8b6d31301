package classifier

// DefaultTaxonomy is the built-in taxonomy shipped with keel. Deployments
// normally load a calibrated taxonomy from configuration; this one covers
// the categories the default policies reference. Weights and prevalence
// values come from incident-corpus calibration and are expected to be
// re-tuned, not reproduced.
func DefaultTaxonomy() *Taxonomy {
	return &Taxonomy{
		Categories: []CategorySpec{
			{
				Name:       CategoryMisuse,
				Prevalence: 1.5,
				Priority:   0,
				Signals: []Signal{
					{Pattern: `prompt\s+injection`, Weight: 3},
					{Pattern: `ignore\s+(all\s+)?previous\s+instructions`, Weight: 3},
					{Pattern: `jailbreak`, Weight: 2.5},
					{Pattern: `bypass\s+(the\s+)?safety`, Weight: 2.5},
					{Pattern: `model\s+inversion`, Weight: 2},
					{Pattern: `disable\s+(the\s+)?guardrails?`, Weight: 2},
				},
				SubCategories: []SubCategory{
					{Name: "prompt-injection", Signals: []Signal{
						{Pattern: `prompt\s+injection`, Weight: 2},
						{Pattern: `ignore\s+(all\s+)?previous\s+instructions`, Weight: 2},
					}},
					{Name: "model-inversion", Signals: []Signal{
						{Pattern: `model\s+inversion`, Weight: 2},
						{Pattern: `reconstruct\s+training\s+data`, Weight: 2},
					}},
					{Name: "jailbreak", Signals: []Signal{
						{Pattern: `jailbreak`, Weight: 2},
						{Pattern: `bypass\s+(the\s+)?safety`, Weight: 1},
					}},
				},
			},
			{
				Name:       CategoryBias,
				Prevalence: 1.2,
				Priority:   1,
				Signals: []Signal{
					{Pattern: `redlin(e|ing)`, Weight: 3},
					{Pattern: `exclude\s+.*\b(postal|zip)\s+code`, Weight: 2.5},
					{Pattern: `protected\s+characteristic`, Weight: 2},
					{Pattern: `filter\s+.*\bby\s+(race|gender|religion|ethnicity)`, Weight: 3},
					{Pattern: `social\s+scoring`, Weight: 2.5},
				},
				SubCategories: []SubCategory{
					{Name: "redlining", Signals: []Signal{
						{Pattern: `redlin(e|ing)`, Weight: 2},
						{Pattern: `(postal|zip)\s+code`, Weight: 1},
					}},
					{Name: "proxy-discrimination", Signals: []Signal{
						{Pattern: `proxy\s+variable`, Weight: 2},
						{Pattern: `neighborhood\s+score`, Weight: 1},
					}},
				},
			},
			{
				Name:       CategoryDataExfiltration,
				Prevalence: 1.1,
				Priority:   2,
				Signals: []Signal{
					{Pattern: `exfiltrat`, Weight: 3},
					{Pattern: `dump\s+(the\s+)?database`, Weight: 2.5},
					{Pattern: `export\s+all\s+(user|customer)\s+(data|records)`, Weight: 2.5},
					{Pattern: `scrape\s+.*personal\s+data`, Weight: 2},
				},
				SubCategories: []SubCategory{
					{Name: "bulk-export", Signals: []Signal{
						{Pattern: `(dump|export)\s+`, Weight: 1},
					}},
					{Name: "covert-channel", Signals: []Signal{
						{Pattern: `exfiltrat`, Weight: 1},
						{Pattern: `encode\s+.*in\s+(dns|headers)`, Weight: 2},
					}},
				},
			},
			{
				Name:       CategoryPrivacyViolation,
				Prevalence: 1.0,
				Priority:   3,
				Signals: []Signal{
					{Pattern: `facial\s+recognition`, Weight: 2.5},
					{Pattern: `biometric\s+(identification|categoriz)`, Weight: 2.5},
					{Pattern: `track\s+.*without\s+consent`, Weight: 2.5},
					{Pattern: `covert\s+surveillance`, Weight: 3},
				},
			},
			{
				Name:       CategoryUnreliableOutput,
				Prevalence: 0.9,
				Priority:   4,
				Signals: []Signal{
					{Pattern: `fabricated?\s+citation`, Weight: 2},
					{Pattern: `unverified\s+(medical|legal)\s+advice`, Weight: 2.5},
					{Pattern: `diagnos(e|is)\s+without\s+(review|oversight)`, Weight: 2.5},
					{Pattern: `hallucinat`, Weight: 1.5},
				},
			},
		},
		SafePatterns: []SafePattern{
			{
				Sector:     "education",
				Pattern:    `need-based\s+allocation\s+by\s+(postal|zip)\s+code`,
				Suppresses: []Category{CategoryBias},
			},
			{
				Sector:     "healthcare",
				Pattern:    `approved\s+clinical\s+triage\s+protocol`,
				Suppresses: []Category{CategoryUnreliableOutput},
			},
		},
	}
}

// Default returns a Classifier compiled from the built-in taxonomy.
func Default() *Classifier {
	c, err := New(DefaultTaxonomy())
	if err != nil {
		// The built-in taxonomy is compiled in tests; a failure here is a
		// programming error.
		panic(err)
	}
	return c
}
