package regulatory

// DefaultTable is the built-in penalty table. Exposure figures are
// statutory maxima in EUR for the EU and USD for the US; operators with
// jurisdiction-specific counsel should load their own table instead.
func DefaultTable() Table {
	return Table{
		Aggregation: map[Jurisdiction]Aggregation{
			JurisdictionEU: AggregationMax,
			JurisdictionUS: AggregationStack,
			JurisdictionUK: AggregationMax,
		},
		Penalties: []Penalty{
			{
				Category:     "discriminatory-bias",
				Jurisdiction: JurisdictionEU,
				Statute:      "AI Act Art. 5 / Art. 99(3)",
				MinExposure:  7_500_000,
				MaxExposure:  35_000_000,
				Description:  "prohibited-practice tier for discriminatory social scoring",
			},
			{
				Category:     "discriminatory-bias",
				Jurisdiction: JurisdictionUS,
				Statute:      "ECOA 15 U.S.C. §1691e",
				MinExposure:  10_000,
				MaxExposure:  500_000,
				Description:  "credit discrimination, punitive damages per class action",
			},
			{
				Category:     "discriminatory-bias",
				Jurisdiction: JurisdictionUS,
				Statute:      "Fair Housing Act 42 U.S.C. §3614",
				MinExposure:  16_000,
				MaxExposure:  2_000_000,
				Description:  "pattern-or-practice redlining in lending",
			},
			{
				Category:     "privacy-violation",
				Jurisdiction: JurisdictionEU,
				Statute:      "GDPR Art. 83(5)",
				MinExposure:  0,
				MaxExposure:  20_000_000,
				Description:  "or 4% of global annual turnover, whichever is higher",
			},
			{
				Category:     "privacy-violation",
				Jurisdiction: JurisdictionUS,
				Statute:      "CCPA Cal. Civ. Code §1798.155",
				MinExposure:  2_500,
				MaxExposure:  7_500,
				Description:  "per intentional violation",
			},
			{
				Category:     "data-exfiltration",
				Jurisdiction: JurisdictionEU,
				Statute:      "GDPR Art. 83(4)",
				MinExposure:  0,
				MaxExposure:  10_000_000,
				Description:  "inadequate security of processing",
			},
			{
				Category:     "data-exfiltration",
				Jurisdiction: JurisdictionUS,
				Statute:      "HIPAA 45 C.F.R. §160.404",
				MinExposure:  141,
				MaxExposure:  2_134_831,
				Description:  "per violation category, annual cap",
			},
			{
				Category:     "misuse",
				Jurisdiction: JurisdictionEU,
				Statute:      "AI Act Art. 99(4)",
				MinExposure:  0,
				MaxExposure:  15_000_000,
				Description:  "non-compliance with high-risk system obligations",
			},
			{
				Category:     "misuse",
				Jurisdiction: JurisdictionUS,
				Statute:      "FTC Act 15 U.S.C. §45",
				MinExposure:  0,
				MaxExposure:  50_120,
				Description:  "per violation, unfair or deceptive practices",
			},
			{
				Category:     "unreliable-output",
				Jurisdiction: JurisdictionEU,
				Statute:      "AI Act Art. 99(4)",
				MinExposure:  0,
				MaxExposure:  15_000_000,
				Description:  "accuracy and robustness obligations",
			},
		},
	}
}

// Default returns a Calculator over the built-in table.
func Default() *Calculator {
	return NewCalculator(DefaultTable())
}
