package testspec

// Builtin returns the shipped catalog. Panics on a malformed entry, which
// is a programming error caught by the catalog tests.
func Builtin() *Catalog {
	c, err := NewCatalog(builtinSpecs)
	if err != nil {
		panic(err)
	}
	return c
}

var builtinSpecs = []Spec{
	{
		ID:         "TEST-SCOPE-001",
		Name:       "Explicit private scope sigil",
		Category:   CategoryScope,
		FixtureRef: "scope/TEST-SCOPE-001.json",
		Input: Input{
			Type: InputText,
			Text: "[TEST-SCOPE-001] ~private This is a personal health note",
		},
		Expect: Expectations{
			RequiredTags:  []string{"scope/private"},
			ForbiddenTags: []string{"scope/work"},
		},
	},
	{
		ID:         "TEST-SCOPE-002",
		Name:       "Explicit work scope sigil",
		Category:   CategoryScope,
		FixtureRef: "scope/TEST-SCOPE-002.json",
		Input: Input{
			Type: InputText,
			Text: "[TEST-SCOPE-002] ~work Quarterly planning prep",
		},
		Expect: Expectations{
			RequiredTags:  []string{"scope/work"},
			ForbiddenTags: []string{"scope/private"},
		},
	},
	{
		ID:         "TEST-DATE-001",
		Name:       "Explicit target file date",
		Category:   CategoryDate,
		FixtureRef: "date/TEST-DATE-001.json",
		Input: Input{
			Type: InputText,
			Text: "[TEST-DATE-001] [date:2026-03-14] Pi day prep list",
		},
		Expect: Expectations{
			FileDate:    "2026-03-14",
			Frontmatter: map[string]string{"date": "2026-03-14"},
		},
	},
	{
		ID:         "TEST-ARC-001",
		Name:       "Receipt document archived",
		Category:   CategoryArchive,
		FixtureRef: "archive/TEST-ARC-001.json",
		Input: Input{
			Type:  InputDocument,
			Text:  "[TEST-ARC-001] archive this receipt",
			Asset: "receipt-home.pdf",
		},
		Expect: Expectations{
			Pipeline:       "archive",
			ArchivePattern: `^RECEIPT\s*-\s*\d{8}\s*-.*HOME`,
			ArchiveSynced:  true,
			Severity:       "info",
			NotifyFields:   []string{"dropbox_path"},
		},
	},
	{
		ID:         "TEST-REG-003",
		Name:       "Hashtag and shortcut metadata hints",
		Category:   CategoryRegression,
		Group:      "hints",
		FixtureRef: "regression/TEST-REG-003.json",
		Input: Input{
			Type: InputText,
			Text: "[TEST-REG-003] #project/pai #ed_overy [source_shortcut:voice-memo][source_device:mac] Follow up on PR 123",
		},
		Expect: Expectations{
			RequiredTags: []string{"project/pai", "ed_overy"},
			Frontmatter: map[string]string{
				"source_shortcut": "voice-memo",
				"source_device":   "mac",
			},
			ContentContains: []string{"Follow up on PR 123"},
			Semantic: &SemanticSpec{
				Description: "Metadata hints are extracted and removed from the note body",
				Checkpoints: []string{
					"The note body does not contain literal [source_shortcut:...] markers",
					"The hashtags became tags rather than staying inline noise",
					"The remaining body reads as the original reminder",
				},
				TargetClass: "raw",
			},
		},
	},
	{
		ID:         "TEST-PAT-001",
		Name:       "Pattern note restructured",
		Category:   CategoryRegression,
		Group:      "pattern",
		FixtureRef: "regression/TEST-PAT-001.json",
		Input: Input{
			Type: InputText,
			Text: "[TEST-PAT-001] Whenever deploys fail on Friday we end up debugging all weekend",
		},
		Expect: Expectations{
			ContentContains: []string{"TEST-PAT-001"},
			Semantic: &SemanticSpec{
				Description: "The derived note names the recurring pattern and its trigger",
				Checkpoints: []string{
					"The note identifies a recurring cause-effect pattern",
					"The trigger (Friday deploys) is called out explicitly",
				},
				TargetClass: "derived",
				Threshold:   80,
			},
		},
	},
	{
		ID:         "TEST-VOICE-002",
		Name:       "Voice memo with spoken identifier",
		Category:   CategoryAcceptance,
		Group:      "voice",
		FixtureRef: "acceptance/TEST-VOICE-002.json",
		Input: Input{
			Type:  InputVoice,
			Text:  "Test voice zero zero two, hashtag project pai",
			Asset: "test-voice-002.ogg",
		},
		Expect: Expectations{
			RequiredTags:    []string{"project/pai"},
			ContentContains: []string{"TEST-VOICE-002"},
		},
		TimeoutMS: 180_000,
	},
	{
		ID:         "TEST-CLI-001",
		Name:       "Verbose notification carries processing detail",
		Category:   CategoryCLI,
		FixtureRef: "cli/TEST-CLI-001.json",
		Input: Input{
			Type: InputText,
			Text: "[TEST-CLI-001] plain note for verbose output",
		},
		Expect: Expectations{
			VerboseContains: []string{"pipeline", "output_paths"},
			NotifyFields:    []string{"status", "pipeline", "output_paths"},
		},
	},
	{
		ID:         "TEST-INT-001",
		Name:       "End to end text ingest",
		Category:   CategoryIntegration,
		FixtureRef: "integration/TEST-INT-001.json",
		Input: Input{
			Type: InputText,
			Text: "[TEST-INT-001] end to end smoke note",
		},
		Expect: Expectations{
			RequiredTags:    []string{"incoming"},
			ContentContains: []string{"smoke note"},
			Severity:        "info",
		},
	},
}
