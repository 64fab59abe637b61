package config

// Demo returns the built-in providers and pipelines used when no pipelines
// are configured. They run entirely on builtin transforms.
func Demo() *Config {
	return &Config{
		Providers: []ProviderConfig{
			{Name: "builtin-upper", Type: "builtin", Op: "upper"},
			{Name: "builtin-reverse", Type: "builtin", Op: "reverse"},
			{Name: "builtin-exclaim", Type: "builtin", Op: "exclaim"},
		},
		Pipelines: []PipelineConfig{
			{
				Name:        "shout",
				Description: "Upper-cases, reverses and exclaims the message",
				Input:       DefaultInputField,
				Stages: []StageConfig{
					{ID: "upper", Label: "Upper case", Input: "message", Output: "upperText", Providers: []string{"builtin-upper"}},
					{ID: "reverse", Label: "Reverse", Input: "upperText", Output: "reversedText", Providers: []string{"builtin-reverse"}},
					{ID: "exclaim", Label: "Exclaim", Input: "reversedText", Output: "result", Providers: []string{"builtin-exclaim"}},
				},
			},
		},
	}
}
