package cmd

import (
	"os"

	"github.com/spf13/viper"

	"rolemint/pkg/dataset"
	"rolemint/pkg/llm"
	"rolemint/pkg/roles"
)

// services bundles the per-process orchestrator instances every subcommand
// works against.
type services struct {
	data      *dataset.Consolidator
	llm       *llm.Client
	single    *roles.Generator
	multi     *roles.OptionsGenerator
	inputDir  string
	outputDir string
}

func newServices() *services {
	inputDir := viper.GetString("data.input_dir")
	outputDir := viper.GetString("data.output_dir")

	apiKey := viper.GetString("openai.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	client := llm.NewClient(llm.Config{
		APIKey:      apiKey,
		Model:       viper.GetString("openai.model"),
		Endpoint:    viper.GetString("openai.endpoint"),
		Temperature: viper.GetFloat64("llm.temperature"),
		MaxTokens:   viper.GetInt("llm.max_tokens"),
	})

	data := dataset.New(inputDir)
	return &services{
		data:      data,
		llm:       client,
		single:    roles.NewGenerator(data, client, outputDir),
		multi:     roles.NewOptionsGenerator(data, client, outputDir),
		inputDir:  inputDir,
		outputDir: outputDir,
	}
}
