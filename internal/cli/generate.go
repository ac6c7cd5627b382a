package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/postfactory/internal/pipeline"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run a pipeline and print the generated post",
	Long: `Run one pipeline synchronously. The request comes from --request (YAML or
JSON, the same shape as POST /v1/generate) with flags overriding its fields.

Content that did not converge is still printed; the quality threshold line says
so. Use --strict to turn that into a non-zero exit.`,
	Example: `  factory generate --topic "동구 체육관 건립" --region "부산 동구" --stage provisional_candidate
  factory generate --request req.yaml --pipeline premium --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildRequest(cmd)
		if err != nil {
			return err
		}
		if errs := req.Validate(); len(errs) > 0 {
			return fmt.Errorf("invalid request: %s", strings.Join(errs, "; "))
		}

		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, err := e.newGenerator(ctx, nil)
		if err != nil {
			return err
		}

		out, runErr := g.orch.Run(ctx, req.Pipeline, req.Context())
		if out != nil {
			format, _ := cmd.Flags().GetString("format")
			if format == "json" {
				if err := writeJSON(cmd, out); err != nil {
					return err
				}
			} else {
				printOutcome(cmd.OutOrStdout(), out)
			}
		}
		if runErr != nil {
			return runErr
		}
		strict, _ := cmd.Flags().GetBool("strict")
		if strict && !out.Metadata.QualityThresholdMet {
			return errors.New("quality threshold not met")
		}
		return nil
	},
}

// buildRequest reads --request, then applies the field flags that were set.
func buildRequest(cmd *cobra.Command) (pipeline.GenerateRequest, error) {
	var req pipeline.GenerateRequest
	flags := cmd.Flags()

	if path, _ := flags.GetString("request"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return req, fmt.Errorf("read request: %w", err)
		}
		// yaml.v3 also accepts JSON documents.
		if err := yaml.Unmarshal(data, &req); err != nil {
			return req, fmt.Errorf("parse request %s: %w", path, err)
		}
	}

	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	str("pipeline", &req.Pipeline)
	str("topic", &req.Topic)
	str("category", &req.Category)
	str("name", &req.UserProfile.Name)
	str("region", &req.UserProfile.Region)
	str("bio", &req.UserProfile.Bio)
	str("instructions", &req.Instructions)
	if flags.Changed("stage") {
		s, _ := flags.GetString("stage")
		req.UserProfile.CampaignStage = pipeline.CampaignStage(s)
	}
	if flags.Changed("keywords") {
		req.RequiredKeywords, _ = flags.GetStringSlice("keywords")
	}
	if flags.Changed("target") {
		req.TargetWordCount, _ = flags.GetInt("target")
	}
	if flags.Changed("attempt") {
		req.AttemptNumber, _ = flags.GetInt("attempt")
	}
	if path, _ := flags.GetString("background-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return req, fmt.Errorf("read background: %w", err)
		}
		req.Background = string(data)
	}
	return req, nil
}

func init() {
	f := generateCmd.Flags()
	f.String("request", "", "request file (YAML or JSON)")
	f.StringP("pipeline", "p", "", "pipeline definition (default from config)")
	f.StringP("topic", "t", "", "post topic")
	f.String("category", "", "post category, e.g. sports or 복지")
	f.String("name", "", "author name")
	f.String("region", "", "author region")
	f.String("bio", "", "author bio")
	f.String("stage", "", "campaign stage: "+strings.Join(campaignStageNames(), ", "))
	f.String("instructions", "", "extra instructions for the writer")
	f.String("background-file", "", "file with background material")
	f.StringSlice("keywords", nil, "required keywords (comma separated)")
	f.Int("target", 0, "target body length in characters")
	f.Int("attempt", 0, "attempt number, for caller-side retries")
	f.String("format", "text", "output format: text or json")
	f.Bool("strict", false, "exit non-zero when the quality threshold is not met")
}

func campaignStageNames() []string {
	names := make([]string, 0, len(pipeline.ValidCampaignStages))
	for _, s := range pipeline.ValidCampaignStages {
		names = append(names, string(s))
	}
	return names
}
