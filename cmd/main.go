package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"conversion-relay/handler"
	"conversion-relay/internal/config"
	"conversion-relay/internal/integrations/googleads"
	"conversion-relay/internal/integrations/paramstore"
	"conversion-relay/internal/repository"
	"conversion-relay/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	conf, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: conf.SlogLevel()}))
	slog.SetDefault(logger)

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fatal(logger, "failed to load AWS config", err)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		fatal(logger, "failed to create SSM client", err)
	}
	dynamoClient := awsdynamodb.NewFromConfig(awsCfg)
	conversions, err := repository.NewConversionStore(dynamoClient, conf.ConversionsTable, repository.WithLogger(logger))
	if err != nil {
		fatal(logger, "failed to create conversion store", err)
	}
	campaigns, err := repository.NewCampaignDirectory(dynamoClient, conf.CampaignsTable)
	if err != nil {
		fatal(logger, "failed to create campaign directory", err)
	}

	adsClient, err := googleads.NewClient(ssmClient, conf.CredentialsParam(),
		googleads.WithAPIVersion(conf.GoogleAdsAPIVersion),
		googleads.WithHTTPClient(&http.Client{Timeout: conf.UploadTimeout}),
	)
	if err != nil {
		fatal(logger, "failed to create Google Ads client", err)
	}

	// ---- Handler ----
	recorder, err := usecase.NewRecorder(conversions, campaigns, adsClient,
		usecase.WithLogger(logger),
		usecase.WithTestMode(conf.TestMode),
	)
	if err != nil {
		fatal(logger, "failed to create recorder", err)
	}
	scanner, err := usecase.NewRetryScanner(conversions, recorder, conf.MaxAttempts, conf.RetryConcurrency, logger)
	if err != nil {
		fatal(logger, "failed to create retry scanner", err)
	}

	// The seeding route rewrites campaign mappings and stays off unless enabled.
	var seeder handler.CampaignSeeder
	if conf.CampaignSeeding {
		seeder = campaigns
	}

	h, err := handler.NewHandler(recorder, scanner, seeder, logger)
	if err != nil {
		fatal(logger, "failed to create handler", err)
	}

	lambda.Start(h.Handle)
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}
