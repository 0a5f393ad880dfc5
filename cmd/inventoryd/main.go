package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.uber.org/zap"

	"inventoryd/internal/api"
	"inventoryd/internal/config"
	"inventoryd/internal/service"
	"inventoryd/internal/store"
	"inventoryd/internal/store/badgerstore"
	"inventoryd/internal/store/dynamostore"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	st, err := openStore(context.Background(), cfg)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer st.Close()

	svc := service.New(st, logger)
	srv := api.NewServer(cfg.ListenAddr, svc, logger)
	if err := srv.Run(); err != nil {
		logger.Fatal("server", zap.Error(err))
	}
}

// openStore builds the configured backend. The handle is acquired once per
// process and injected; nothing below main reaches for it globally.
func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendBadger:
		return badgerstore.Open(badgerstore.Options{Path: cfg.Badger.Path})
	case config.BackendDynamo:
		client, err := newDynamoClient(ctx, cfg.DynamoDB)
		if err != nil {
			return nil, err
		}
		return dynamostore.New(client, cfg.DynamoDB.Table), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func newDynamoClient(ctx context.Context, cfg config.DynamoDBConfig) (*dynamodb.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	if cfg.AssumeRoleARN != "" {
		awsCfg.Credentials = stscreds.NewAssumeRoleProvider(sts.NewFromConfig(awsCfg), cfg.AssumeRoleARN)
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
		}
	}), nil
}
