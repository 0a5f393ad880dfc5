// Command invload seeds the inventory store with sample data. Items whose
// name is already present are skipped, so the loader is safe to re-run.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.uber.org/zap"

	"inventoryd/internal/config"
	"inventoryd/internal/inventory"
	"inventoryd/internal/service"
	"inventoryd/internal/store"
	"inventoryd/internal/store/badgerstore"
	"inventoryd/internal/store/dynamostore"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	dataPath := flag.String("file", "sample_data.json", "path to sample data JSON file")
	batchSize := flag.Int("batch-size", 10, "items per create batch")
	pause := flag.Duration("pause", 200*time.Millisecond, "pause between batches")
	ensureTable := flag.Bool("ensure-table", false, "create the DynamoDB table if missing")
	flag.Parse()

	if err := run(context.Background(), *configPath, *dataPath, *batchSize, *pause, *ensureTable); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, configPath, dataPath string, batchSize int, pause time.Duration, ensureTable bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if ensureTable {
		ds, ok := st.(*dynamostore.Store)
		if !ok {
			return fmt.Errorf("-ensure-table requires the dynamodb backend")
		}
		if err := ds.EnsureTable(ctx); err != nil {
			return err
		}
		logger.Info("table ready", zap.String("table", cfg.DynamoDB.Table))
	}

	items, err := readItems(dataPath)
	if err != nil {
		return err
	}
	logger.Info("loaded sample file", zap.String("file", dataPath), zap.Int("items", len(items)))

	svc := service.New(st, logger)

	existing, err := existingNames(ctx, svc)
	if err != nil {
		return err
	}
	logger.Info("found existing items", zap.Int("count", len(existing)))

	var toInsert []inventory.Item
	for _, item := range items {
		if existing[item.Name] {
			logger.Info("skipping existing item", zap.String("name", item.Name))
			continue
		}
		toInsert = append(toInsert, item)
	}

	var inserted int
	for start := 0; start < len(toInsert); start += batchSize {
		end := min(start+batchSize, len(toInsert))
		created, err := svc.BatchCreate(ctx, toInsert[start:end])
		if err != nil {
			return fmt.Errorf("insert batch starting at %d: %w", start, err)
		}
		inserted += len(created)
		if end < len(toInsert) {
			time.Sleep(pause)
		}
	}
	logger.Info("done", zap.Int("inserted", inserted), zap.Int("skipped", len(items)-len(toInsert)))
	return nil
}

func readItems(path string) ([]inventory.Item, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sample data: %w", err)
	}
	var items []inventory.Item
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("parse sample data: %w", err)
	}
	return items, nil
}

// existingNames pages through the whole store collecting item names.
func existingNames(ctx context.Context, svc *service.InventoryService) (map[string]bool, error) {
	names := make(map[string]bool)
	token := ""
	for {
		page, err := svc.List(ctx, "", service.MaxPageSize, token)
		if err != nil {
			return nil, fmt.Errorf("list existing items: %w", err)
		}
		for _, item := range page.Items {
			names[item.Name] = true
		}
		if page.NextToken == "" {
			return names, nil
		}
		token = page.NextToken
	}
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendBadger:
		return badgerstore.Open(badgerstore.Options{Path: cfg.Badger.Path})
	case config.BackendDynamo:
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.DynamoDB.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.DynamoDB.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		if cfg.DynamoDB.AssumeRoleARN != "" {
			awsCfg.Credentials = stscreds.NewAssumeRoleProvider(sts.NewFromConfig(awsCfg), cfg.DynamoDB.AssumeRoleARN)
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.DynamoDB.Endpoint != "" {
				o.BaseEndpoint = &cfg.DynamoDB.Endpoint
			}
		})
		return dynamostore.New(client, cfg.DynamoDB.Table), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
