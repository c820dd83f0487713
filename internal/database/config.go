package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	appConfig "github.com/imyashkale/mcpdeploy/internal/config"
	"github.com/imyashkale/mcpdeploy/internal/logger"
)

var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned when a record already exists
	ErrAlreadyExists = errors.New("record already exists")
	// ErrTerminalState is returned when an update would move a record out of a terminal status
	ErrTerminalState = errors.New("record is in a terminal state")
)

// partitionKey is the hash key every service table must use
const partitionKey = "Id"

// Config holds the DynamoDB configuration
type Config struct {
	TableName string
	Region    string
	// Endpoint overrides the AWS endpoint, e.g. for DynamoDB Local
	Endpoint string
}

// Client wraps the DynamoDB client
type Client struct {
	DynamoDB  *dynamodb.Client
	TableName string
}

// NewConfig creates a new database configuration from the application config
func NewConfig(appCfg *appConfig.Config) *Config {
	return &Config{
		TableName: appCfg.ServicesTableName,
		Region:    appCfg.AWSRegion,
		Endpoint:  appCfg.DynamoDBEndpoint,
	}
}

// NewClient creates a DynamoDB client and checks that the service table is usable
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	if err := verifyServiceTable(ctx, dynamoClient, cfg.TableName); err != nil {
		logger.WithFields(map[string]interface{}{
			"table": cfg.TableName,
			"error": err.Error(),
		}).Warn("Could not verify service table")
	}

	return &Client{
		DynamoDB:  dynamoClient,
		TableName: cfg.TableName,
	}, nil
}

// verifyServiceTable checks the table is active and keyed on Id
func verifyServiceTable(ctx context.Context, client *dynamodb.Client, tableName string) error {
	out, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(tableName),
	})
	if err != nil {
		return fmt.Errorf("table %s does not exist or cannot be accessed: %w", tableName, err)
	}

	table := out.Table
	if table.TableStatus != types.TableStatusActive {
		return fmt.Errorf("table %s is %s", tableName, table.TableStatus)
	}
	for _, k := range table.KeySchema {
		if k.KeyType == types.KeyTypeHash && aws.ToString(k.AttributeName) != partitionKey {
			return fmt.Errorf("table %s is keyed on %s, expected %s", tableName, aws.ToString(k.AttributeName), partitionKey)
		}
	}

	logger.WithField("table", tableName).Info("DynamoDB service table verified")
	return nil
}
