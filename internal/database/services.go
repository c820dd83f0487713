package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imyashkale/mcpdeploy/internal/logger"
	"github.com/imyashkale/mcpdeploy/internal/models"
)

// ServiceTable handles all DynamoDB operations for service records
type ServiceTable struct {
	client    *Client
	tableName string
}

// NewServiceTable creates a new ServiceTable instance
func NewServiceTable(client *Client, tableName string) *ServiceTable {
	return &ServiceTable{
		client:    client,
		tableName: tableName,
	}
}

// serviceItem is the DynamoDB shape of a service record
type serviceItem struct {
	Id               string                       `dynamodbav:"Id"`
	UserId           string                       `dynamodbav:"UserId"`
	ServiceId        string                       `dynamodbav:"ServiceId"`
	DeployId         string                       `dynamodbav:"DeployId"`
	Name             string                       `dynamodbav:"Name"`
	Repository       string                       `dynamodbav:"Repository"`
	Branch           string                       `dynamodbav:"Branch"`
	BuildCommand     string                       `dynamodbav:"BuildCommand"`
	StartCommand     string                       `dynamodbav:"StartCommand"`
	RootDir          string                       `dynamodbav:"RootDir"`
	Runtime          string                       `dynamodbav:"Runtime"`
	Plan             string                       `dynamodbav:"Plan"`
	EnvVars          []models.EnvironmentVariable `dynamodbav:"Envs"`
	Status           string                       `dynamodbav:"Status"`
	URL              string                       `dynamodbav:"URL"`
	Tools            []models.ToolDescriptor      `dynamodbav:"Tools"`
	Description      string                       `dynamodbav:"Description"`
	AdvertisedEnv    map[string]string            `dynamodbav:"AdvertisedEnv,omitempty"`
	LastDiscoveredAt int64                        `dynamodbav:"LastDiscoveredAt,omitempty"`
	CreatedAt        int64                        `dynamodbav:"CreatedAt"`
	UpdatedAt        int64                        `dynamodbav:"UpdatedAt"`
}

func toServiceItem(r *models.ServiceRecord) serviceItem {
	item := serviceItem{
		Id:            r.Id,
		UserId:        r.UserId,
		ServiceId:     r.ServiceId,
		DeployId:      r.DeployId,
		Name:          r.Name,
		Repository:    r.Repository,
		Branch:        r.Branch,
		BuildCommand:  r.BuildCommand,
		StartCommand:  r.StartCommand,
		RootDir:       r.RootDir,
		Runtime:       r.Runtime,
		Plan:          r.Plan,
		EnvVars:       r.EnvVars,
		Status:        string(r.Status),
		URL:           r.URL,
		Tools:         r.Tools,
		Description:   r.Description,
		AdvertisedEnv: r.AdvertisedEnv,
		CreatedAt:     r.CreatedAt.Unix(),
		UpdatedAt:     r.UpdatedAt.Unix(),
	}
	if r.LastDiscoveredAt != nil {
		item.LastDiscoveredAt = r.LastDiscoveredAt.Unix()
	}
	return item
}

func (it serviceItem) toRecord() *models.ServiceRecord {
	r := &models.ServiceRecord{
		Id:            it.Id,
		UserId:        it.UserId,
		ServiceId:     it.ServiceId,
		DeployId:      it.DeployId,
		Name:          it.Name,
		Repository:    it.Repository,
		Branch:        it.Branch,
		BuildCommand:  it.BuildCommand,
		StartCommand:  it.StartCommand,
		RootDir:       it.RootDir,
		Runtime:       it.Runtime,
		Plan:          it.Plan,
		EnvVars:       it.EnvVars,
		Status:        models.DeploymentStatus(it.Status),
		URL:           it.URL,
		Tools:         it.Tools,
		Description:   it.Description,
		AdvertisedEnv: it.AdvertisedEnv,
		CreatedAt:     time.Unix(it.CreatedAt, 0),
		UpdatedAt:     time.Unix(it.UpdatedAt, 0),
	}
	if it.LastDiscoveredAt > 0 {
		t := time.Unix(it.LastDiscoveredAt, 0)
		r.LastDiscoveredAt = &t
	}
	return r
}

// CreateService stores a new service record
func (st *ServiceTable) CreateService(ctx context.Context, record *models.ServiceRecord) error {
	av, err := attributevalue.MarshalMap(toServiceItem(record))
	if err != nil {
		return fmt.Errorf("failed to marshal service record: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"record_id": record.Id,
		"name":      record.Name,
	}).Debug("Creating service record in DynamoDB")

	_, err = st.client.DynamoDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(st.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(Id)"),
	})

	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create service record: %w", err)
	}

	return nil
}

// GetService retrieves a service record by ID
func (st *ServiceTable) GetService(ctx context.Context, id string) (*models.ServiceRecord, error) {
	result, err := st.client.DynamoDB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(st.tableName),
		Key: map[string]types.AttributeValue{
			"Id": &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: aws.Bool(true),
	})

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"record_id": id,
			"error":     err.Error(),
		}).Error("Failed to get service record from DynamoDB")
		return nil, fmt.Errorf("failed to get service record: %w", err)
	}

	if result.Item == nil {
		return nil, ErrNotFound
	}

	return unmarshalServiceItem(result.Item)
}

// ListServices returns every service record
func (st *ServiceTable) ListServices(ctx context.Context) ([]*models.ServiceRecord, error) {
	return st.scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(st.tableName),
	})
}

// ListServicesByUserId returns the service records owned by a user
func (st *ServiceTable) ListServicesByUserId(ctx context.Context, userId string) ([]*models.ServiceRecord, error) {
	return st.scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(st.tableName),
		FilterExpression: aws.String("UserId = :userId"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":userId": &types.AttributeValueMemberS{Value: userId},
		},
	})
}

func (st *ServiceTable) scan(ctx context.Context, input *dynamodb.ScanInput) ([]*models.ServiceRecord, error) {
	records := make([]*models.ServiceRecord, 0)

	paginator := dynamodb.NewScanPaginator(st.client.DynamoDB, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service records: %w", err)
		}
		for _, item := range page.Items {
			record, err := unmarshalServiceItem(item)
			if err != nil {
				return nil, err
			}
			records = append(records, record)
		}
	}

	return records, nil
}

// UpdateService applies a partial update in one conditional write. A status
// change on a record already in a terminal status fails with ErrTerminalState.
func (st *ServiceTable) UpdateService(ctx context.Context, id string, patch *models.ServicePatch, now time.Time) (*models.ServiceRecord, error) {
	names := map[string]string{"#id": "Id"}
	values := map[string]types.AttributeValue{
		":updated_at": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Unix())},
	}
	sets := []string{"UpdatedAt = :updated_at"}
	condition := "attribute_exists(#id)"

	if patch.Status != nil {
		names["#status"] = "Status"
		values[":status"] = &types.AttributeValueMemberS{Value: string(*patch.Status)}
		sets = append(sets, "#status = :status")

		terminal := models.TerminalStatuses()
		placeholders := make([]string, 0, len(terminal))
		for i, s := range terminal {
			key := fmt.Sprintf(":t%d", i)
			placeholders = append(placeholders, key)
			values[key] = &types.AttributeValueMemberS{Value: string(s)}
		}
		condition += fmt.Sprintf(" AND (#status = :status OR NOT (#status IN (%s)))", strings.Join(placeholders, ", "))
	}
	if patch.URL != nil {
		names["#url"] = "URL"
		values[":url"] = &types.AttributeValueMemberS{Value: *patch.URL}
		sets = append(sets, "#url = :url")
	}
	if patch.Tools != nil {
		av, err := attributevalue.Marshal(*patch.Tools)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tools: %w", err)
		}
		names["#tools"] = "Tools"
		values[":tools"] = av
		sets = append(sets, "#tools = :tools")
	}
	if patch.Description != nil {
		names["#desc"] = "Description"
		values[":desc"] = &types.AttributeValueMemberS{Value: *patch.Description}
		sets = append(sets, "#desc = :desc")
	}
	if patch.AdvertisedEnv != nil {
		av, err := attributevalue.Marshal(patch.AdvertisedEnv)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal advertised env: %w", err)
		}
		names["#env"] = "AdvertisedEnv"
		values[":env"] = av
		sets = append(sets, "#env = :env")
	}
	if patch.LastDiscoveredAt != nil {
		names["#discovered"] = "LastDiscoveredAt"
		values[":discovered"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", patch.LastDiscoveredAt.Unix())}
		sets = append(sets, "#discovered = :discovered")
	}

	result, err := st.client.DynamoDB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(st.tableName),
		Key: map[string]types.AttributeValue{
			"Id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:                    aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:                 aws.String(condition),
		ExpressionAttributeNames:            names,
		ExpressionAttributeValues:           values,
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})

	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return nil, ErrNotFound
			}
			logger.WithField("record_id", id).Warn("Rejected status change on terminal service record")
			return nil, ErrTerminalState
		}
		logger.WithFields(map[string]interface{}{
			"record_id": id,
			"error":     err.Error(),
		}).Error("Failed to update service record in DynamoDB")
		return nil, fmt.Errorf("failed to update service record: %w", err)
	}

	return unmarshalServiceItem(result.Attributes)
}

func unmarshalServiceItem(item map[string]types.AttributeValue) (*models.ServiceRecord, error) {
	var it serviceItem
	if err := attributevalue.UnmarshalMap(item, &it); err != nil {
		return nil, fmt.Errorf("failed to unmarshal service record: %w", err)
	}
	return it.toRecord(), nil
}
