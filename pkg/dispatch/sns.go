package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// snsClient defines the minimal subset of the SNS client used by snsDispatcher.
type snsClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// snsDispatcher implements the Dispatcher interface for AWS SNS.
type snsDispatcher struct {
	id       string
	typ      string
	topicARN string
	client   snsClient
	log      Logger
}

// newSNSDispatcher creates a new SNS dispatcher with the given configuration.
func newSNSDispatcher(ctx context.Context, cfg DispatcherConfig, log Logger) (Dispatcher, error) {
	if cfg.SNS == nil {
		return nil, fmt.Errorf("dispatcher %q missing sns configuration", cfg.ID)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	awsCfg, err := loadAWSConfig(ctx, cfg.SNS.Region, cfg.SNS.AccessKeyID, cfg.SNS.SecretAccessKey)
	if err != nil {
		return nil, err
	}

	return &snsDispatcher{
		id:       cfg.ID,
		typ:      TypeSNS,
		topicARN: cfg.SNS.TopicARN,
		client:   sns.NewFromConfig(awsCfg),
		log:      ensureLogger(log),
	}, nil
}

func (s *snsDispatcher) ID() string   { return s.id }
func (s *snsDispatcher) Type() string { return s.typ }

// Send publishes the event to the configured SNS topic.
func (s *snsDispatcher) Send(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"subscription_key": {
				DataType:    aws.String("String"),
				StringValue: aws.String(evt.SubscriptionKey),
			},
		},
	}

	if _, err := s.client.Publish(ctx, input); err != nil {
		s.log.ErrorObj("sns dispatcher publish failed", "dispatcher_sns_error", map[string]any{
			"dispatcher_id": s.id,
			"error":         err.Error(),
		})
		return fmt.Errorf("publish to sns: %w", err)
	}
	s.log.DebugObj("sns dispatcher delivered event", "dispatcher_sns_delivery", map[string]any{
		"dispatcher_id": s.id,
		"work_id":       evt.Work.ID,
	})
	return nil
}
