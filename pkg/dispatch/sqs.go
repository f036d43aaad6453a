package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// sqsClient defines the minimal subset of the SQS client used by sqsDispatcher.
type sqsClient interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// sqsDispatcher implements the Dispatcher interface for AWS SQS.
type sqsDispatcher struct {
	id       string
	typ      string
	queueURL string
	client   sqsClient
	log      Logger
}

// newSQSDispatcher creates a new SQS dispatcher with the given configuration.
func newSQSDispatcher(ctx context.Context, cfg DispatcherConfig, log Logger) (Dispatcher, error) {
	if cfg.SQS == nil {
		return nil, fmt.Errorf("dispatcher %q missing sqs configuration", cfg.ID)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	awsCfg, err := loadAWSConfig(ctx, cfg.SQS.Region, cfg.SQS.AccessKeyID, cfg.SQS.SecretAccessKey)
	if err != nil {
		return nil, err
	}

	return &sqsDispatcher{
		id:       cfg.ID,
		typ:      TypeSQS,
		queueURL: cfg.SQS.QueueURL,
		client:   sqs.NewFromConfig(awsCfg),
		log:      ensureLogger(log),
	}, nil
}

func (s *sqsDispatcher) ID() string   { return s.id }
func (s *sqsDispatcher) Type() string { return s.typ }

// Send delivers the event to the configured SQS queue.
func (s *sqsDispatcher) Send(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"subscription_key": {
				DataType:    aws.String("String"),
				StringValue: aws.String(evt.SubscriptionKey),
			},
		},
	}

	if _, err := s.client.SendMessage(ctx, input); err != nil {
		s.log.ErrorObj("sqs dispatcher send failed", "dispatcher_sqs_error", map[string]any{
			"dispatcher_id": s.id,
			"error":         err.Error(),
		})
		return fmt.Errorf("send message to sqs: %w", err)
	}
	s.log.DebugObj("sqs dispatcher delivered event", "dispatcher_sqs_delivery", map[string]any{
		"dispatcher_id": s.id,
		"work_id":       evt.Work.ID,
	})
	return nil
}
