package cloud

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

const (
	maxSubjectLen = 100
	alertTimeout  = 5 * time.Second
)

type SNSPublishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier publishes operator alerts to a topic.
type SNSNotifier struct {
	svc      SNSPublishAPI
	topicArn string
}

func NewSNSNotifier(cfg aws.Config, topicArn string) *SNSNotifier {
	return NewSNSNotifierWithAPI(sns.NewFromConfig(cfg), topicArn)
}

func NewSNSNotifierWithAPI(svc SNSPublishAPI, topicArn string) *SNSNotifier {
	return &SNSNotifier{svc: svc, topicArn: topicArn}
}

func (n *SNSNotifier) SendAlert(subject, message string) error {
	// SNS rejects subjects over 100 characters
	if len(subject) > maxSubjectLen {
		subject = subject[:maxSubjectLen]
	}

	ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
	defer cancel()

	_, err := n.svc.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicArn),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	})
	if err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}
