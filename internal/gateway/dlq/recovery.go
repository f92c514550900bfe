// Package dlq implements the administrative recovery operations against the
// dead-letter queue: bulk redrive back to the source queue, targeted removal
// of a single message, and a full drain. All operations are bounded by the
// caller's context and report failure as data, never as a thrown error.
package dlq

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/tradegate/internal/gateway/logging"
)

const (
	receiveBatchSize = 10
	// Short visibility timeout: scanned-but-unmatched messages become
	// visible again quickly for the next polling iteration.
	visibilityTimeoutSeconds = 5
)

// SQSAPI is the slice of the SQS client the recovery service depends on.
type SQSAPI interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	StartMessageMoveTask(ctx context.Context, params *sqs.StartMessageMoveTaskInput, optFns ...func(*sqs.Options)) (*sqs.StartMessageMoveTaskOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

type queueAddresses struct {
	sourceURL string
	sourceArn string
	dlqURL    string
	dlqArn    string
}

// RecoveryService runs the three administrative operations. Queue URLs and
// ARNs are resolved on first use and cached for the service lifetime; they
// do not change while the process runs.
type RecoveryService struct {
	client    SQSAPI
	logger    logging.ServiceLogger
	queueName string
	dlqName   string

	mu        sync.Mutex
	addresses *queueAddresses

	operations *prometheus.CounterVec
	purged     prometheus.Counter
}

// NewRecoveryService builds a recovery service for the queue/DLQ pair.
func NewRecoveryService(client SQSAPI, queueName, dlqName string, logger logging.ServiceLogger, registerer prometheus.Registerer) (*RecoveryService, error) {
	s := &RecoveryService{
		client:    client,
		logger:    logger,
		queueName: queueName,
		dlqName:   dlqName,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradegate",
			Subsystem: "dlq",
			Name:      "operations_total",
			Help:      "Total administrative DLQ operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradegate",
			Subsystem: "dlq",
			Name:      "purged_total",
			Help:      "Total messages deleted from the dead letter queue.",
		}),
	}
	if registerer != nil {
		for _, c := range []prometheus.Collector{s.operations, s.purged} {
			if err := registerer.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					return nil, err
				}
			}
		}
	}
	return s, nil
}

// resolve looks up and caches the queue URLs and ARNs. Failures are not
// cached so a transient lookup error does not poison the service.
func (s *RecoveryService) resolve(ctx context.Context) (*queueAddresses, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addresses != nil {
		return s.addresses, nil
	}

	sourceURL, sourceArn, err := s.lookupQueue(ctx, s.queueName)
	if err != nil {
		return nil, err
	}
	dlqURL, dlqArn, err := s.lookupQueue(ctx, s.dlqName)
	if err != nil {
		return nil, err
	}

	s.addresses = &queueAddresses{
		sourceURL: sourceURL,
		sourceArn: sourceArn,
		dlqURL:    dlqURL,
		dlqArn:    dlqArn,
	}
	return s.addresses, nil
}

func (s *RecoveryService) lookupQueue(ctx context.Context, name string) (queueURL, queueArn string, err error) {
	urlOut, err := s.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		return "", "", fmt.Errorf("queue url lookup for %s failed: %w", name, err)
	}
	attrOut, err := s.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       urlOut.QueueUrl,
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return "", "", fmt.Errorf("queue attribute lookup for %s failed: %w", name, err)
	}
	return aws.ToString(urlOut.QueueUrl), attrOut.Attributes[string(types.QueueAttributeNameQueueArn)], nil
}

// Redrive asks the broker to move every DLQ message back to the source
// queue. Returns true only when the broker acknowledged the move task; any
// error is logged and reported as false, never thrown.
func (s *RecoveryService) Redrive(ctx context.Context) bool {
	addresses, err := s.resolve(ctx)
	if err != nil {
		s.operations.WithLabelValues("redrive", "error").Inc()
		s.logger.Error("redrive failed during queue resolution", err, logging.LogFields{"dlq": s.dlqName})
		return false
	}

	_, err = s.client.StartMessageMoveTask(ctx, &sqs.StartMessageMoveTaskInput{
		SourceArn:      aws.String(addresses.dlqArn),
		DestinationArn: aws.String(addresses.sourceArn),
	})
	if err != nil {
		s.operations.WithLabelValues("redrive", "error").Inc()
		s.logger.Error("broker rejected message move task", err, logging.LogFields{"dlq": s.dlqName})
		return false
	}

	s.operations.WithLabelValues("redrive", "ok").Inc()
	s.logger.Info("dead letter redrive started", logging.LogFields{
		"source": addresses.sourceArn,
		"dlq":    addresses.dlqArn,
	})
	return true
}

// Remove scans the DLQ for the message with the given id and deletes it by
// its receipt handle. The broker offers no lookup by id, so this polls small
// batches under a short visibility timeout until the message is found, the
// queue presents nothing, or the context is cancelled. The receipt handle is
// consumed within the same receive cycle, never cached.
func (s *RecoveryService) Remove(ctx context.Context, messageID string) string {
	addresses, err := s.resolve(ctx)
	if err != nil {
		s.operations.WithLabelValues("remove", "error").Inc()
		s.logger.Error("remove failed during queue resolution", err, logging.LogFields{"dlq": s.dlqName})
		return fmt.Sprintf("Failed to resolve dead letter queue: %v", err)
	}

	for {
		if ctx.Err() != nil {
			s.operations.WithLabelValues("remove", "cancelled").Inc()
			return fmt.Sprintf("Cancelled before message %s was found", messageID)
		}

		received, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(addresses.dlqURL),
			MaxNumberOfMessages: receiveBatchSize,
			VisibilityTimeout:   visibilityTimeoutSeconds,
		})
		if err != nil {
			s.operations.WithLabelValues("remove", "error").Inc()
			s.logger.Error("receive failed while scanning for message", err, logging.LogFields{"message_id": messageID})
			return fmt.Sprintf("Failed to receive from dead letter queue: %v", err)
		}
		if len(received.Messages) == 0 {
			s.operations.WithLabelValues("remove", "not-found").Inc()
			return fmt.Sprintf("Message %s not found: no messages currently visible, wait for the visibility timeout and retry", messageID)
		}

		for _, m := range received.Messages {
			if aws.ToString(m.MessageId) != messageID {
				continue
			}
			_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(addresses.dlqURL),
				ReceiptHandle: m.ReceiptHandle,
			})
			if err != nil {
				s.operations.WithLabelValues("remove", "error").Inc()
				s.logger.Error("delete failed for matched message", err, logging.LogFields{"message_id": messageID})
				return fmt.Sprintf("Found message %s but failed to delete it: %v", messageID, err)
			}
			s.operations.WithLabelValues("remove", "ok").Inc()
			s.purged.Inc()
			s.logger.Info("removed message from dead letter queue", logging.LogFields{"message_id": messageID})
			return fmt.Sprintf("Removed message %s from the dead letter queue", messageID)
		}
	}
}

// Drain receives and batch-deletes every DLQ message until a receive comes
// back empty (success) or the broker fails. A partially failed batch delete
// stops the drain immediately and reports failure; removed counts what was
// actually deleted.
func (s *RecoveryService) Drain(ctx context.Context) (removed int, ok bool) {
	addresses, err := s.resolve(ctx)
	if err != nil {
		s.operations.WithLabelValues("drain", "error").Inc()
		s.logger.Error("drain failed during queue resolution", err, logging.LogFields{"dlq": s.dlqName})
		return 0, false
	}

	for {
		if ctx.Err() != nil {
			s.operations.WithLabelValues("drain", "cancelled").Inc()
			return removed, false
		}

		received, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(addresses.dlqURL),
			MaxNumberOfMessages: receiveBatchSize,
			VisibilityTimeout:   visibilityTimeoutSeconds,
		})
		if err != nil {
			s.operations.WithLabelValues("drain", "error").Inc()
			s.logger.Error("receive failed during drain", err, logging.LogFields{"removed": removed})
			return removed, false
		}
		if len(received.Messages) == 0 {
			s.operations.WithLabelValues("drain", "ok").Inc()
			s.logger.Info("dead letter queue drained", logging.LogFields{"removed": removed})
			return removed, true
		}

		entries := make([]types.DeleteMessageBatchRequestEntry, 0, len(received.Messages))
		for i, m := range received.Messages {
			entries = append(entries, types.DeleteMessageBatchRequestEntry{
				Id:            aws.String(fmt.Sprintf("entry-%d", i)),
				ReceiptHandle: m.ReceiptHandle,
			})
		}
		deleted, err := s.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
			QueueUrl: aws.String(addresses.dlqURL),
			Entries:  entries,
		})
		if err != nil {
			s.operations.WithLabelValues("drain", "error").Inc()
			s.logger.Error("batch delete failed during drain", err, logging.LogFields{"removed": removed})
			return removed, false
		}

		removed += len(deleted.Successful)
		s.purged.Add(float64(len(deleted.Successful)))
		s.logger.Info("drained batch from dead letter queue", logging.LogFields{"removed": removed})

		if len(deleted.Failed) > 0 {
			s.operations.WithLabelValues("drain", "partial-failure").Inc()
			s.logger.Error("batch delete partially failed, stopping drain", nil, logging.LogFields{
				"removed": removed,
				"failed":  len(deleted.Failed),
			})
			return removed, false
		}
	}
}
