package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	commonmqtt "github.com/law4percent/Chick-Up/internal/common/mqtt"
	"github.com/law4percent/Chick-Up/internal/domain"
)

// DefaultTopicPrefix root of the per-device command topics
const DefaultTopicPrefix = "chickup/devices"

// Broker subset of the MQTT client used here
type Broker interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler commonmqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// Command message sent to a feeder for one dispatched action
type Command struct {
	LogID         string              `json:"logId"`
	UserID        string              `json:"userId"`
	DeviceID      string              `json:"deviceId"`
	Type          domain.ActuatorType `json:"type"`
	Action        domain.ActionKind   `json:"action"`
	VolumePercent float64             `json:"volumePercent"`
	Timestamp     int64               `json:"timestamp"`
}

// CommandNotifier fans dispatched actions out to devices over MQTT
type CommandNotifier struct {
	broker      Broker
	topicPrefix string
	qos         byte
	logger      *zap.Logger
}

func NewCommandNotifier(broker Broker, topicPrefix string, qos byte, logger *zap.Logger) *CommandNotifier {
	topicPrefix = strings.TrimSuffix(topicPrefix, "/")
	if topicPrefix == "" {
		topicPrefix = DefaultTopicPrefix
	}
	return &CommandNotifier{
		broker:      broker,
		topicPrefix: topicPrefix,
		qos:         qos,
		logger:      logger,
	}
}

// CommandTopic <prefix>/<deviceId>/commands
func (n *CommandNotifier) CommandTopic(deviceID string) string {
	return n.topicPrefix + "/" + deviceID + "/commands"
}

// PublishCommand implements service.CommandPublisher
func (n *CommandNotifier) PublishCommand(ctx context.Context, deviceID string, log domain.ActionLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := domain.ValidateID("deviceId", deviceID); err != nil {
		return err
	}

	payload, err := json.Marshal(Command{
		LogID:         log.ID,
		UserID:        log.UserID,
		DeviceID:      deviceID,
		Type:          log.Type,
		Action:        log.Action,
		VolumePercent: log.VolumePercent,
		Timestamp:     log.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	topic := n.CommandTopic(deviceID)
	if err := n.broker.Publish(topic, n.qos, false, payload); err != nil {
		return fmt.Errorf("failed to publish command: %w", err)
	}
	n.logger.Debug("Command published",
		zap.String("topic", topic),
		zap.String("log_id", log.ID),
		zap.String("type", string(log.Type)),
	)
	return nil
}

// SubscribeCommands delivers decoded commands for deviceID until
// UnsubscribeCommands; undecodable payloads are reported to the broker's log
func (n *CommandNotifier) SubscribeCommands(deviceID string, handler func(Command)) error {
	if err := domain.ValidateID("deviceId", deviceID); err != nil {
		return err
	}
	return n.broker.Subscribe(n.CommandTopic(deviceID), n.qos, func(topic string, payload []byte) error {
		var cmd Command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return fmt.Errorf("invalid command on %s: %w", topic, err)
		}
		if _, err := domain.ParseActuatorType(string(cmd.Type)); err != nil {
			return fmt.Errorf("invalid command on %s: %w", topic, err)
		}
		handler(cmd)
		return nil
	})
}

func (n *CommandNotifier) UnsubscribeCommands(deviceID string) error {
	return n.broker.Unsubscribe(n.CommandTopic(deviceID))
}
