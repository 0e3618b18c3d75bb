package opcua

import (
	"errors"
	"fmt"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/ghalamif/uabridge/internal/ports"
)

var errMissingDataValue = errors.New("notification carries no data value")

// decodeNotification turns one gopcua publish result into stream items.
func decodeNotification(data *opcua.PublishNotificationData) []ports.Notification {
	if data == nil {
		return nil
	}
	if data.Error != nil {
		if isTermination(data.Error) {
			return []ports.Notification{{Kind: ports.NotificationTerminated, Err: data.Error}}
		}
		return []ports.Notification{{Kind: ports.NotificationError, Err: data.Error}}
	}

	switch v := data.Value.(type) {
	case *ua.DataChangeNotification:
		out := make([]ports.Notification, 0, len(v.MonitoredItems))
		for _, item := range v.MonitoredItems {
			if item == nil {
				continue
			}
			out = append(out, ports.Notification{
				Kind:   ports.NotificationDataChange,
				Change: decodeDataValue(item.ClientHandle, item.Value),
			})
		}
		return out
	case *ua.StatusChangeNotification:
		if v.Status == ua.StatusOK {
			return []ports.Notification{{Kind: ports.NotificationKeepAlive}}
		}
		return []ports.Notification{{Kind: ports.NotificationTerminated, Err: v.Status}}
	case *ua.EventNotificationList:
		return nil
	default:
		return []ports.Notification{{
			Kind: ports.NotificationError,
			Err:  fmt.Errorf("unsupported notification type %T", data.Value),
		}}
	}
}

func decodeDataValue(handle uint32, dv *ua.DataValue) ports.DataChange {
	change := ports.DataChange{Handle: handle}
	if dv == nil {
		change.Status = errMissingDataValue
		return change
	}
	change.ServerTimestamp = dv.ServerTimestamp
	change.SourceTimestamp = dv.SourceTimestamp
	if dv.Status != ua.StatusOK {
		change.Status = dv.Status
	}
	if dv.Value != nil {
		change.Value = dv.Value.Value()
	}
	return change
}

func isTermination(err error) bool {
	return errors.Is(err, ua.StatusBadSubscriptionIDInvalid) ||
		errors.Is(err, ua.StatusBadSessionIDInvalid) ||
		errors.Is(err, ua.StatusBadSessionClosed)
}
