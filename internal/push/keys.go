package push

import (
	"errors"
	"fmt"
	"strings"

	"namingpush/internal/naming"
)

// TaskKeySeparator joins the parts of a task merge key.
const TaskKeySeparator = "$"

var ErrInvalidParam = errors.New("invalid parameter")

// TaskKey builds the merge key "clientID$pattern" of a fuzzy init task.
func TaskKey(clientID, pattern string) (string, error) {
	if err := checkKeyPart("client id", clientID); err != nil {
		return "", err
	}
	if err := checkKeyPart("pattern", pattern); err != nil {
		return "", err
	}
	return clientID + TaskKeySeparator + pattern, nil
}

// ChangeTaskKey builds "clientID$pattern$serviceKey" for a fuzzy change task.
func ChangeTaskKey(clientID, pattern string, svc naming.Service) (string, error) {
	base, err := TaskKey(clientID, pattern)
	if err != nil {
		return "", err
	}
	return base + TaskKeySeparator + svc.Key(), nil
}

// SplitTaskKey inverts TaskKey. The optional third part is the service key
// of a change task.
func SplitTaskKey(key string) (clientID, pattern, serviceKey string, err error) {
	parts := strings.SplitN(key, TaskKeySeparator, 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", fmt.Errorf("%w: malformed task key %q", ErrInvalidParam, key)
	}
	if len(parts) == 3 {
		serviceKey = parts[2]
	}
	return parts[0], parts[1], serviceKey, nil
}

// ServiceTaskKey is the key of a service-wide push task.
func ServiceTaskKey(svc naming.Service) string { return svc.Key() }

// ClientTaskKey is the key of a push task scoped to one client.
func ClientTaskKey(svc naming.Service, clientID string) string {
	return svc.Key() + TaskKeySeparator + clientID
}

func checkKeyPart(what, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: %s is blank", ErrInvalidParam, what)
	}
	if strings.Contains(v, TaskKeySeparator) {
		return fmt.Errorf("%w: %s %q contains %q", ErrInvalidParam, what, v, TaskKeySeparator)
	}
	return nil
}
