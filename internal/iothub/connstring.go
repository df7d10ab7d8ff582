package iothub

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/systmms/keyrelay/pkg/devicechannel"
)

// ConnectionString is a parsed IoT Hub service connection string:
//
//	HostName=<hub>.azure-devices.net;SharedAccessKeyName=<policy>;SharedAccessKey=<base64>
type ConnectionString struct {
	HostName            string
	SharedAccessKeyName string
	SharedAccessKey     string
}

// ParseConnectionString parses s. Errors wrap
// devicechannel.ErrInvalidDescriptor.
func ParseConnectionString(s string) (ConnectionString, error) {
	var cs ConnectionString
	if strings.TrimSpace(s) == "" {
		return cs, fmt.Errorf("%w: empty connection string", devicechannel.ErrInvalidDescriptor)
	}

	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return ConnectionString{}, fmt.Errorf("%w: segment %q is not key=value", devicechannel.ErrInvalidDescriptor, key)
		}
		switch strings.ToLower(key) {
		case "hostname":
			cs.HostName = value
		case "sharedaccesskeyname":
			cs.SharedAccessKeyName = value
		case "sharedaccesskey":
			cs.SharedAccessKey = value
		}
	}

	var missing []string
	if cs.HostName == "" {
		missing = append(missing, "HostName")
	}
	if cs.SharedAccessKeyName == "" {
		missing = append(missing, "SharedAccessKeyName")
	}
	if cs.SharedAccessKey == "" {
		missing = append(missing, "SharedAccessKey")
	}
	if len(missing) > 0 {
		return ConnectionString{}, fmt.Errorf("%w: missing %s", devicechannel.ErrInvalidDescriptor, strings.Join(missing, ", "))
	}
	if _, err := base64.StdEncoding.DecodeString(cs.SharedAccessKey); err != nil {
		return ConnectionString{}, fmt.Errorf("%w: SharedAccessKey is not base64", devicechannel.ErrInvalidDescriptor)
	}
	return cs, nil
}

// String renders the connection string with the key masked.
func (cs ConnectionString) String() string {
	return fmt.Sprintf("HostName=%s;SharedAccessKeyName=%s;SharedAccessKey=[REDACTED]", cs.HostName, cs.SharedAccessKeyName)
}
