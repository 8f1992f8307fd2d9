package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ruteri/pod-consent-gateway/interfaces"
)

const aclSuffix = ".acl"

// aclURL returns the companion access-control resource of a resource or container.
func aclURL(resourceURL string) string {
	return resourceURL + aclSuffix
}

func isACL(resourceURL string) bool {
	return strings.HasSuffix(resourceURL, aclSuffix)
}

func isContainer(resourceURL string) bool {
	return strings.HasSuffix(resourceURL, "/")
}

func encodeAccess(access interfaces.Access) ([]byte, error) {
	data, err := json.Marshal(access)
	if err != nil {
		return nil, fmt.Errorf("failed to encode access: %w", err)
	}
	return data, nil
}

func decodeAccess(data []byte) (interfaces.Access, error) {
	var access interfaces.Access
	if err := json.Unmarshal(data, &access); err != nil {
		return interfaces.Access{}, fmt.Errorf("failed to decode access: %w", err)
	}
	if access.Agents == nil {
		access.Agents = map[interfaces.UserIdentity]interfaces.AccessModes{}
	}
	return access, nil
}

func emptyAccess() interfaces.Access {
	return interfaces.Access{Agents: map[interfaces.UserIdentity]interfaces.AccessModes{}}
}
