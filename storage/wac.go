package storage

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ruteri/pod-consent-gateway/interfaces"
)

var (
	wacAgentRe = regexp.MustCompile(`acl:agent\s+<([^>]+)>`)
	wacModeRe  = regexp.MustCompile(`acl:(Read|Write|Append|Control)\b`)
)

func wacModes(modes interfaces.AccessModes, control bool) string {
	var parts []string
	if modes.Read {
		parts = append(parts, "acl:Read")
	}
	if modes.Write {
		parts = append(parts, "acl:Write")
	}
	if modes.Append {
		parts = append(parts, "acl:Append")
	}
	if control {
		parts = append(parts, "acl:Control")
	}
	return strings.Join(parts, ", ")
}

// renderWAC renders the access as a Web Access Control document. The owner, if known,
// keeps full control.
func renderWAC(resourceURL string, owner interfaces.UserIdentity, access interfaces.Access) []byte {
	var b strings.Builder
	b.WriteString("@prefix acl: <http://www.w3.org/ns/auth/acl#>.\n")
	b.WriteString("@prefix foaf: <http://xmlns.com/foaf/0.1/>.\n")

	target := "acl:accessTo <" + resourceURL + ">"
	if isContainer(resourceURL) {
		target += ";\n    acl:default <" + resourceURL + ">"
	}

	block := func(id, subject, modes string) {
		fmt.Fprintf(&b, "\n<#%s> a acl:Authorization;\n    %s;\n    %s;\n    acl:mode %s.\n", id, subject, target, modes)
	}

	if owner != "" {
		block("owner", "acl:agent <"+owner.String()+">", wacModes(interfaces.AccessModes{Read: true, Write: true, Append: true}, true))
	}
	if !access.Public.None() {
		block("public", "acl:agentClass foaf:Agent", wacModes(access.Public, false))
	}

	agents := make([]string, 0, len(access.Agents))
	for agent := range access.Agents {
		agents = append(agents, agent.String())
	}
	sort.Strings(agents)
	for i, agent := range agents {
		modes := access.Agents[interfaces.UserIdentity(agent)]
		if modes.None() {
			continue
		}
		block(fmt.Sprintf("agent-%d", i), "acl:agent <"+agent+">", wacModes(modes, false))
	}

	return []byte(b.String())
}

// parseWAC reads authorizations back from a Web Access Control document. Authorizations
// carrying acl:Control belong to the owner and are not reported.
func parseWAC(doc []byte) interfaces.Access {
	access := emptyAccess()

	for _, block := range strings.Split(string(doc), "\n\n") {
		if !strings.Contains(block, "acl:Authorization") {
			continue
		}

		var modes interfaces.AccessModes
		control := false
		for _, line := range strings.Split(block, "\n") {
			if !strings.Contains(line, "acl:mode") {
				continue
			}
			for _, m := range wacModeRe.FindAllStringSubmatch(line, -1) {
				switch m[1] {
				case "Read":
					modes.Read = true
				case "Write":
					modes.Write = true
				case "Append":
					modes.Append = true
				case "Control":
					control = true
				}
			}
		}
		if control || modes.None() {
			continue
		}

		if strings.Contains(block, "foaf:Agent") {
			access.Public = modes
			continue
		}
		for _, m := range wacAgentRe.FindAllStringSubmatch(block, -1) {
			access.Agents[interfaces.UserIdentity(m[1])] = modes
		}
	}

	return access
}
